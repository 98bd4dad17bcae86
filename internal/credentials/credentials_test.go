package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolverFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.toml")
	content := `
[anthropic]
api_key = "sk-ant-file"

[openai]
api_key = "sk-oa-file"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := NewResolverFromFile(path)
	if err != nil {
		t.Fatalf("NewResolverFromFile: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	if got := r.Resolve("anthropic"); got != "sk-ant-file" {
		t.Errorf("Resolve(anthropic) = %q, want file key", got)
	}

	// Environment wins over file.
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	if got := r.Resolve("anthropic"); got != "sk-ant-env" {
		t.Errorf("Resolve(anthropic) = %q, want env key", got)
	}

	// OpenAI-compatible endpoints fall back to the openai key.
	t.Setenv("OPENAI_API_KEY", "")
	if got := r.Resolve("openrouter"); got != "sk-oa-file" {
		t.Errorf("Resolve(openrouter) = %q, want openai file key", got)
	}
}

func TestMustResolveMissing(t *testing.T) {
	r := &Resolver{keys: map[string]string{}}
	t.Setenv("MISTRAL_API_KEY", "")

	_, err := r.MustResolve("mistral")
	if err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestResolveUnknownProvider(t *testing.T) {
	r := &Resolver{keys: map[string]string{}}
	if got := r.Resolve("nonexistent"); got != "" {
		t.Errorf("Resolve(nonexistent) = %q, want empty", got)
	}
}
