package setup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jlneal/choragen-sub010/internal/config"
	"github.com/jlneal/choragen-sub010/internal/workflow"
)

func TestRunScaffoldsProject(t *testing.T) {
	dir := t.TempDir()
	if err := Run(dir, "demo"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The generated config parses and carries both roles.
	cfg, err := config.LoadFile(filepath.Join(dir, "choragen.toml"))
	if err != nil {
		t.Fatalf("generated config does not parse: %v", err)
	}
	if cfg.Project.Name != "demo" {
		t.Errorf("project name = %q", cfg.Project.Name)
	}
	if _, err := cfg.GetRole("implementer"); err != nil {
		t.Error("implementer role missing")
	}
	if _, err := cfg.GetRole("reviewer"); err != nil {
		t.Error("reviewer role missing")
	}
	if len(cfg.Workflow.StageTools["review"]) == 0 {
		t.Error("review stage filter missing")
	}

	// The starter template validates.
	tmpl, err := workflow.LoadTemplate(filepath.Join(dir, ".choragen", "workflows", "implement-review.yaml"))
	if err != nil {
		t.Fatalf("starter template invalid: %v", err)
	}
	if len(tmpl.Stages) != 3 {
		t.Errorf("stages = %d", len(tmpl.Stages))
	}
}

func TestRunPreservesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	existing := "[project]\nname = \"keep-me\"\n"
	os.WriteFile(filepath.Join(dir, "choragen.toml"), []byte(existing), 0o644)

	if err := Run(dir, "demo"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "choragen.toml"))
	if !strings.Contains(string(data), "keep-me") {
		t.Error("existing config must not be overwritten")
	}
}
