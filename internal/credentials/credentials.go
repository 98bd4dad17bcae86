// Package credentials resolves provider API keys from the environment
// and from credentials.toml. Resolution is explicit: callers construct
// a Resolver and thread it into provider construction, there is no
// ambient global lookup.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// envVars maps provider names to their conventional environment variables.
var envVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"google":    "GOOGLE_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
}

// fileCreds mirrors the credentials.toml layout.
type fileCreds struct {
	Anthropic *providerCreds `toml:"anthropic"`
	OpenAI    *providerCreds `toml:"openai"`
	Google    *providerCreds `toml:"google"`
	Mistral   *providerCreds `toml:"mistral"`
}

type providerCreds struct {
	APIKey string `toml:"api_key"`
}

// Resolver resolves API keys for providers. Environment variables win
// over the credentials file.
type Resolver struct {
	keys   map[string]string
	source string
}

// StandardPaths returns the credential file locations in priority order.
func StandardPaths() []string {
	paths := []string{"credentials.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "choragen", "credentials.toml"))
		paths = append(paths, filepath.Join(home, ".choragen", "credentials.toml"))
	}
	return paths
}

// NewResolver loads the first credentials file found on the standard
// paths. A missing file is not an error; the resolver then only sees
// environment variables.
func NewResolver() (*Resolver, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			return NewResolverFromFile(path)
		}
	}
	return &Resolver{keys: map[string]string{}}, nil
}

// NewResolverFromFile loads credentials from a specific file.
func NewResolverFromFile(path string) (*Resolver, error) {
	var fc fileCreds
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("load credentials %s: %w", path, err)
	}

	keys := map[string]string{}
	for name, pc := range map[string]*providerCreds{
		"anthropic": fc.Anthropic,
		"openai":    fc.OpenAI,
		"google":    fc.Google,
		"mistral":   fc.Mistral,
	} {
		if pc != nil && pc.APIKey != "" {
			keys[name] = pc.APIKey
		}
	}
	return &Resolver{keys: keys, source: path}, nil
}

// Source returns the credentials file the resolver loaded, if any.
func (r *Resolver) Source() string {
	return r.source
}

// Resolve returns the API key for a provider: environment variable
// first, then the credentials file. Empty string means not found.
func (r *Resolver) Resolve(provider string) string {
	provider = strings.ToLower(provider)
	if env, ok := envVars[provider]; ok {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	// openai-compatible endpoints fall back to the openai key
	if v := r.keys[provider]; v != "" {
		return v
	}
	switch provider {
	case "openrouter", "litellm", "ollama", "lmstudio", "openai-compat":
		return r.keys["openai"]
	}
	return ""
}

// MustResolve resolves a key or returns an error naming the provider
// and the places it looked.
func (r *Resolver) MustResolve(provider string) (string, error) {
	if key := r.Resolve(provider); key != "" {
		return key, nil
	}
	env := envVars[strings.ToLower(provider)]
	if env == "" {
		env = strings.ToUpper(provider) + "_API_KEY"
	}
	return "", fmt.Errorf("no API key for provider %s: set %s or add [%s] api_key to credentials.toml", provider, env, provider)
}
