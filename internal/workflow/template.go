package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Gate types. post_commit is structurally a gate in templates but
// behaves as a stage-exit hook: it fires its commands after the stage
// completes and never holds up advancement.
const (
	GateAuto             = "auto"
	GateHumanApproval    = "human_approval"
	GateChainComplete    = "chain_complete"
	GateVerificationPass = "verification_pass"
	GatePostCommit       = "post_commit"
)

// Template is a workflow definition loaded from YAML.
type Template struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Stages      []StageDef `yaml:"stages"`
}

// StageDef is one stage in a template.
type StageDef struct {
	Name string `yaml:"name"`
	// Type is the stage type used for gate-side tool filtering
	// (e.g. "implement", "review"). Optional.
	Type string `yaml:"type"`
	// Role runs an agent session for this stage. Optional; a stage
	// without a role only evaluates its gate.
	Role string  `yaml:"role"`
	Goal string  `yaml:"goal"`
	Gate GateDef `yaml:"gate"`
}

// GateDef configures a stage's gate.
type GateDef struct {
	Type string `yaml:"type"`
	// Prompt is shown to the approver for human_approval gates.
	Prompt string `yaml:"prompt"`
	// Commands for verification_pass (must all succeed) and
	// post_commit (fired after stage exit) gates.
	Commands []string `yaml:"commands"`
	// AllowDiscard lets a human_approval gate discard the whole
	// workflow instead of advancing.
	AllowDiscard bool `yaml:"allow_discard"`
}

var gateTypes = map[string]bool{
	GateAuto:             true,
	GateHumanApproval:    true,
	GateChainComplete:    true,
	GateVerificationPass: true,
	GatePostCommit:       true,
}

// LoadTemplate reads and validates a template from a YAML file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", filepath.Base(path), err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("template %s: %w", filepath.Base(path), err)
	}
	return &t, nil
}

// LoadTemplateByName loads <name>.yaml from the templates directory.
func LoadTemplateByName(dir, name string) (*Template, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return LoadTemplate(path)
		}
	}
	return nil, fmt.Errorf("template %q not found in %s", name, dir)
}

// Validate checks template structure. Gate defaults to auto when
// omitted.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if len(t.Stages) == 0 {
		return fmt.Errorf("template has no stages")
	}
	seen := map[string]bool{}
	for i := range t.Stages {
		s := &t.Stages[i]
		if s.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true

		if s.Gate.Type == "" {
			s.Gate.Type = GateAuto
		}
		if !gateTypes[s.Gate.Type] {
			return fmt.Errorf("stage %q has unknown gate type %q", s.Name, s.Gate.Type)
		}
		if s.Gate.Type == GateVerificationPass && len(s.Gate.Commands) == 0 {
			return fmt.Errorf("stage %q verification_pass gate has no commands", s.Name)
		}
		if s.Gate.Type == GateAuto && len(s.Gate.Commands) > 0 {
			return fmt.Errorf("stage %q auto gate must not carry commands", s.Name)
		}
	}
	return nil
}

// ListTemplates returns the template names available in a directory.
func ListTemplates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".yaml") {
			names = append(names, strings.TrimSuffix(name, ".yaml"))
		} else if strings.HasSuffix(name, ".yml") {
			names = append(names, strings.TrimSuffix(name, ".yml"))
		}
	}
	return names, nil
}
