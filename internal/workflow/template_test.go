package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "full.yaml")
	os.WriteFile(path, []byte(`
name: full
description: end to end pipeline
stages:
  - name: design
    type: design
    role: architect
    goal: "Draft the design"
    gate:
      type: human_approval
      prompt: "Approve the design?"
      allow_discard: true
  - name: implement
    type: implement
    role: implementer
    gate: {type: chain_complete}
  - name: verify
    gate:
      type: verification_pass
      commands: ["go test ./..."]
  - name: commit
    gate:
      type: post_commit
      commands: ["echo committed"]
`), 0o644)

	tmpl, err := LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	if tmpl.Name != "full" || len(tmpl.Stages) != 4 {
		t.Fatalf("parsed %s with %d stages", tmpl.Name, len(tmpl.Stages))
	}
	if !tmpl.Stages[0].Gate.AllowDiscard {
		t.Error("allow_discard not parsed")
	}
	if tmpl.Stages[2].Gate.Commands[0] != "go test ./..." {
		t.Errorf("commands = %v", tmpl.Stages[2].Gate.Commands)
	}
}

func TestTemplateValidation(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    Template
		wantErr string
	}{
		{
			name:    "no name",
			tmpl:    Template{Stages: []StageDef{{Name: "a"}}},
			wantErr: "name is required",
		},
		{
			name:    "no stages",
			tmpl:    Template{Name: "t"},
			wantErr: "no stages",
		},
		{
			name: "duplicate stage",
			tmpl: Template{Name: "t", Stages: []StageDef{
				{Name: "a"}, {Name: "a"},
			}},
			wantErr: "duplicate",
		},
		{
			name: "unknown gate type",
			tmpl: Template{Name: "t", Stages: []StageDef{
				{Name: "a", Gate: GateDef{Type: "magic"}},
			}},
			wantErr: "unknown gate type",
		},
		{
			name: "verification without commands",
			tmpl: Template{Name: "t", Stages: []StageDef{
				{Name: "a", Gate: GateDef{Type: GateVerificationPass}},
			}},
			wantErr: "no commands",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tmpl.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestGateDefaultsToAuto(t *testing.T) {
	tmpl := Template{Name: "t", Stages: []StageDef{{Name: "a"}}}
	if err := tmpl.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if tmpl.Stages[0].Gate.Type != GateAuto {
		t.Errorf("gate type = %q, want auto", tmpl.Stages[0].Gate.Type)
	}
}

func TestListTemplates(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "one.yaml"), []byte("name: one\nstages: [{name: a}]"), 0o644)
	os.WriteFile(filepath.Join(dir, "two.yml"), []byte("name: two\nstages: [{name: a}]"), 0o644)
	os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("x"), 0o644)

	names, err := ListTemplates(dir)
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("names = %v", names)
	}

	if _, err := LoadTemplateByName(dir, "one"); err != nil {
		t.Errorf("LoadTemplateByName: %v", err)
	}
	if _, err := LoadTemplateByName(dir, "missing"); err == nil {
		t.Error("missing template must error")
	}
}
