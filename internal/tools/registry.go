package tools

import (
	"fmt"
	"sort"

	"github.com/jlneal/choragen-sub010/internal/events"
	"github.com/jlneal/choragen-sub010/internal/git"
	"github.com/jlneal/choragen-sub010/internal/store"
)

// Deps are the collaborators the built-in tools execute against.
type Deps struct {
	// Root is the working tree all filesystem tools are anchored to.
	Root string
	// Store backs the task/chain tools. Optional; the tools fail with
	// a tool-result error when absent.
	Store store.Store
	// Repo backs the git tools. Optional.
	Repo *git.Repo
	// Events receives lifecycle events from state-mutating tools.
	Events events.Emitter
	// Spawn starts a nested session for session:spawn. Optional.
	Spawn SpawnFunc
}

// Registry holds all registered tools. The set is closed after New.
type Registry struct {
	tools map[string]Tool
}

// New creates a registry with all built-in tools registered.
func New(deps Deps) *Registry {
	if deps.Events == nil {
		deps.Events = events.NopEmitter{}
	}
	r := &Registry{tools: make(map[string]Tool)}

	r.register(&readTool{root: deps.Root})
	r.register(&writeTool{root: deps.Root})
	r.register(&editTool{root: deps.Root})
	r.register(&globTool{root: deps.Root})
	r.register(&grepTool{root: deps.Root})
	r.register(&lsTool{root: deps.Root})
	r.register(&shellTool{root: deps.Root})
	r.register(&gitStatusTool{repo: deps.Repo})
	r.register(&gitDiffTool{repo: deps.Repo})
	r.register(&gitCommitTool{repo: deps.Repo, events: deps.Events})
	r.register(&gitBranchTool{repo: deps.Repo})
	r.register(&gitLogTool{repo: deps.Repo})
	r.register(&taskGetTool{store: deps.Store})
	r.register(&taskTransitionTool{store: deps.Store, events: deps.Events})
	r.register(&chainTasksTool{store: deps.Store})
	r.register(&spawnTool{spawn: deps.Spawn})

	return r
}

func (r *Registry) register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by identifier, or nil if not registered.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Has reports whether an identifier is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered identifiers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every identifier in ids is registered.
func (r *Registry) Validate(ids []string) error {
	for _, id := range ids {
		if !r.Has(id) {
			return fmt.Errorf("unknown tool identifier %q", id)
		}
	}
	return nil
}

// Definitions returns LLM-facing definitions for the given identifiers.
func (r *Registry) Definitions(ids []string) []Definition {
	var defs []Definition
	for _, id := range ids {
		t, ok := r.tools[id]
		if !ok {
			continue
		}
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
