// Package gate is the single enforcement point for tool invocation.
// Every tool call a session makes passes through Authorize before
// dispatch; a denial becomes the tool's returned error so the model
// can self-correct, never an exception that aborts the session.
package gate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/jlneal/choragen-sub010/internal/config"
	"github.com/jlneal/choragen-sub010/internal/logging"
	"github.com/jlneal/choragen-sub010/internal/scope"
	"github.com/jlneal/choragen-sub010/internal/tools"
)

// DeniedError is the error form of a governance denial. Its message is
// returned to the model as the tool result.
type DeniedError struct {
	Tool   string
	Role   string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("policy denied: %s", e.Reason)
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err returns nil for an allow and a *DeniedError for a deny.
func (d Decision) err(tool, role string) error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Tool: tool, Role: role, Reason: d.Reason}
}

// Request carries one tool call to authorize. TaskScope is the current
// task's declared file scope; nil means the session is not bound to a
// task and scope checks are skipped.
type Request struct {
	Role      string
	Stage     string
	ToolID    string
	Args      map[string]interface{}
	TaskScope []string
}

// ToolSet is the resolved set of tool identifiers a session may use.
type ToolSet map[string]bool

// IDs returns the set's identifiers, sorted.
func (s ToolSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Gate authorizes tool calls by role and workflow stage type.
type Gate struct {
	registry     *tools.Registry
	roles        map[string]config.Role
	stageFilters map[string][]string // stage type -> allowed tool ids (subtractive)
	logger       *logging.Logger
}

// destructiveGit patterns are rejected regardless of role. The registry
// offers no force-push or branch-deletion tool, so the only route to
// them is the shell.
var destructiveGit = []*regexp.Regexp{
	regexp.MustCompile(`\bgit\s+push\b[^|;&]*(\s--force\b|\s-f\b|\s--force-with-lease\b)`),
	regexp.MustCompile(`\bgit\s+push\b[^|;&]*\s:\S`), // push empty ref = remote branch delete
	regexp.MustCompile(`\bgit\s+branch\b[^|;&]*(\s-D\b|\s-d\b|\s--delete\b)`),
	regexp.MustCompile(`\bgit\s+update-ref\s+-d\b`),
}

// New creates a gate over the registry and role table. Every tool
// identifier referenced by a role or a stage filter must exist in the
// registry; an unknown identifier is a construction error.
func New(registry *tools.Registry, roles map[string]config.Role, stageFilters map[string][]string) (*Gate, error) {
	for name, role := range roles {
		if err := registry.Validate(role.AllowedTools); err != nil {
			return nil, fmt.Errorf("role %s: %w", name, err)
		}
	}
	for stage, ids := range stageFilters {
		if err := registry.Validate(ids); err != nil {
			return nil, fmt.Errorf("stage filter %s: %w", stage, err)
		}
	}
	return &Gate{
		registry:     registry,
		roles:        roles,
		stageFilters: stageFilters,
		logger:       logging.New().WithComponent("gate"),
	}, nil
}

// Resolve returns the tool set for a role, optionally narrowed by a
// stage type. Stage filtering is subtractive only: the result is always
// a subset of the role's set.
func (g *Gate) Resolve(role, stage string) (ToolSet, error) {
	rc, ok := g.roles[role]
	if !ok {
		return nil, fmt.Errorf("role %q is not defined", role)
	}

	set := ToolSet{}
	for _, id := range rc.AllowedTools {
		set[id] = true
	}

	if stage != "" {
		if allowed, ok := g.stageFilters[stage]; ok {
			stageSet := map[string]bool{}
			for _, id := range allowed {
				stageSet[id] = true
			}
			for id := range set {
				if !stageSet[id] {
					delete(set, id)
				}
			}
		}
	}
	return set, nil
}

// Definitions returns the LLM-facing definitions for a resolved set.
func (g *Gate) Definitions(set ToolSet) []tools.Definition {
	return g.registry.Definitions(set.IDs())
}

// Authorize checks a single tool call. It returns nil to allow, or a
// *DeniedError whose message is usable as the tool result.
func (g *Gate) Authorize(req Request) error {
	d := g.decide(req)
	if !d.Allowed {
		g.logger.GateDenied(req.ToolID, req.Role, d.Reason)
	}
	return d.err(req.ToolID, req.Role)
}

func (g *Gate) decide(req Request) Decision {
	set, err := g.Resolve(req.Role, req.Stage)
	if err != nil {
		return Decision{Reason: err.Error()}
	}

	tool := g.registry.Get(req.ToolID)
	if tool == nil {
		return Decision{Reason: fmt.Sprintf("unknown tool %s", req.ToolID)}
	}

	if !set[req.ToolID] {
		if req.Stage != "" {
			return Decision{Reason: fmt.Sprintf("tool %s is not allowed for role %s in stage %s", req.ToolID, req.Role, req.Stage)}
		}
		return Decision{Reason: fmt.Sprintf("tool %s is not allowed for role %s", req.ToolID, req.Role)}
	}

	// Destructive git operations are rejected categorically.
	if req.ToolID == "shell:run" {
		if cmd, ok := req.Args["command"].(string); ok {
			for _, re := range destructiveGit {
				if re.MatchString(cmd) {
					return Decision{Reason: "destructive git operations (force push, branch deletion) are never permitted"}
				}
			}
		}
	}

	// Filesystem-mutating tools must stay inside the working tree and
	// the task's declared file scope.
	if tool.Mutates() && tool.Category() == tools.CategoryFS {
		if d := g.checkPath(req, "path"); !d.Allowed {
			return d
		}
	}
	if req.ToolID == "git:commit" {
		if d := g.checkCommitPaths(req); !d.Allowed {
			return d
		}
	}

	return Decision{Allowed: true}
}

// checkPath validates a single path argument against the working tree
// and the task scope.
func (g *Gate) checkPath(req Request, key string) Decision {
	path, ok := req.Args[key].(string)
	if !ok || path == "" {
		// Missing argument is the tool's own validation error.
		return Decision{Allowed: true}
	}
	return g.pathDecision(req, path)
}

func (g *Gate) pathDecision(req Request, path string) Decision {
	if filepath.IsAbs(path) {
		return Decision{Reason: fmt.Sprintf("path %s is outside the working tree", path)}
	}
	clean := filepath.ToSlash(filepath.Clean(path))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return Decision{Reason: fmt.Sprintf("path %s is outside the working tree", path)}
	}
	if req.TaskScope != nil && !scope.PathInScope(clean, req.TaskScope) {
		return Decision{Reason: fmt.Sprintf("path %s is outside the task file scope %v", path, req.TaskScope)}
	}
	return Decision{Allowed: true}
}

// checkCommitPaths validates every staged path of a git:commit call.
func (g *Gate) checkCommitPaths(req Request) Decision {
	raw, ok := req.Args["paths"].([]interface{})
	if !ok {
		return Decision{Allowed: true}
	}
	for _, rp := range raw {
		p, ok := rp.(string)
		if !ok {
			continue
		}
		if d := g.pathDecision(req, p); !d.Allowed {
			return d
		}
	}
	return Decision{Allowed: true}
}
