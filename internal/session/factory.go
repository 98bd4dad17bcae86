package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jlneal/choragen-sub010/internal/config"
	"github.com/jlneal/choragen-sub010/internal/credentials"
	"github.com/jlneal/choragen-sub010/internal/events"
	"github.com/jlneal/choragen-sub010/internal/gate"
	"github.com/jlneal/choragen-sub010/internal/llm"
	"github.com/jlneal/choragen-sub010/internal/logging"
	"github.com/jlneal/choragen-sub010/internal/tools"
)

// maxSpawnDepth bounds nested session:spawn chains.
const maxSpawnDepth = 3

// Factory constructs configured runners per role and implements the
// spawn function backing the session:spawn tool.
type Factory struct {
	cfg      *config.Config
	creds    *credentials.Resolver
	gate     *gate.Gate
	registry *tools.Registry
	store    Store
	events   events.Emitter
	logger   *logging.Logger

	mu        sync.Mutex
	providers map[string]llm.Provider // keyed by role
	depth     int
}

// NewFactory creates a session factory.
func NewFactory(cfg *config.Config, creds *credentials.Resolver, g *gate.Gate, registry *tools.Registry, store Store, emitter events.Emitter) *Factory {
	return &Factory{
		cfg:       cfg,
		creds:     creds,
		gate:      g,
		registry:  registry,
		store:     store,
		events:    emitter,
		logger:    logging.New().WithComponent("session"),
		providers: make(map[string]llm.Provider),
	}
}

// SetProvider pins a provider for a role, bypassing construction from
// config. Used by tests and by callers that already hold a provider.
func (f *Factory) SetProvider(role string, p llm.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[role] = p
}

func (f *Factory) providerFor(role string) (llm.Provider, error) {
	f.mu.Lock()
	if p, ok := f.providers[role]; ok {
		f.mu.Unlock()
		return p, nil
	}
	f.mu.Unlock()

	rl := f.cfg.RoleLLM(role)
	providerName := rl.Provider
	if providerName == "" {
		providerName = llm.InferProviderFromModel(rl.Model)
	}
	key, err := f.creds.MustResolve(providerName)
	if err != nil {
		return nil, err
	}

	retry := llm.RetryConfig{MaxRetries: rl.MaxRetries}
	if rl.RetryBackoff != "" {
		if d, err := time.ParseDuration(rl.RetryBackoff); err == nil {
			retry.MaxBackoff = d
		}
	}
	p, err := llm.NewProvider(llm.Config{
		Provider:    rl.Provider,
		Model:       rl.Model,
		APIKey:      key,
		BaseURL:     rl.BaseURL,
		MaxTokens:   rl.MaxTokens,
		Temperature: rl.Temperature,
		Retry:       retry,
	})
	if err != nil {
		return nil, fmt.Errorf("provider for role %s: %w", role, err)
	}

	f.mu.Lock()
	f.providers[role] = p
	f.mu.Unlock()
	return p, nil
}

// Runner builds a runner for a role with the config's ceilings applied.
func (f *Factory) Runner(role string) (*Runner, error) {
	rc, err := f.cfg.GetRole(role)
	if err != nil {
		return nil, err
	}
	provider, err := f.providerFor(role)
	if err != nil {
		return nil, err
	}
	return &Runner{
		Provider:    provider,
		Gate:        f.gate,
		Registry:    f.registry,
		Store:       f.store,
		Events:      f.events,
		MaxTurns:    f.cfg.RoleMaxTurns(role),
		MaxTokens:   f.cfg.RoleLLM(role).MaxTokens,
		RolePrompt:  rc.Prompt,
		ToolTimeout: time.Duration(f.cfg.Timeouts.Tool) * time.Second,
		Logger:      f.logger,
	}, nil
}

// Start creates and runs a fresh session for a role and goal.
func (f *Factory) Start(ctx context.Context, role, goal string) (*Result, error) {
	runner, err := f.Runner(role)
	if err != nil {
		return nil, err
	}
	sess := NewSession(role, f.cfg.RoleLLM(role).Model, goal)
	return runner.Run(ctx, sess)
}

// Resume reloads a persisted session and continues its turn loop.
func (f *Factory) Resume(ctx context.Context, id string) (*Result, error) {
	sess, err := f.store.Load(id)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusCompleted {
		return &Result{
			SessionID:   sess.ID,
			Success:     true,
			Summary:     sess.Summary,
			Turns:       sess.Turns,
			FileChanges: sess.FileChanges,
		}, nil
	}
	sess.Status = StatusRunning
	sess.Error = ""
	runner, err := f.Runner(sess.Role)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, sess)
}

// Spawn runs a nested session under another role and returns its
// summary. It satisfies tools.SpawnFunc so session:spawn can delegate
// to it. Depth is capped so agents cannot recurse indefinitely.
func (f *Factory) Spawn(ctx context.Context, role, goal string) (string, error) {
	f.mu.Lock()
	if f.depth >= maxSpawnDepth {
		f.mu.Unlock()
		return "", fmt.Errorf("nested session depth limit (%d) reached", maxSpawnDepth)
	}
	f.depth++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.depth--
		f.mu.Unlock()
	}()

	res, err := f.Start(ctx, role, goal)
	if err != nil {
		return "", err
	}
	return res.Summary, nil
}
