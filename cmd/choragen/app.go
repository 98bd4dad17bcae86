package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jlneal/choragen-sub010/internal/config"
	"github.com/jlneal/choragen-sub010/internal/credentials"
	"github.com/jlneal/choragen-sub010/internal/events"
	"github.com/jlneal/choragen-sub010/internal/gate"
	"github.com/jlneal/choragen-sub010/internal/git"
	"github.com/jlneal/choragen-sub010/internal/logging"
	"github.com/jlneal/choragen-sub010/internal/scope"
	"github.com/jlneal/choragen-sub010/internal/session"
	"github.com/jlneal/choragen-sub010/internal/store"
	"github.com/jlneal/choragen-sub010/internal/tools"
	"github.com/jlneal/choragen-sub010/internal/workflow"
)

// app wires the full dependency graph once per invocation.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	creds     *credentials.Resolver
	bus       *events.Bus
	store     store.Store
	repo      *git.Repo
	registry  *tools.Registry
	gate      *gate.Gate
	locks     *scope.LockManager
	sessions  *session.Factory
	sessStore *session.FileStore
	engine    *workflow.Engine
}

func newApp(configPath string, verbose bool) (*app, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if cfg.Project.Root == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.Project.Root = cwd
		}
	}

	logger := logging.New()
	if verbose {
		logger.SetLevel(logging.LevelDebug)
	}

	creds, err := credentials.NewResolver()
	if err != nil {
		return nil, err
	}

	var sinks []events.Sink
	jsonl, err := events.NewJSONLSink(cfg.Events.LogPath)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, jsonl)
	if cfg.Events.NATSURL != "" {
		natsSink, err := events.NewNATSSink(cfg.Events.NATSURL, cfg.Events.NATSSubject)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, natsSink)
	}
	bus := events.NewBus(cfg.Events.BufferSize, sinks...)

	st, err := store.OpenSQLite(cfg.Storage.DBPath)
	if err != nil {
		bus.Close()
		return nil, err
	}

	repo := git.New(cfg.Project.Root)

	locks, err := scope.NewLockManager(cfg.Storage.LockDir)
	if err != nil {
		bus.Close()
		st.Close()
		return nil, err
	}

	// The spawn function closes over the factory, which is built after
	// the registry it feeds.
	var factory *session.Factory
	registry := tools.New(tools.Deps{
		Root:   cfg.Project.Root,
		Store:  st,
		Repo:   repo,
		Events: bus,
		Spawn: func(ctx context.Context, role, goal string) (string, error) {
			if factory == nil {
				return "", fmt.Errorf("nested sessions are not enabled")
			}
			return factory.Spawn(ctx, role, goal)
		},
	})

	g, err := gate.New(registry, cfg.Roles, cfg.Workflow.StageTools)
	if err != nil {
		bus.Close()
		st.Close()
		return nil, err
	}

	sessStore, err := session.NewFileStore(cfg.Session.Dir)
	if err != nil {
		bus.Close()
		st.Close()
		return nil, err
	}
	factory = session.NewFactory(cfg, creds, g, registry, sessStore, bus)

	wfStore, err := workflow.NewFileStore(cfg.Workflow.StateDir)
	if err != nil {
		bus.Close()
		st.Close()
		return nil, err
	}
	engine := workflow.NewEngine(cfg, wfStore, factory, st, bus)

	return &app{
		cfg:       cfg,
		logger:    logger,
		creds:     creds,
		bus:       bus,
		store:     st,
		repo:      repo,
		registry:  registry,
		gate:      g,
		locks:     locks,
		sessions:  factory,
		sessStore: sessStore,
		engine:    engine,
	}, nil
}

func (a *app) Close() {
	a.locks.ReleaseAll()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store_close_failed", map[string]interface{}{"error": err.Error()})
	}
	if err := a.bus.Close(); err != nil {
		a.logger.Warn("bus_close_failed", map[string]interface{}{"error": err.Error()})
	}
}
