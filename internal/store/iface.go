package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a request, chain, or task does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for requests, chains, and tasks.
// Implementations: *SQLiteStore and *MemoryStore (tests).
type Store interface {
	// Requests
	CreateRequest(ctx context.Context, title, description string) (*Request, error)
	GetRequest(ctx context.Context, id string) (*Request, error)
	UpdateRequestStatus(ctx context.Context, id, status string) error
	ListRequests(ctx context.Context) ([]Request, error)

	// Chains
	CreateChain(ctx context.Context, requestID, title string, fileScope []string) (*Chain, error)
	GetChain(ctx context.Context, id string) (*Chain, error)
	UpdateChainStatus(ctx context.Context, id, status string) error
	ListChains(ctx context.Context, status string) ([]Chain, error)
	// AggregateFileScope returns the union of the chain's declared
	// scope and all its tasks' scopes, deduplicated and sorted.
	AggregateFileScope(ctx context.Context, chainID string) ([]string, error)

	// Tasks
	CreateTask(ctx context.Context, chainID, title, description, role string, fileScope []string) (*Task, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	// TransitionTask moves a task through the status lifecycle,
	// enforcing the transition table. reason is recorded for blocked.
	TransitionTask(ctx context.Context, id, to, reason string) error
	ListTasks(ctx context.Context, chainID string) ([]Task, error)

	Close() error
}
