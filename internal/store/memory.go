package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*Request
	chains   map[string]*Chain
	tasks    map[string]*Task
	order    []string // task ids in creation order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: map[string]*Request{},
		chains:   map[string]*Chain{},
		tasks:    map[string]*Task{},
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateRequest(ctx context.Context, title, description string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	req := &Request{
		ID:          "req-" + uuid.NewString()[:8],
		Title:       title,
		Description: description,
		Status:      RequestOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.requests[req.ID] = req
	cp := *req
	return &cp, nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryStore) UpdateRequestStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	req.Status = status
	req.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListRequests(ctx context.Context) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Request
	for _, req := range s.requests {
		out = append(out, *req)
	}
	return out, nil
}

func (s *MemoryStore) CreateChain(ctx context.Context, requestID, title string, fileScope []string) (*Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[requestID]; !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	now := time.Now().UTC()
	ch := &Chain{
		ID:        "chain-" + uuid.NewString()[:8],
		RequestID: requestID,
		Title:     title,
		FileScope: append([]string(nil), fileScope...),
		Status:    ChainActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chains[ch.ID] = ch
	cp := *ch
	return &cp, nil
}

func (s *MemoryStore) GetChain(ctx context.Context, id string) (*Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain %s: %w", id, ErrNotFound)
	}
	cp := *ch
	cp.FileScope = append([]string(nil), ch.FileScope...)
	return &cp, nil
}

func (s *MemoryStore) UpdateChainStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chains[id]
	if !ok {
		return fmt.Errorf("chain %s: %w", id, ErrNotFound)
	}
	ch.Status = status
	ch.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListChains(ctx context.Context, status string) ([]Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Chain
	for _, ch := range s.chains {
		if status == "" || ch.Status == status {
			out = append(out, *ch)
		}
	}
	return out, nil
}

func (s *MemoryStore) AggregateFileScope(ctx context.Context, chainID string) ([]string, error) {
	ch, err := s.GetChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.ListTasks(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return aggregateScope(ch, tasks), nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, chainID, title, description, role string, fileScope []string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chains[chainID]; !ok {
		return nil, fmt.Errorf("chain %s: %w", chainID, ErrNotFound)
	}
	now := time.Now().UTC()
	task := &Task{
		ID:          "task-" + uuid.NewString()[:8],
		ChainID:     chainID,
		Title:       title,
		Description: description,
		Role:        role,
		Status:      TaskBacklog,
		FileScope:   append([]string(nil), fileScope...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	cp := *task
	return &cp, nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	cp := *t
	cp.FileScope = append([]string(nil), t.FileScope...)
	return &cp, nil
}

func (s *MemoryStore) TransitionTask(ctx context.Context, id, to, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err := ValidateTransition(t.Status, to); err != nil {
		return fmt.Errorf("task %s: %w", id, err)
	}
	t.Status = to
	if to == TaskBlocked {
		t.BlockedReason = reason
	} else {
		t.BlockedReason = ""
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, chainID string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, id := range s.order {
		t := s.tasks[id]
		if t.ChainID == chainID {
			out = append(out, *t)
		}
	}
	return out, nil
}
