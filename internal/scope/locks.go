package scope

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/jlneal/choragen-sub010/internal/logging"
)

// lockMeta is the JSON record written next to each held lock so other
// processes can see who holds which patterns.
type lockMeta struct {
	ChainID    string    `json:"chain_id"`
	Patterns   []string  `json:"patterns"`
	AcquiredAt time.Time `json:"acquired_at"`
	PID        int       `json:"pid"`
}

// LockManager grants advisory scope locks, one per chain. Locks are
// acquired atomically as a set before a chain starts and are not
// reentrant.
type LockManager struct {
	mu     sync.Mutex
	dir    string
	held   map[string]*flock.Flock // chain id -> held file lock
	logger *logging.Logger

	// manifest serializes acquire/release across processes so the
	// conflict check and lock creation are one atomic step. The mutex
	// covers goroutines in this process; flock only excludes other
	// processes.
	manifest *flock.Flock
}

// NewLockManager creates a manager over the given lock directory.
func NewLockManager(dir string) (*LockManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &LockManager{
		dir:      dir,
		held:     map[string]*flock.Flock{},
		logger:   logging.New().WithComponent("scope"),
		manifest: flock.New(filepath.Join(dir, ".manifest.lock")),
	}, nil
}

func (m *LockManager) lockPath(chainID string) string {
	return filepath.Join(m.dir, chainID+".lock")
}

func (m *LockManager) metaPath(chainID string) string {
	return filepath.Join(m.dir, chainID+".json")
}

// heldScopes reads the metadata of every currently held lock.
func (m *LockManager) heldScopes() ([]ChainScope, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read lock dir: %w", err)
	}
	var out []ChainScope
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var meta lockMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		out = append(out, ChainScope{ChainID: meta.ChainID, Patterns: meta.Patterns})
	}
	return out, nil
}

// Acquire claims the chain's scope. It fails with a ConflictError if
// any held lock overlaps, and with a plain error on re-acquisition.
func (m *LockManager) Acquire(chainID string, patterns []string) error {
	return m.AcquireSet([]ChainScope{{ChainID: chainID, Patterns: patterns}})
}

// AcquireSet claims all scopes in the set atomically: either every
// chain holds its lock afterward or none does.
func (m *LockManager) AcquireSet(set []ChainScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.manifest.Lock(); err != nil {
		return fmt.Errorf("lock manifest: %w", err)
	}
	defer m.manifest.Unlock()

	for _, cs := range set {
		if _, ok := m.held[cs.ChainID]; ok {
			return fmt.Errorf("chain %s already holds its scope lock", cs.ChainID)
		}
		if err := ValidatePatterns(cs.Patterns); err != nil {
			return fmt.Errorf("chain %s: %w", cs.ChainID, err)
		}
	}

	held, err := m.heldScopes()
	if err != nil {
		return err
	}

	// Check the candidates against held locks and against each other.
	candidates := append(append([]ChainScope(nil), held...), set...)
	conflicts := FindConflicts(candidates)
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}

	var acquired []string
	rollback := func() {
		for _, id := range acquired {
			m.releaseLocked(id)
		}
	}

	for _, cs := range set {
		fl := flock.New(m.lockPath(cs.ChainID))
		ok, err := fl.TryLock()
		if err != nil {
			rollback()
			return fmt.Errorf("lock chain %s: %w", cs.ChainID, err)
		}
		if !ok {
			rollback()
			return fmt.Errorf("chain %s scope lock is held by another process", cs.ChainID)
		}

		meta := lockMeta{
			ChainID:    cs.ChainID,
			Patterns:   cs.Patterns,
			AcquiredAt: time.Now().UTC(),
			PID:        os.Getpid(),
		}
		data, _ := json.MarshalIndent(meta, "", "  ")
		if err := os.WriteFile(m.metaPath(cs.ChainID), data, 0o644); err != nil {
			fl.Unlock()
			rollback()
			return fmt.Errorf("write lock metadata for %s: %w", cs.ChainID, err)
		}

		m.held[cs.ChainID] = fl
		acquired = append(acquired, cs.ChainID)
		m.logger.LockAcquired(cs.ChainID, cs.Patterns)
	}

	return nil
}

// Release frees a chain's scope lock. Releasing an unheld lock is an error.
func (m *LockManager) Release(chainID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.manifest.Lock(); err != nil {
		return fmt.Errorf("lock manifest: %w", err)
	}
	defer m.manifest.Unlock()

	if _, ok := m.held[chainID]; !ok {
		return fmt.Errorf("chain %s holds no scope lock", chainID)
	}
	m.releaseLocked(chainID)
	m.logger.LockReleased(chainID)
	return nil
}

// releaseLocked frees a lock. Caller holds the manifest lock.
func (m *LockManager) releaseLocked(chainID string) {
	if fl, ok := m.held[chainID]; ok {
		fl.Unlock()
		delete(m.held, chainID)
	}
	os.Remove(m.metaPath(chainID))
	os.Remove(m.lockPath(chainID))
}

// ReleaseAll frees every lock this manager holds.
func (m *LockManager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.manifest.Lock(); err != nil {
		return
	}
	defer m.manifest.Unlock()
	for id := range m.held {
		m.releaseLocked(id)
		m.logger.LockReleased(id)
	}
}

// Held reports whether this manager holds the chain's lock.
func (m *LockManager) Held(chainID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[chainID]
	return ok
}
