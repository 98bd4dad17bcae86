package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chains (
  id TEXT PRIMARY KEY,
  request_id TEXT NOT NULL REFERENCES requests(id),
  title TEXT NOT NULL,
  file_scope TEXT NOT NULL DEFAULT '[]',
  status TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  chain_id TEXT NOT NULL REFERENCES chains(id),
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  file_scope TEXT NOT NULL DEFAULT '[]',
  blocked_reason TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chains_request ON chains(request_id);
CREATE INDEX IF NOT EXISTS idx_chains_status ON chains(status);
CREATE INDEX IF NOT EXISTS idx_tasks_chain ON tasks(chain_id);
`

// SQLiteStore is the SQLite implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and
// applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, q := range pragmas {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalScope(scope []string) string {
	if scope == nil {
		scope = []string{}
	}
	data, _ := json.Marshal(scope)
	return string(data)
}

func unmarshalScope(raw string) []string {
	var scope []string
	_ = json.Unmarshal([]byte(raw), &scope)
	return scope
}

// Requests

func (s *SQLiteStore) CreateRequest(ctx context.Context, title, description string) (*Request, error) {
	now := time.Now().UTC()
	req := &Request{
		ID:          "req-" + uuid.NewString()[:8],
		Title:       title,
		Description: description,
		Status:      RequestOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(id, title, description, status, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?)`,
		req.ID, req.Title, req.Description, req.Status, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, status, created_at, updated_at FROM requests WHERE id = ?`, id)
	var req Request
	var created, updated int64
	if err := row.Scan(&req.ID, &req.Title, &req.Description, &req.Status, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	req.CreatedAt = time.Unix(created, 0).UTC()
	req.UpdatedAt = time.Unix(updated, 0).UTC()
	return &req, nil
}

func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Unix(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, status, created_at, updated_at FROM requests ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var req Request
		var created, updated int64
		if err := rows.Scan(&req.ID, &req.Title, &req.Description, &req.Status, &created, &updated); err != nil {
			return nil, err
		}
		req.CreatedAt = time.Unix(created, 0).UTC()
		req.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, req)
	}
	return out, rows.Err()
}

// Chains

func (s *SQLiteStore) CreateChain(ctx context.Context, requestID, title string, fileScope []string) (*Chain, error) {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return nil, err
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chains(id, request_id, title, file_scope, status, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.RequestID, ch.Title, marshalScope(ch.FileScope), ch.Status, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("create chain: %w", err)
	}
	return ch, nil
}

func scanChain(row interface{ Scan(...interface{}) error }) (*Chain, error) {
	var ch Chain
	var scope string
	var created, updated int64
	if err := row.Scan(&ch.ID, &ch.RequestID, &ch.Title, &scope, &ch.Status, &created, &updated); err != nil {
		return nil, err
	}
	ch.FileScope = unmarshalScope(scope)
	ch.CreatedAt = time.Unix(created, 0).UTC()
	ch.UpdatedAt = time.Unix(updated, 0).UTC()
	return &ch, nil
}

func (s *SQLiteStore) GetChain(ctx context.Context, id string) (*Chain, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, request_id, title, file_scope, status, created_at, updated_at FROM chains WHERE id = ?`, id)
	ch, err := scanChain(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chain %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return ch, nil
}

func (s *SQLiteStore) UpdateChainStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chains SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Unix(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("chain %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListChains(ctx context.Context, status string) ([]Chain, error) {
	query := `SELECT id, request_id, title, file_scope, status, created_at, updated_at FROM chains`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chain
	for rows.Next() {
		ch, err := scanChain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AggregateFileScope(ctx context.Context, chainID string) ([]string, error) {
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

// Tasks

func (s *SQLiteStore) CreateTask(ctx context.Context, chainID, title, description, role string, fileScope []string) (*Task, error) {
	if _, err := s.GetChain(ctx, chainID); err != nil {
		return nil, err
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, chain_id, title, description, role, status, file_scope, blocked_reason, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		task.ID, task.ChainID, task.Title, task.Description, task.Role, task.Status,
		marshalScope(task.FileScope), now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func scanTask(row interface{ Scan(...interface{}) error }) (*Task, error) {
	var t Task
	var scope string
	var created, updated int64
	if err := row.Scan(&t.ID, &t.ChainID, &t.Title, &t.Description, &t.Role, &t.Status,
		&scope, &t.BlockedReason, &created, &updated); err != nil {
		return nil, err
	}
	t.FileScope = unmarshalScope(scope)
	t.CreatedAt = time.Unix(created, 0).UTC()
	t.UpdatedAt = time.Unix(updated, 0).UTC()
	return &t, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chain_id, title, description, role, status, file_scope, blocked_reason, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) TransitionTask(ctx context.Context, id, to, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id)
	var from string
	if err := row.Scan(&from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return err
	}

	if err := ValidateTransition(from, to); err != nil {
		return fmt.Errorf("task %s: %w", id, err)
	}

	blockedReason := ""
	if to == TaskBlocked {
		blockedReason = reason
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, blocked_reason = ?, updated_at = ? WHERE id = ?`,
		to, blockedReason, time.Now().UTC().Unix(), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListTasks(ctx context.Context, chainID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chain_id, title, description, role, status, file_scope, blocked_reason, created_at, updated_at
		 FROM tasks WHERE chain_id = ? ORDER BY created_at`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// aggregateScope unions the chain scope with all task scopes.
func aggregateScope(ch *Chain, tasks []Task) []string {
	seen := map[string]bool{}
	var out []string
	add := func(patterns []string) {
		for _, p := range patterns {
			if p != "" && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	add(ch.FileScope)
	for _, t := range tasks {
		add(t.FileScope)
	}
	sort.Strings(out)
	return out
}
