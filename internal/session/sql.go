package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hashitfit/coach/internal/store"
)

// SQLBindingStore keeps bindings in the thread_bindings table.
type SQLBindingStore struct {
	db *store.DB
}

// NewSQLBindingStore returns a binding store over db.
func NewSQLBindingStore(db *store.DB) *SQLBindingStore {
	return &SQLBindingStore{db: db}
}

// Get implements BindingStore.
func (s *SQLBindingStore) Get(ctx context.Context, userID, workflow string) (Binding, error) {
	var b Binding
	var created any
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, workflow, thread_id, created_at FROM thread_bindings WHERE user_id = ? AND workflow = ?`,
		userID, workflow).Scan(&b.UserID, &b.Workflow, &b.ThreadID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Binding{}, ErrBindingNotFound
	}
	if err != nil {
		return Binding{}, fmt.Errorf("reading thread binding: %w", err)
	}
	if t, ok := store.ScanTime(created); ok {
		b.CreatedAt = t.UTC()
	}
	return b, nil
}

// Insert implements BindingStore.
func (s *SQLBindingStore) Insert(ctx context.Context, b Binding) (Binding, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_bindings (user_id, workflow, thread_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, workflow) DO NOTHING`,
		b.UserID, b.Workflow, b.ThreadID, b.CreatedAt)
	if err != nil {
		return Binding{}, false, fmt.Errorf("inserting thread binding: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return b, true, nil
	}
	stored, err := s.Get(ctx, b.UserID, b.Workflow)
	if err != nil {
		return Binding{}, false, err
	}
	return stored, stored.ThreadID == b.ThreadID, nil
}

// List implements BindingStore.
func (s *SQLBindingStore) List(ctx context.Context, workflow string) ([]Binding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, workflow, thread_id, created_at FROM thread_bindings WHERE workflow = ? ORDER BY user_id`,
		workflow)
	if err != nil {
		return nil, fmt.Errorf("listing thread bindings: %w", err)
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var b Binding
		var created any
		if err := rows.Scan(&b.UserID, &b.Workflow, &b.ThreadID, &created); err != nil {
			return nil, fmt.Errorf("scanning thread binding: %w", err)
		}
		if t, ok := store.ScanTime(created); ok {
			b.CreatedAt = t.UTC()
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
