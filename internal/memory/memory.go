// Package memory stores durable facts, preferences and notes about a user and
// ranks them against free-text queries. Records are append-only: a newer fact
// supersedes an older one through ranking, never by editing it.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	coachotel "github.com/hashitfit/coach/internal/otel"
	"github.com/hashitfit/coach/internal/store"
)

var tracer = coachotel.Tracer("github.com/hashitfit/coach/internal/memory")

var (
	meter       = coachotel.Meter("github.com/hashitfit/coach/internal/memory")
	writesTotal = coachotel.Counter(meter, "memory.writes.total", "Total memory records written")
	readsTotal  = coachotel.Counter(meter, "memory.reads.total", "Total memory searches and listings")
)

// Record kinds.
const (
	KindFact       = "fact"
	KindPreference = "preference"
	KindSummary    = "summary"
	KindNote       = "note"
)

// Importance bounds.
const (
	MinImportance = 1
	MaxImportance = 5
)

// Domain errors.
var (
	ErrInvalidKind  = errors.New("invalid memory kind")
	ErrEmptyContent = errors.New("memory content is empty")
	ErrUserRequired = errors.New("user id required")
)

// Record is one remembered item about a user.
type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"`
	Content    string    `json:"content"`
	Importance int       `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidKind reports whether kind is one of the known record kinds.
func ValidKind(kind string) bool {
	switch kind {
	case KindFact, KindPreference, KindSummary, KindNote:
		return true
	}
	return false
}

// ClampImportance maps any requested importance into [1,5]. Zero means
// "unspecified" and becomes the minimum.
func ClampImportance(v int) int {
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

// Store persists memory records in the shared relational store.
type Store struct {
	db  *store.DB
	now func() time.Time
}

// NewStore returns a memory store over db.
func NewStore(db *store.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Write validates rec, fills in ID, CreatedAt and the clamped importance, and
// inserts it. rec is updated in place with the stored values.
func (s *Store) Write(ctx context.Context, rec *Record) error {
	ctx, span := tracer.Start(ctx, "memory.write",
		trace.WithAttributes(
			coachotel.UserID.String(rec.UserID),
			attribute.String("memory.kind", rec.Kind),
		))
	defer span.End()

	if rec.UserID == "" {
		return ErrUserRequired
	}
	if !ValidKind(rec.Kind) {
		return fmt.Errorf("%q: %w", rec.Kind, ErrInvalidKind)
	}
	rec.Content = strings.TrimSpace(rec.Content)
	if rec.Content == "" {
		return ErrEmptyContent
	}
	rec.Importance = ClampImportance(rec.Importance)
	if rec.ID == "" {
		rec.ID = "mem_" + uuid.New().String()[:12]
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_records (id, user_id, kind, content, importance, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Kind, rec.Content, rec.Importance, rec.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("inserting memory record: %w", err)
	}

	writesTotal.Add(ctx, 1)
	span.SetAttributes(
		attribute.String("memory.id", rec.ID),
		attribute.Int("memory.importance", rec.Importance),
	)
	return nil
}

// List returns a user's records, newest first. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "memory.list",
		trace.WithAttributes(coachotel.UserID.String(userID)))
	defer span.End()

	q := `SELECT id, user_id, kind, content, importance, created_at FROM memory_records
		WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	recs, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	readsTotal.Add(ctx, 1)
	return recs, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memory records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var created any
		if err := rows.Scan(&r.ID, &r.UserID, &r.Kind, &r.Content, &r.Importance, &created); err != nil {
			return nil, fmt.Errorf("scanning memory record: %w", err)
		}
		if t, ok := store.ScanTime(created); ok {
			r.CreatedAt = t.UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
