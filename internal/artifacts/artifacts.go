// Package artifacts persists what the workflows produce. Each kind lives in
// its own table so parallel workflow branches never write the same rows.
package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hashitfit/coach/internal/store"
)

// Kind names an artifact table.
type Kind string

// Artifact kinds.
const (
	KindAssessment      Kind = "assessment"
	KindWorkoutPlan     Kind = "workout_plan"
	KindNutritionPlan   Kind = "nutrition_plan"
	KindRecommendations Kind = "recommendations"
)

var tables = map[Kind]string{
	KindAssessment:      "assessments",
	KindWorkoutPlan:     "workout_plans",
	KindNutritionPlan:   "nutrition_plans",
	KindRecommendations: "recommendations",
}

// Domain errors.
var (
	ErrUnknownKind = errors.New("unknown artifact kind")
	ErrNotFound    = errors.New("artifact not found")
)

// Artifact is one stored payload.
type Artifact struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	UserID    string          `json:"user_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store saves and loads artifacts.
type Store struct {
	db  *store.DB
	now func() time.Time
}

// NewStore returns an artifact store over db.
func NewStore(db *store.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Save stores payload (any JSON-encodable value) for userID and returns the
// new artifact id.
func (s *Store) Save(ctx context.Context, kind Kind, userID string, payload any) (string, error) {
	table, ok := tables[kind]
	if !ok {
		return "", fmt.Errorf("%q: %w", kind, ErrUnknownKind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", kind, err)
	}
	id := string(kind) + "_" + uuid.New().String()[:12]
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, user_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		id, userID, string(raw), s.now())
	if err != nil {
		return "", fmt.Errorf("saving %s: %w", kind, err)
	}
	return id, nil
}

// Latest returns the user's newest artifact of kind.
func (s *Store) Latest(ctx context.Context, kind Kind, userID string) (*Artifact, error) {
	table, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("%q: %w", kind, ErrUnknownKind)
	}
	a := &Artifact{Kind: kind}
	var payload string
	var created any
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, payload, created_at FROM `+table+` WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID).Scan(&a.ID, &a.UserID, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", kind, err)
	}
	a.Payload = json.RawMessage(payload)
	if t, ok := store.ScanTime(created); ok {
		a.CreatedAt = t.UTC()
	}
	return a, nil
}
