package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashitfit/coach/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "coach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestClampImportance(t *testing.T) {
	assert.Equal(t, 1, ClampImportance(0))
	assert.Equal(t, 1, ClampImportance(-4))
	assert.Equal(t, 3, ClampImportance(3))
	assert.Equal(t, 5, ClampImportance(9))
}

func TestClampK(t *testing.T) {
	assert.Equal(t, 5, ClampK(0))
	assert.Equal(t, 2, ClampK(2))
	assert.Equal(t, 10, ClampK(50))
}

func TestWrite_ClampsImportance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := &Record{UserID: "u1", Kind: KindPreference, Content: "prefers morning workouts", Importance: 9}
	require.NoError(t, s.Write(ctx, rec))
	assert.Equal(t, 5, rec.Importance)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	recs, err := s.List(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 5, recs[0].Importance)
	assert.Equal(t, "prefers morning workouts", recs[0].Content)
}

func TestWrite_DefaultImportance(t *testing.T) {
	s := newTestStore(t)
	rec := &Record{UserID: "u1", Kind: KindNote, Content: "knee tweak last week"}
	require.NoError(t, s.Write(context.Background(), rec))
	assert.Equal(t, 1, rec.Importance)
}

func TestWrite_Validation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Write(ctx, &Record{UserID: "u1", Kind: "rumor", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidKind)

	err = s.Write(ctx, &Record{UserID: "u1", Kind: KindFact, Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyContent)

	err = s.Write(ctx, &Record{Kind: KindFact, Content: "x"})
	assert.ErrorIs(t, err, ErrUserRequired)
}

func TestSearch_ProteinExample(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, r := range []Record{
		{Kind: KindPreference, Content: "likes high protein", Importance: 5},
		{Kind: KindFact, Content: "protein shake brand", Importance: 1},
		{Kind: KindNote, Content: "unrelated", Importance: 3},
	} {
		r.UserID = "u1"
		r.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.Write(ctx, &r))
	}

	got, err := s.Search(ctx, "u1", "protein", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "likes high protein", got[0].Content)
	assert.Equal(t, "protein shake brand", got[1].Content)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestSearch_ScopedToUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Write(ctx, &Record{UserID: "u1", Kind: KindFact, Content: "vegan"}))
	require.NoError(t, s.Write(ctx, &Record{UserID: "u2", Kind: KindFact, Content: "vegan too"}))

	got, err := s.Search(ctx, "u1", "vegan", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
}

func TestRank_MatchingAlwaysFirst(t *testing.T) {
	now := time.Now()
	recs := []Record{
		{ID: "a", Content: "deadlift form cues", Importance: 5, CreatedAt: now},
		{ID: "b", Content: "bench press max is 80kg", Importance: 1, CreatedAt: now.Add(-time.Hour)},
		{ID: "c", Content: "bench day on monday", Importance: 1, CreatedAt: now},
	}
	got := Rank(recs, "bench")
	require.Len(t, got, 3)
	// equal score, newer first
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "a", got[2].ID)
}

func TestRelevance_SubstringFallback(t *testing.T) {
	assert.Zero(t, keywordSimilarity("5k", "ran a 5k today"))
	assert.Equal(t, 0.5, relevance("5k", "ran a 5k today"))
	assert.Zero(t, relevance("swim", "ran a 5k today"))
}

func TestList_Limit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(ctx, &Record{UserID: "u1", Kind: KindNote, Content: "note",
			CreatedAt: time.Date(2026, 1, i+1, 0, 0, 0, 0, time.UTC)}))
	}
	recs, err := s.List(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 3, recs[0].CreatedAt.Day())
}
