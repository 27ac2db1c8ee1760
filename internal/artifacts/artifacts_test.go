package artifacts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashitfit/coach/internal/testutil"
)

func TestSaveAndLatest(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testutil.NewTestDB(t))
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	_, err := s.Save(ctx, KindWorkoutPlan, "u1", map[string]any{"name": "old"})
	require.NoError(t, err)
	id, err := s.Save(ctx, KindWorkoutPlan, "u1", map[string]any{"name": "new"})
	require.NoError(t, err)

	a, err := s.Latest(ctx, KindWorkoutPlan, "u1")
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.JSONEq(t, `{"name":"new"}`, string(a.Payload))

	_, err = s.Latest(ctx, KindNutritionPlan, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKindsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testutil.NewTestDB(t))
	for _, k := range []Kind{KindAssessment, KindWorkoutPlan, KindNutritionPlan, KindRecommendations} {
		_, err := s.Save(ctx, k, "u1", map[string]string{"kind": string(k)})
		require.NoError(t, err)
	}
	for _, k := range []Kind{KindAssessment, KindWorkoutPlan, KindNutritionPlan, KindRecommendations} {
		a, err := s.Latest(ctx, k, "u1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"kind":"`+string(k)+`"}`, string(a.Payload))
	}
}

func TestUnknownKind(t *testing.T) {
	s := NewStore(testutil.NewTestDB(t))
	_, err := s.Save(context.Background(), Kind("users; --"), "u1", 1)
	assert.ErrorIs(t, err, ErrUnknownKind)
}
