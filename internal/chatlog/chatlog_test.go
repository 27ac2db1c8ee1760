package chatlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashitfit/coach/internal/testutil"
)

func TestAppend_SanitizesMarkup(t *testing.T) {
	ctx := context.Background()
	l := New(testutil.NewTestDB(t))

	msg := &Message{UserID: "u1", Role: RoleUser, Content: `I'm <b>sore</b><script>alert(1)</script> today`}
	require.NoError(t, l.Append(ctx, msg))
	assert.Equal(t, "I'm sore today", msg.Content)
	assert.NotEmpty(t, msg.ID)

	hist, err := l.History(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "I'm sore today", hist[0].Content)
}

func TestAppend_Validation(t *testing.T) {
	ctx := context.Background()
	l := New(testutil.NewTestDB(t))

	assert.ErrorIs(t, l.Append(ctx, &Message{UserID: "u1", Role: "system", Content: "x"}), ErrInvalidRole)
	assert.ErrorIs(t, l.Append(ctx, &Message{UserID: "u1", Role: RoleUser, Content: "<p></p>"}), ErrEmptyContent)
}

func TestHistory_ChronologicalNewestWindow(t *testing.T) {
	ctx := context.Background()
	l := New(testutil.NewTestDB(t))
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, c := range []string{"one", "two", "three"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		require.NoError(t, l.Append(ctx, &Message{
			UserID: "u1", Role: role, Content: c, ThreadID: "thread_1", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, l.Append(ctx, &Message{UserID: "u2", Role: RoleUser, Content: "other"}))

	hist, err := l.History(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "two", hist[0].Content)
	assert.Equal(t, "three", hist[1].Content)
	assert.Equal(t, RoleAssistant, hist[0].Role)
	assert.Equal(t, "thread_1", hist[1].ThreadID)
}
