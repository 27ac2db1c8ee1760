// Package chatlog is the product's own append-only record of chat turns,
// independent of the remote service's message store.
package chatlog

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hashitfit/coach/internal/store"
)

// Roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// History limits.
const (
	DefaultHistory = 50
	MaxHistory     = 500
)

// Domain errors.
var (
	ErrInvalidRole  = errors.New("invalid chat role")
	ErrEmptyContent = errors.New("chat message is empty")
)

// Message is one logged chat turn.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ThreadID  string    `json:"thread_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Log appends and reads chat messages.
type Log struct {
	db     *store.DB
	policy *bluemonday.Policy
	now    func() time.Time
}

// New returns a chat log over db.
func New(db *store.DB) *Log {
	return &Log{
		db:     db,
		policy: bluemonday.StrictPolicy(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sanitize strips markup from content and returns plain text.
func (l *Log) Sanitize(content string) string {
	return strings.TrimSpace(html.UnescapeString(l.policy.Sanitize(content)))
}

// Append stores msg after stripping markup from its content.
func (l *Log) Append(ctx context.Context, msg *Message) error {
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("%q: %w", msg.Role, ErrInvalidRole)
	}
	msg.Content = l.Sanitize(msg.Content)
	if msg.Content == "" {
		return ErrEmptyContent
	}
	if msg.ID == "" {
		msg.ID = "msg_" + uuid.New().String()[:12]
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = l.now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, user_id, role, content, thread_id, run_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, msg.Role, msg.Content, msg.ThreadID, msg.RunID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting chat message: %w", err)
	}
	return nil
}

// History returns the user's newest messages in chronological order.
func (l *Log) History(ctx context.Context, userID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistory
	}
	if limit > MaxHistory {
		limit = MaxHistory
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, thread_id, run_id, created_at FROM chat_messages
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chat history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var created any
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.ThreadID, &m.RunID, &created); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		if t, ok := store.ScanTime(created); ok {
			m.CreatedAt = t.UTC()
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
