// Package session maps a user to the remote conversation thread used for a
// workflow. A binding is created lazily on first use, never changed, and
// shared by every later request for the same user and workflow.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrBindingNotFound is returned by BindingStore.Get for an unbound user.
var ErrBindingNotFound = errors.New("thread binding not found")

// Binding ties a user's workflow to a remote thread.
type Binding struct {
	UserID    string    `json:"user_id"`
	Workflow  string    `json:"workflow"`
	ThreadID  string    `json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BindingStore persists bindings with first-writer-wins semantics.
type BindingStore interface {
	// Get returns the binding or ErrBindingNotFound.
	Get(ctx context.Context, userID, workflow string) (Binding, error)
	// Insert stores b unless a binding for the same user and workflow
	// exists. It returns the binding that is stored afterwards, so a losing
	// writer receives the winner's binding and inserted=false.
	Insert(ctx context.Context, b Binding) (stored Binding, inserted bool, err error)
	// List returns every binding of workflow.
	List(ctx context.Context, workflow string) ([]Binding, error)
}
