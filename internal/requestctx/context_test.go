package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserID_RoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-1")
	assert.Equal(t, "user-1", UserID(ctx))
	assert.Equal(t, "", Workflow(ctx))
}

func TestUserID_Unset(t *testing.T) {
	assert.Equal(t, "", UserID(context.Background()))
}

func TestWorkflow_IndependentOfUser(t *testing.T) {
	ctx := WithWorkflow(WithUserID(context.Background(), "u"), "nutrition")
	assert.Equal(t, "u", UserID(ctx))
	assert.Equal(t, "nutrition", Workflow(ctx))
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := WithClient(context.Background(), "web")
	assert.Equal(t, "web", Client(ctx))
	assert.Equal(t, "", UserID(ctx))
}
