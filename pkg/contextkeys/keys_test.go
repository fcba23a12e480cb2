package contextkeys

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetActorID(ctx))
	assert.True(t, GetRequestStartTime(ctx).IsZero())

	now := time.Now()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithActorID(ctx, "alice")
	ctx = WithClient(ctx, "10.0.0.1", "curl/8")
	ctx = WithRequestStartTime(ctx, now)

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "alice", GetActorID(ctx))
	assert.Equal(t, "10.0.0.1", GetClientIP(ctx))
	assert.Equal(t, "curl/8", GetUserAgent(ctx))
	assert.Equal(t, now, GetRequestStartTime(ctx))
}

func TestWrongTypeIsIgnored(t *testing.T) {
	ctx := context.WithValue(context.Background(), ActorIDKey, 42)
	assert.Empty(t, GetActorID(ctx))
}
