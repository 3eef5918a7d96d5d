package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithTime(ctx, fixed)
	ctx = WithClientMetadata(ctx, "10.0.0.1", "Firefox 120 / Linux")
	ctx = WithConversationID(ctx, "conv-9")

	assert.Equal(t, "req-123", RequestID(ctx))
	assert.Equal(t, fixed, Now(ctx))
	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
	assert.Equal(t, "Firefox 120 / Linux", UserAgent(ctx))
	assert.Equal(t, "conv-9", ConversationID(ctx))
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, ClientIP(ctx))
	assert.Empty(t, UserAgent(ctx))
	assert.WithinDuration(t, time.Now(), Now(ctx), time.Second)
}
