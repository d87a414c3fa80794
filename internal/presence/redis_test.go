package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/npezzotti/go-pollchat/internal/chaterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisTracker(t *testing.T, expiry time.Duration) *RedisTracker {
	t.Helper()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	tr, err := NewRedisTracker(ctx, url, expiry)
	require.NoError(t, err)

	require.NoError(t, tr.client.FlushDB(ctx).Err())
	t.Cleanup(func() { tr.Close() })

	return tr
}

func TestNewRedisTracker_badURL(t *testing.T) {
	_, err := NewRedisTracker(context.Background(), "not a url", time.Second)
	assert.Error(t, err)
}

func TestRedisTracker(t *testing.T) {
	ctx := context.Background()
	tr := newTestRedisTracker(t, time.Second)

	assert.True(t, chaterr.IsValidation(tr.Heartbeat(ctx, "", true)))

	require.NoError(t, tr.Heartbeat(ctx, "bob", true))
	require.NoError(t, tr.Heartbeat(ctx, "alice", true))
	require.NoError(t, tr.Heartbeat(ctx, "carol", false))

	active, err := tr.ListActive(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, active)

	active, err = tr.ListActive(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, active)

	assert.Eventually(t, func() bool {
		active, err := tr.ListActive(ctx, "dave")
		return err == nil && len(active) == 0
	}, 3*time.Second, 100*time.Millisecond)
}

func Test_typingKey(t *testing.T) {
	assert.Equal(t, "typing:alice", typingKey("alice"))
}
