package chatclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typingSeenBy(t *testing.T, c *Client, viewer string) []string {
	t.Helper()

	users, err := c.ListTyping(context.Background(), viewer)
	require.NoError(t, err)
	return users
}

func TestTypist_idleAfterDelay(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	typist := NewTypist(c, "alice")
	typist.delay = 50 * time.Millisecond

	require.NoError(t, typist.Changed(ctx, "h"))
	require.NoError(t, typist.Changed(ctx, "he"))
	assert.Equal(t, []string{"alice"}, typingSeenBy(t, c, "bob"))

	assert.Eventually(t, func() bool {
		return len(typingSeenBy(t, c, "bob")) == 0
	}, time.Second, 10*time.Millisecond, "expected the idle heartbeat after the delay")
}

func TestTypist_emptyDraft(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	typist := NewTypist(c, "alice")
	typist.delay = time.Hour

	require.NoError(t, typist.Changed(ctx, "hello"))
	assert.Equal(t, []string{"alice"}, typingSeenBy(t, c, "bob"))

	require.NoError(t, typist.Changed(ctx, ""))
	assert.Empty(t, typingSeenBy(t, c, "bob"))
}

func TestTypist_Close(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	typist := NewTypist(c, "alice")
	typist.delay = time.Hour

	require.NoError(t, typist.Changed(ctx, "hello"))
	require.NoError(t, typist.Close(ctx))
	assert.Empty(t, typingSeenBy(t, c, "bob"))

	assert.ErrorIs(t, typist.Changed(ctx, "more"), ErrClosed)
	assert.NoError(t, typist.Close(ctx), "expected a second close to be a no-op")
}

func TestTypist_idleErrorReported(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	errCh := make(chan error, 1)
	typist := NewTypist(c, "alice")
	typist.delay = 20 * time.Millisecond
	typist.OnError = func(err error) { errCh <- err }

	require.NoError(t, typist.Changed(context.Background(), "h"))
	ts.Close()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected the failed idle heartbeat to be reported")
	}
}

func TestTypist_resumeAfterIdleFired(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	ts.idleLatency.Store(int64(80 * time.Millisecond))
	c := newTestClient(t, ts)

	typist := NewTypist(c, "alice")
	typist.delay = 20 * time.Millisecond

	require.NoError(t, typist.Changed(ctx, "h"))
	// the idle timer fires and its heartbeat is still on the wire
	time.Sleep(30 * time.Millisecond)

	typist.delay = time.Hour
	require.NoError(t, typist.Changed(ctx, "he"))

	assert.Equal(t, []string{"alice"}, typingSeenBy(t, c, "bob"),
		"expected the resumed edit to be the last state the server saw")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"alice"}, typingSeenBy(t, c, "bob"))
}

func TestTypist_supersededIdleDropped(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	typist := NewTypist(c, "alice")
	typist.delay = time.Hour

	require.NoError(t, typist.Changed(ctx, "h"))
	typist.mu.Lock()
	staleGen := typist.gen
	typist.mu.Unlock()

	require.NoError(t, typist.Changed(ctx, "he"))
	typist.idle(staleGen)

	assert.Equal(t, []string{"alice"}, typingSeenBy(t, c, "bob"),
		"expected an idle heartbeat from an older edit to be dropped")
}
