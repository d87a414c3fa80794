package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const DefaultIdleDelay = time.Second

var ErrClosed = errors.New("typist closed")

// Typist turns draft edits into typing heartbeats. Each edit reports the
// user as typing and rearms a timer that reports them idle once edits stop.
// The server expires stale state anyway, so a lost idle heartbeat only
// delays the user's removal from the list.
//
// Heartbeats go out one at a time and in edit order. An idle heartbeat whose
// timer was overtaken by a newer edit is dropped.
type Typist struct {
	client   *Client
	username string
	delay    time.Duration

	// OnError receives failures of the idle heartbeat sent by the timer.
	OnError func(error)

	sendMu sync.Mutex

	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	closed bool
}

func NewTypist(c *Client, username string) *Typist {
	return &Typist{
		client:   c,
		username: username,
		delay:    DefaultIdleDelay,
	}
}

// Changed reports an edit of the draft. An empty draft reports the user idle
// at once.
func (t *Typist) Changed(ctx context.Context, draft string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	gen := t.advance()

	active := strings.TrimSpace(draft) != ""
	if active {
		t.timer = time.AfterFunc(t.delay, func() { t.idle(gen) })
	}
	t.mu.Unlock()

	return t.send(ctx, gen, active)
}

// advance stops the pending timer and starts a new generation. Callers hold
// t.mu.
func (t *Typist) advance() uint64 {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	return t.gen
}

// send delivers a heartbeat unless a newer edit has superseded gen.
func (t *Typist) send(ctx context.Context, gen uint64, active bool) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.Lock()
	stale := gen != t.gen
	t.mu.Unlock()
	if stale {
		return nil
	}

	return t.client.Heartbeat(ctx, t.username, active)
}

func (t *Typist) idle(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := t.send(ctx, gen, false); err != nil && t.OnError != nil {
		t.OnError(err)
	}
}

// Close stops the timer and reports the user idle.
func (t *Typist) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	gen := t.advance()
	t.mu.Unlock()

	return t.send(ctx, gen, false)
}
