package presence

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryTracker keeps typing state in process memory. Expired entries are
// hidden from readers immediately and removed by Sweep.
type MemoryTracker struct {
	expiry time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryTracker(expiry time.Duration) *MemoryTracker {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	return &MemoryTracker{
		expiry: expiry,
		now:    time.Now,
		states: make(map[string]State),
	}
}

func (t *MemoryTracker) Heartbeat(_ context.Context, username string, active bool) error {
	username, err := normalizeUsername(username)
	if err != nil {
		return err
	}

	now := t.now()

	t.mu.Lock()
	t.states[username] = State{
		Username:  username,
		Active:    active,
		UpdatedAt: now,
	}
	t.mu.Unlock()

	return nil
}

func (t *MemoryTracker) ListActive(_ context.Context, excluding string) ([]string, error) {
	excluding = strings.TrimSpace(excluding)
	now := t.now()
	active := []string{}

	t.mu.RLock()
	for name, s := range t.states {
		if name != excluding && t.live(s, now) {
			active = append(active, name)
		}
	}
	t.mu.RUnlock()

	slices.Sort(active)
	return active, nil
}

// Len returns the number of entries held, expired or not.
func (t *MemoryTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

func (t *MemoryTracker) live(s State, now time.Time) bool {
	return s.Active && now.Sub(s.UpdatedAt) <= t.expiry
}

// Sweep drops entries that have not been refreshed within the expiry window
// and returns how many were removed.
func (t *MemoryTracker) Sweep() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for name, s := range t.states {
		if now.Sub(s.UpdatedAt) > t.expiry {
			delete(t.states, name)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (t *MemoryTracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
