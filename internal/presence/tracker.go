// Package presence tracks which users are currently composing a message.
//
// Typing state is ephemeral. Clients report it with heartbeats and a state
// that stops being refreshed decays after the expiry window, so a lost
// "stopped typing" heartbeat never leaves a user listed forever.
package presence

import (
	"context"
	"strings"
	"time"

	"github.com/npezzotti/go-pollchat/internal/chaterr"
)

// DefaultExpiry is the expiry window. It must stay above the client
// heartbeat interval.
const DefaultExpiry = 3 * time.Second

// State is the last reported typing state of a user.
type State struct {
	Username  string
	Active    bool
	UpdatedAt time.Time
}

type Tracker interface {
	// Heartbeat records the typing state of username, overwriting any
	// previous state.
	Heartbeat(ctx context.Context, username string, active bool) error
	// ListActive returns the sorted usernames that are typing, without
	// excluding.
	ListActive(ctx context.Context, excluding string) ([]string, error)
}

// normalizeUsername trims the surrounding whitespace that account
// registration also strips, so "alice " and "alice" are one user.
func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", chaterr.Required("username")
	}
	return username, nil
}
