package chatclient

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-pollchat/internal/types"
)

const (
	DefaultMessageInterval = 2 * time.Second
	DefaultTypingInterval  = time.Second
)

// Poller keeps a local view of the feed and the typing list by polling the
// server. Every successful poll replaces the whole view; a failed poll leaves
// the previous view in place.
type Poller struct {
	client   *Client
	username string

	MessageInterval time.Duration
	TypingInterval  time.Duration

	// Callbacks run on the polling goroutine. Any may be nil.
	OnMessages func([]types.Message)
	OnTyping   func([]string)
	OnError    func(error)

	mu       sync.Mutex
	messages []types.Message
	typing   []string
}

func NewPoller(c *Client, username string) *Poller {
	return &Poller{
		client:          c,
		username:        username,
		MessageInterval: DefaultMessageInterval,
		TypingInterval:  DefaultTypingInterval,
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.PollMessages(ctx)
	p.PollTyping(ctx)

	msgTicker := time.NewTicker(p.MessageInterval)
	defer msgTicker.Stop()
	typingTicker := time.NewTicker(p.TypingInterval)
	defer typingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-msgTicker.C:
			p.PollMessages(ctx)
		case <-typingTicker.C:
			p.PollTyping(ctx)
		}
	}
}

func (p *Poller) PollMessages(ctx context.Context) bool {
	msgs, err := p.client.ListRecent(ctx)
	if err != nil {
		p.reportError(err)
		return false
	}

	p.mu.Lock()
	p.messages = msgs
	p.mu.Unlock()

	if p.OnMessages != nil {
		p.OnMessages(slices.Clone(msgs))
	}
	return true
}

func (p *Poller) PollTyping(ctx context.Context) bool {
	users, err := p.client.ListTyping(ctx, p.username)
	if err != nil {
		p.reportError(err)
		return false
	}

	p.mu.Lock()
	p.typing = users
	p.mu.Unlock()

	if p.OnTyping != nil {
		p.OnTyping(slices.Clone(users))
	}
	return true
}

// Send posts body as the poller's user and re-polls right away so the sender
// sees the message without waiting for the next tick. A failed post returns
// the error and leaves the view untouched.
func (p *Poller) Send(ctx context.Context, body string) (types.Message, error) {
	msg, err := p.client.PostMessage(ctx, p.username, body)
	if err != nil {
		return types.Message{}, err
	}

	p.PollMessages(ctx)
	return msg, nil
}

// Messages returns the last snapshot received.
func (p *Poller) Messages() []types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.messages)
}

// Typing returns the last typing list received.
func (p *Poller) Typing() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.typing)
}

func (p *Poller) reportError(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}
