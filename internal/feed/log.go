// Package feed implements the single global message feed: an append-only
// log and the service that posts to it and serves recent snapshots.
package feed

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-pollchat/internal/chaterr"
	"github.com/npezzotti/go-pollchat/internal/database"
	"github.com/oklog/ulid/v2"
)

// DefaultLimit is the size of the recent window served to pollers.
const DefaultLimit = 50

type Message struct {
	ID        string
	Seq       int64
	Author    string
	Body      string
	CreatedAt time.Time
}

// Log is the message store. Appends are serialized so that log position,
// creation time and completion order agree; reads go straight to the
// repository and never wait on writers.
type Log struct {
	repo database.MessageRepository
	now  func() time.Time

	mu     sync.Mutex
	primed bool
	last   time.Time
}

func NewLog(repo database.MessageRepository) *Log {
	return &Log{
		repo: repo,
		now:  time.Now,
	}
}

// Append validates and durably appends a message. The author is stored
// trimmed. CreatedAt is assigned here and never decreases, even if the wall
// clock steps backwards.
func (l *Log) Append(ctx context.Context, author, body string) (Message, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return Message{}, chaterr.Required("author")
	}
	if strings.TrimSpace(body) == "" {
		return Message{}, chaterr.Required("body")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.prime(ctx); err != nil {
		return Message{}, err
	}

	createdAt := l.now().UTC().Round(time.Millisecond)
	if createdAt.Before(l.last) {
		createdAt = l.last
	}

	stored, err := l.repo.InsertMessage(ctx, database.Message{
		Id:        ulid.Make().String(),
		Username:  author,
		Body:      body,
		CreatedAt: createdAt,
	})
	if err != nil {
		return Message{}, chaterr.Unavailable("append message", err)
	}

	// the repository may move created_at forward past another writer's
	l.last = stored.CreatedAt
	return fromRecord(stored), nil
}

// prime loads the newest stored timestamp once so that ordering holds across
// restarts. Callers hold l.mu.
func (l *Log) prime(ctx context.Context) error {
	if l.primed {
		return nil
	}

	recs, err := l.repo.GetRecentMessages(ctx, 1)
	if err != nil {
		return chaterr.Unavailable("load last message", err)
	}
	if len(recs) > 0 {
		l.last = recs[0].CreatedAt
	}

	l.primed = true
	return nil
}

// Recent returns the newest limit messages oldest first. A limit <= 0 means
// DefaultLimit.
func (l *Log) Recent(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	recs, err := l.repo.GetRecentMessages(ctx, limit)
	if err != nil {
		return nil, chaterr.Unavailable("recent messages", err)
	}

	// repositories answer newest first
	msgs := make([]Message, len(recs))
	for i, rec := range recs {
		msgs[len(recs)-1-i] = fromRecord(rec)
	}

	return msgs, nil
}

func fromRecord(rec database.Message) Message {
	return Message{
		ID:        rec.Id,
		Seq:       rec.Seq,
		Author:    rec.Username,
		Body:      rec.Body,
		CreatedAt: rec.CreatedAt,
	}
}
