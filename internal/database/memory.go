package database

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/go-pollchat/internal/chaterr"
	"github.com/teris-io/shortid"
)

// MemoryGoChatRepository is a non-durable repository for development and
// tests. Messages do not survive a restart.
type MemoryGoChatRepository struct {
	mu       sync.RWMutex
	messages []Message
	users    map[string]User
}

func NewMemoryGoChatRepository() *MemoryGoChatRepository {
	return &MemoryGoChatRepository{
		users: make(map[string]User),
	}
}

func (db *MemoryGoChatRepository) Ping(_ context.Context) error { return nil }

func (db *MemoryGoChatRepository) Close() error { return nil }

func (db *MemoryGoChatRepository) CreateAccount(_ context.Context, params CreateAccountParams) (User, error) {
	id, err := shortid.Generate()
	if err != nil {
		return User{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.users[params.Username]; ok {
		return User{}, chaterr.ErrAccountExists
	}

	u := User{
		Id:           id,
		Username:     params.Username,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	db.users[u.Username] = u

	return u, nil
}

func (db *MemoryGoChatRepository) GetAccountByUsername(_ context.Context, username string) (User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	u, ok := db.users[username]
	if !ok {
		return User{}, chaterr.ErrNotFound
	}

	return u, nil
}

func (db *MemoryGoChatRepository) InsertMessage(_ context.Context, msg Message) (Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if n := len(db.messages); n > 0 && msg.CreatedAt.Before(db.messages[n-1].CreatedAt) {
		msg.CreatedAt = db.messages[n-1].CreatedAt
	}
	msg.Seq = int64(len(db.messages)) + 1
	db.messages = append(db.messages, msg)

	return msg, nil
}

func (db *MemoryGoChatRepository) GetRecentMessages(_ context.Context, limit int) ([]Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	n := min(limit, len(db.messages))
	messages := make([]Message, 0, n)
	for i := len(db.messages) - 1; i >= len(db.messages)-n; i-- {
		messages = append(messages, db.messages[i])
	}

	return messages, nil
}
