package database

import "context"

// MessageRepository is the durable, append-only message log.
type MessageRepository interface {
	// InsertMessage appends msg and returns it with Seq assigned. Seq is
	// strictly increasing in insertion order.
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	// GetRecentMessages returns at most limit messages, newest first.
	GetRecentMessages(ctx context.Context, limit int) ([]Message, error)
}

// AccountRepository is the username keyed credential store.
type AccountRepository interface {
	// CreateAccount returns chaterr.ErrAccountExists if the username is taken.
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	// GetAccountByUsername returns chaterr.ErrNotFound for unknown users.
	GetAccountByUsername(ctx context.Context, username string) (User, error)
}

type GoChatRepository interface {
	MessageRepository
	AccountRepository
	Ping(ctx context.Context) error
	Close() error
}
