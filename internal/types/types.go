package types

import (
	"time"

	"github.com/npezzotti/go-pollchat/internal/database"
	"github.com/npezzotti/go-pollchat/internal/feed"
	"github.com/samber/lo"
)

type User struct {
	Id        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Credentials struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=4,max=72"`
}

type Message struct {
	Id        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type PostMessageRequest struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type TypingRequest struct {
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

type TypingResponse struct {
	Typing []string `json:"typing"`
}

func NewUser(u database.User) User {
	return User{
		Id:        u.Id,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
	}
}

func NewMessage(m feed.Message) Message {
	return Message{
		Id:        m.ID,
		Seq:       m.Seq,
		Username:  m.Author,
		Message:   m.Body,
		Timestamp: m.CreatedAt,
	}
}

// NewMessages converts a feed snapshot, keeping its order. A nil snapshot
// becomes an empty slice so it encodes as [].
func NewMessages(msgs []feed.Message) []Message {
	return lo.Map(msgs, func(m feed.Message, _ int) Message {
		return NewMessage(m)
	})
}
