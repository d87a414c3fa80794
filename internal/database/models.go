package database

import "time"

type User struct {
	Id           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type Message struct {
	Id        string
	Seq       int64
	Username  string
	Body      string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	PasswordHash string
}
