package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/go-pollchat/internal/chaterr"
	"github.com/teris-io/shortid"
)

const (
	pgUniqueViolation = "23505"
	pgMessageLockKey  = 7310452
)

type PgGoChatRepository struct {
	conn *sql.DB
}

func NewPgGoChatRepository(ctx context.Context, dsn string) (*PgGoChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &PgGoChatRepository{conn: db}, nil
}

func (db *PgGoChatRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgGoChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *PgGoChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	id, err := shortid.Generate()
	if err != nil {
		return User{}, fmt.Errorf("generate id: %w", err)
	}

	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (id, username, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, password_hash, created_at",
		id,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err = res.Scan(
		&u.Id,
		&u.Username,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return User{}, chaterr.ErrAccountExists
		}
		return User{}, err
	}

	return u, nil
}

func (db *PgGoChatRepository) GetAccountByUsername(ctx context.Context, username string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM accounts "+
			"WHERE username = $1 LIMIT 1",
		username,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, chaterr.ErrNotFound
	}

	return u, err
}

// InsertMessage serializes writers on an advisory lock so that seq order and
// created_at order agree even with several server processes on one database.
func (db *PgGoChatRepository) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", pgMessageLockKey); err != nil {
		return Message{}, fmt.Errorf("lock messages: %w", err)
	}

	res := tx.QueryRowContext(ctx,
		"INSERT INTO messages (id, username, body, created_at) "+
			"VALUES ($1, $2, $3, GREATEST($4, COALESCE("+
			"(SELECT created_at FROM messages ORDER BY seq DESC LIMIT 1), $4))) "+
			"RETURNING seq, created_at",
		msg.Id,
		msg.Username,
		msg.Body,
		msg.CreatedAt,
	)

	if err := res.Scan(&msg.Seq, &msg.CreatedAt); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return Message{}, err
	}

	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (db *PgGoChatRepository) GetRecentMessages(ctx context.Context, limit int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT seq, id, username, body, created_at FROM messages "+
			"ORDER BY seq DESC LIMIT $1",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Seq, &msg.Id, &msg.Username, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}
