package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/npezzotti/go-pollchat/internal/chaterr"
	"github.com/teris-io/shortid"
)

// SQLiteGoChatRepository stores accounts and messages in a single sqlite
// file. Timestamps are stored as unix milliseconds.
type SQLiteGoChatRepository struct {
	conn *sql.DB
}

func NewSQLiteGoChatRepository(ctx context.Context, path string) (*SQLiteGoChatRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	if err := MigrateSQLite(path); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteGoChatRepository{conn: db}, nil
}

func (db *SQLiteGoChatRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *SQLiteGoChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *SQLiteGoChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	id, err := shortid.Generate()
	if err != nil {
		return User{}, fmt.Errorf("generate id: %w", err)
	}

	u := User{
		Id:           id,
		Username:     params.Username,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO accounts (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		u.Id,
		u.Username,
		u.PasswordHash,
		u.CreatedAt.UnixMilli(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return User{}, chaterr.ErrAccountExists
		}
		return User{}, err
	}

	return u, nil
}

func (db *SQLiteGoChatRepository) GetAccountByUsername(ctx context.Context, username string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM accounts WHERE username = ? LIMIT 1",
		username,
	)

	var (
		u         User
		createdAt int64
	)
	err := row.Scan(&u.Id, &u.Username, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, chaterr.ErrNotFound
	}
	if err != nil {
		return User{}, err
	}

	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	return u, nil
}

// InsertMessage never stores a created_at older than the newest message, so
// seq order and created_at order agree across processes sharing the file.
func (db *SQLiteGoChatRepository) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	var createdAt int64
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (id, username, body, created_at) "+
			"SELECT ?, ?, ?, max(?, COALESCE((SELECT created_at FROM messages ORDER BY seq DESC LIMIT 1), 0)) "+
			"RETURNING seq, created_at",
		msg.Id,
		msg.Username,
		msg.Body,
		msg.CreatedAt.UnixMilli(),
	).Scan(&msg.Seq, &createdAt)
	if err != nil {
		return Message{}, err
	}

	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	return msg, nil
}

func (db *SQLiteGoChatRepository) GetRecentMessages(ctx context.Context, limit int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT seq, id, username, body, created_at FROM messages ORDER BY seq DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg       Message
			createdAt int64
		)
		if err := rows.Scan(&msg.Seq, &msg.Id, &msg.Username, &msg.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}
