package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/npezzotti/go-pollchat/internal/chaterr"
	"github.com/teris-io/shortid"
)

const (
	badgerMessagePrefix = "msg:"
	badgerUserPrefix    = "user:"
	badgerSeqWidth      = 20
)

// BadgerGoChatRepository keeps the log in an embedded badger database.
// Message keys are "msg:{seq padded to 20 digits}" so that a reverse prefix
// iteration yields newest first.
type BadgerGoChatRepository struct {
	db *badger.DB

	seqLock sync.Mutex
	lastSeq int64
}

func NewBadgerGoChatRepository(path string) (*BadgerGoChatRepository, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, err
	}

	repo := &BadgerGoChatRepository{db: db}
	if repo.lastSeq, err = repo.loadLastSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load last seq: %w", err)
	}

	return repo, nil
}

func messageKey(seq int64) []byte {
	return fmt.Appendf(nil, "%s%0*d", badgerMessagePrefix, badgerSeqWidth, seq)
}

func userKey(username string) []byte {
	return []byte(badgerUserPrefix + username)
}

func (db *BadgerGoChatRepository) loadLastSeq() (int64, error) {
	var last int64
	err := db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerMessagePrefix)
		it.Seek(append(prefix, 0xff))
		if !it.ValidForPrefix(prefix) {
			return nil
		}

		seq, err := strconv.ParseInt(string(it.Item().Key()[len(prefix):]), 10, 64)
		if err != nil {
			return fmt.Errorf("parse key %q: %w", it.Item().Key(), err)
		}
		last = seq
		return nil
	})

	return last, err
}

func (db *BadgerGoChatRepository) Ping(_ context.Context) error {
	if db.db.IsClosed() {
		return errors.New("badger: database is closed")
	}
	return nil
}

func (db *BadgerGoChatRepository) Close() error {
	return db.db.Close()
}

func (db *BadgerGoChatRepository) CreateAccount(_ context.Context, params CreateAccountParams) (User, error) {
	id, err := shortid.Generate()
	if err != nil {
		return User{}, fmt.Errorf("generate id: %w", err)
	}

	u := User{
		Id:           id,
		Username:     params.Username,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(u)
	if err != nil {
		return User{}, err
	}

	err = db.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(u.Username))
		if err == nil {
			return chaterr.ErrAccountExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return txn.Set(userKey(u.Username), data)
	})
	if errors.Is(err, badger.ErrConflict) {
		return User{}, chaterr.ErrAccountExists
	}
	if err != nil {
		return User{}, err
	}

	return u, nil
}

func (db *BadgerGoChatRepository) GetAccountByUsername(_ context.Context, username string) (User, error) {
	var u User
	err := db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &u)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return User{}, chaterr.ErrNotFound
	}

	return u, err
}

func (db *BadgerGoChatRepository) InsertMessage(_ context.Context, msg Message) (Message, error) {
	db.seqLock.Lock()
	defer db.seqLock.Unlock()

	msg.Seq = db.lastSeq + 1
	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}

	err = db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg.Seq), data)
	})
	if err != nil {
		return Message{}, err
	}

	db.lastSeq = msg.Seq
	return msg, nil
}

func (db *BadgerGoChatRepository) GetRecentMessages(_ context.Context, limit int) ([]Message, error) {
	messages := make([]Message, 0, limit)
	err := db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerMessagePrefix)
		for it.Seek(append(prefix, 0xff)); it.ValidForPrefix(prefix) && len(messages) < limit; it.Next() {
			var msg Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return messages, nil
}
