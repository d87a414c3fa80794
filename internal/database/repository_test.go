package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/npezzotti/go-pollchat/internal/chaterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// testGoChatRepository runs the behaviour every backend must share.
func testGoChatRepository(t *testing.T, repo GoChatRepository) {
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, repo.Ping(ctx))
	})

	t.Run("recent messages on empty log", func(t *testing.T) {
		msgs, err := repo.GetRecentMessages(ctx, 50)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("insert assigns increasing seq and recent is newest first", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Millisecond)
		var inserted []Message
		for i := range 5 {
			msg, err := repo.InsertMessage(ctx, Message{
				Id:        fmt.Sprintf("msg-%d", i),
				Username:  "alice",
				Body:      fmt.Sprintf("hello %d", i),
				CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			})
			require.NoError(t, err)
			if len(inserted) > 0 {
				assert.Greater(t, msg.Seq, inserted[len(inserted)-1].Seq, "expected seq to increase")
			}
			inserted = append(inserted, msg)
		}

		msgs, err := repo.GetRecentMessages(ctx, 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		for i, msg := range msgs {
			want := inserted[len(inserted)-1-i]
			assert.Equal(t, want.Id, msg.Id)
			assert.Equal(t, want.Seq, msg.Seq)
			assert.Equal(t, want.Username, msg.Username)
			assert.Equal(t, want.Body, msg.Body)
			assert.Truef(t, want.CreatedAt.Equal(msg.CreatedAt), "expected created at %s, got %s", want.CreatedAt, msg.CreatedAt)
		}

		all, err := repo.GetRecentMessages(ctx, 50)
		require.NoError(t, err)
		assert.Len(t, all, len(inserted), "expected all messages when fewer than limit exist")
	})

	t.Run("accounts", func(t *testing.T) {
		u, err := repo.CreateAccount(ctx, CreateAccountParams{Username: "bob", PasswordHash: "hash"})
		require.NoError(t, err)
		assert.NotEmpty(t, u.Id)
		assert.Equal(t, "bob", u.Username)

		_, err = repo.CreateAccount(ctx, CreateAccountParams{Username: "bob", PasswordHash: "other"})
		assert.ErrorIs(t, err, chaterr.ErrAccountExists)

		got, err := repo.GetAccountByUsername(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, u.Id, got.Id)
		assert.Equal(t, "hash", got.PasswordHash)

		_, err = repo.GetAccountByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, chaterr.ErrNotFound)
	})
}

func TestMemoryGoChatRepository(t *testing.T) {
	testGoChatRepository(t, NewMemoryGoChatRepository())
}

func TestSQLiteGoChatRepository(t *testing.T) {
	repo, err := NewSQLiteGoChatRepository(context.Background(), filepath.Join(t.TempDir(), "data", "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	testGoChatRepository(t, repo)
}

func TestBadgerGoChatRepository(t *testing.T) {
	repo, err := NewBadgerGoChatRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	testGoChatRepository(t, repo)
}

func TestBadgerGoChatRepository_reopenContinuesSeq(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := NewBadgerGoChatRepository(dir)
	require.NoError(t, err)
	first, err := repo.InsertMessage(ctx, Message{Id: "a", Username: "alice", Body: "hi", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = NewBadgerGoChatRepository(dir)
	require.NoError(t, err)
	defer repo.Close()

	second, err := repo.InsertMessage(ctx, Message{Id: "b", Username: "bob", Body: "hello", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.Equal(t, first.Seq+1, second.Seq, "expected seq to continue after reopen")

	msgs, err := repo.GetRecentMessages(ctx, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Id)
	assert.Equal(t, "a", msgs[1].Id)
}

func TestSQLiteGoChatRepository_survivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	repo, err := NewSQLiteGoChatRepository(ctx, path)
	require.NoError(t, err)
	_, err = repo.InsertMessage(ctx, Message{Id: "a", Username: "alice", Body: "hi", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = NewSQLiteGoChatRepository(ctx, path)
	require.NoError(t, err)
	defer repo.Close()

	msgs, err := repo.GetRecentMessages(ctx, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Body)
}

func TestInsertMessage_createdAtFollowsSeq(t *testing.T) {
	sqliteRepo, err := NewSQLiteGoChatRepository(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteRepo.Close() })

	tcases := []struct {
		name string
		repo GoChatRepository
	}{
		{"memory", NewMemoryGoChatRepository()},
		{"sqlite", sqliteRepo},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			late := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

			first, err := tc.repo.InsertMessage(ctx, Message{Id: "fast", Username: "alice", Body: "one", CreatedAt: late})
			require.NoError(t, err)
			assert.True(t, late.Equal(first.CreatedAt))

			// a writer whose clock lags behind
			second, err := tc.repo.InsertMessage(ctx, Message{Id: "slow", Username: "bob", Body: "two", CreatedAt: late.Add(-time.Second)})
			require.NoError(t, err)
			assert.Greater(t, second.Seq, first.Seq)
			assert.Truef(t, late.Equal(second.CreatedAt), "expected created at %s, got %s", late, second.CreatedAt)

			msgs, err := tc.repo.GetRecentMessages(ctx, 2)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.True(t, late.Equal(msgs[0].CreatedAt), "expected the stored value to be the adjusted one")
		})
	}
}

func Test_messageSeqIndex(t *testing.T) {
	idx := messageSeqIndex()
	require.NotNil(t, idx.Options)
	require.NotNil(t, idx.Options.Unique)
	assert.True(t, *idx.Options.Unique)
	assert.Equal(t, bson.M{"seq": bson.M{"$exists": true}}, idx.Options.PartialFilterExpression,
		"expected messages without seq to stay out of the unique index")
}

func TestOpen(t *testing.T) {
	tcases := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "no driver", opts: Options{}, wantErr: true},
		{name: "memory", opts: Options{Driver: DriverMemory}},
		{name: "badger", opts: Options{Driver: DriverBadger, BadgerPath: t.TempDir()}},
		{name: "sqlite", opts: Options{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "chat.db")}},
		{name: "unknown driver", opts: Options{Driver: "cassandra"}, wantErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := Open(context.Background(), tc.opts)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, repo.Ping(context.Background()))
			assert.NoError(t, repo.Close())
		})
	}
}

func Test_messageKey(t *testing.T) {
	assert.Equal(t, "msg:00000000000000000042", string(messageKey(42)))
	assert.Less(t, string(messageKey(9)), string(messageKey(10)), "expected keys to sort by seq")
}
