package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-pollchat/internal/chaterr"
	"github.com/teris-io/shortid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection    = "users"
	messagesCollection = "messages"
	countersCollection = "counters"
	messageCounterId   = "messages"
)

// Document shapes keep the field names used by the existing chatApp
// collections (username, message, timestamp). Messages written before seq
// existed have no seq field; they are left out of the seq index and sort
// after every sequenced message.
type mongoMessage struct {
	Id        string    `bson:"_id"`
	Seq       int64     `bson:"seq"`
	Username  string    `bson:"username"`
	Body      string    `bson:"message"`
	CreatedAt time.Time `bson:"timestamp"`
}

type mongoUser struct {
	Id           string    `bson:"_id"`
	Username     string    `bson:"username"`
	PasswordHash string    `bson:"password"`
	CreatedAt    time.Time `bson:"timestamp"`
}

type mongoCounter struct {
	Seq  int64     `bson:"seq"`
	Last time.Time `bson:"last"`
}

type MongoGoChatRepository struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
	counters *mongo.Collection
}

func NewMongoGoChatRepository(ctx context.Context, uri, dbName string) (*MongoGoChatRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(dbName)
	repo := &MongoGoChatRepository{
		client:   client,
		users:    db.Collection(usersCollection),
		messages: db.Collection(messagesCollection),
		counters: db.Collection(countersCollection),
	}

	if err := repo.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	return repo, nil
}

func (db *MongoGoChatRepository) ensureIndexes(ctx context.Context) error {
	_, err := db.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = db.messages.Indexes().CreateOne(ctx, messageSeqIndex())
	return err
}

func messageSeqIndex() mongo.IndexModel {
	return mongo.IndexModel{
		Keys: bson.D{{Key: "seq", Value: -1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"seq": bson.M{"$exists": true}}),
	}
}

func (db *MongoGoChatRepository) Ping(ctx context.Context) error {
	return db.client.Ping(ctx, readpref.Primary())
}

func (db *MongoGoChatRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.client.Disconnect(ctx)
}

func (db *MongoGoChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	id, err := shortid.Generate()
	if err != nil {
		return User{}, fmt.Errorf("generate id: %w", err)
	}

	doc := mongoUser{
		Id:           id,
		Username:     params.Username,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	if _, err := db.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, chaterr.ErrAccountExists
		}
		return User{}, err
	}

	return User(doc), nil
}

func (db *MongoGoChatRepository) GetAccountByUsername(ctx context.Context, username string) (User, error) {
	var doc mongoUser
	err := db.users.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, chaterr.ErrNotFound
	}
	if err != nil {
		return User{}, err
	}

	doc.CreatedAt = doc.CreatedAt.UTC()
	return User(doc), nil
}

// nextSeq allocates the next log position and its created_at in one update
// of the counter document, so seq order and created_at order agree across
// server processes.
func (db *MongoGoChatRepository) nextSeq(ctx context.Context, createdAt time.Time) (mongoCounter, error) {
	var c mongoCounter
	err := db.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": messageCounterId},
		mongo.Pipeline{{{Key: "$set", Value: bson.M{
			"seq":  bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$seq", 0}}, 1}},
			"last": bson.M{"$max": bson.A{"$last", createdAt}},
		}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&c)

	return c, err
}

func (db *MongoGoChatRepository) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	c, err := db.nextSeq(ctx, msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("next seq: %w", err)
	}
	msg.Seq = c.Seq
	msg.CreatedAt = c.Last.UTC()

	_, err = db.messages.InsertOne(ctx, mongoMessage(msg))
	if err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *MongoGoChatRepository) GetRecentMessages(ctx context.Context, limit int) ([]Message, error) {
	cursor, err := db.messages.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "seq", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}

	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	messages := make([]Message, 0, len(docs))
	for _, doc := range docs {
		doc.CreatedAt = doc.CreatedAt.UTC()
		messages = append(messages, Message(doc))
	}

	return messages, nil
}
