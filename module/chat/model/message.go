package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"MentorLink/service/delivery"
	"MentorLink/service/room"
	"MentorLink/tools/errs"
)

const MessageCollection = "message"

// messageDoc is the persisted shape of one chat message.
type messageDoc struct {
	ID       string    `bson:"_id"`
	ConvKey  string    `bson:"conv_key"`
	SenderID string    `bson:"sender_id"`
	Kind     string    `bson:"kind"`
	Body     string    `bson:"body"`
	SentAt   time.Time `bson:"sent_at"`
	ReadBy   []string  `bson:"read_by"`
}

// MessageStore is the mongo-backed chat history adapter.
type MessageStore struct {
	coll *mongo.Collection
}

func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{coll: db.Collection(MessageCollection)}
}

// EnsureIndexes creates the conversation-ordered index; call once at
// startup.
func (s *MessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conv_key", Value: 1}, {Key: "sent_at", Value: -1}},
	})
	return errs.Wrap(err)
}

func (s *MessageStore) Save(ctx context.Context, msg *delivery.Message) error {
	doc := messageDoc{
		ID:       msg.ID,
		ConvKey:  string(msg.ConvKey),
		SenderID: msg.SenderID,
		Kind:     msg.Kind,
		Body:     msg.Body,
		SentAt:   msg.SentAt,
		ReadBy:   []string{msg.SenderID},
	}
	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		// retried send with the same server id; already stored
		return nil
	}
	return errs.Wrap(err)
}

// MarkRead adds readerID to read_by on every message it has not read in
// the conversation and returns the affected ids.
func (s *MessageStore) MarkRead(ctx context.Context, convKey room.Key, readerID string) ([]string, error) {
	filter := bson.M{
		"conv_key":  string(convKey),
		"sender_id": bson.M{"$ne": readerID},
		"read_by":   bson.M{"$ne": readerID},
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.Wrap(err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	_, err = s.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$addToSet": bson.M{"read_by": readerID}},
	)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return ids, nil
}
