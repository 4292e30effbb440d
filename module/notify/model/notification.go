package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"MentorLink/service/notify"
	"MentorLink/tools/errs"
	"MentorLink/tools/ids"
)

const NotificationCollection = "notification"

type notificationDoc struct {
	ID         string    `bson:"_id"`
	UserID     string    `bson:"user_id"`
	Kind       string    `bson:"kind"`
	ConvKey    string    `bson:"conv_key,omitempty"`
	CallID     string    `bson:"call_id,omitempty"`
	Title      string    `bson:"title"`
	Body       string    `bson:"body"`
	IsRead     bool      `bson:"is_read"`
	CreateTime time.Time `bson:"create_time"`
}

// NotificationStore is the mongo-backed offline notification adapter.
type NotificationStore struct {
	coll *mongo.Collection
}

func NewNotificationStore(db *mongo.Database) *NotificationStore {
	return &NotificationStore{coll: db.Collection(NotificationCollection)}
}

func (s *NotificationStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_read", Value: 1}, {Key: "create_time", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "call_id", Value: 1}}},
	})
	return errs.Wrap(err)
}

// Create inserts the record; an id collision means the same event was
// already persisted and the existing record is returned unchanged.
func (s *NotificationStore) Create(ctx context.Context, n *notify.Stored) (*notify.Stored, error) {
	if n.ID == "" {
		n.ID = ids.GenerateString()
	}
	doc := docFromStored(n)
	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		var existing notificationDoc
		if ferr := s.coll.FindOne(ctx, bson.M{"_id": n.ID}).Decode(&existing); ferr != nil {
			return nil, errs.Wrap(ferr)
		}
		return storedFromDoc(&existing), nil
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return storedFromDoc(doc), nil
}

// UpdateToMissed flips the user's ring notification for callID to a
// missed call. ErrRecordNotFound signals the caller to create a fresh
// record instead.
func (s *NotificationStore) UpdateToMissed(ctx context.Context, userID, callID, body string) (*notify.Stored, error) {
	filter := bson.M{
		"user_id": userID,
		"call_id": callID,
		"kind": bson.M{"$in": bson.A{
			string(notify.KindIncomingCall),
			string(notify.KindGroupInvite),
		}},
	}
	update := bson.M{"$set": bson.M{
		"kind":    string(notify.KindMissedCall),
		"title":   "Missed call",
		"body":    body,
		"is_read": false,
	}}
	var updated notificationDoc
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WithDetail("no ring notification for call " + callID)
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return storedFromDoc(&updated), nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, notificationID string) error {
	res, err := s.coll.UpdateByID(ctx, notificationID, bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return errs.Wrap(err)
	}
	if res.MatchedCount == 0 {
		return errs.ErrRecordNotFound.WithDetail(notificationID)
	}
	return nil
}

// MarkConversationRead flips the user's unread message notifications
// for one conversation and returns their ids.
func (s *NotificationStore) MarkConversationRead(ctx context.Context, userID, convKey string) ([]string, error) {
	filter := bson.M{
		"user_id":  userID,
		"conv_key": convKey,
		"kind":     string(notify.KindMessage),
		"is_read":  false,
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
	list := make([]string, 0, len(docs))
	for _, d := range docs {
		list = append(list, d.ID)
	}
	if _, err := s.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": list}},
		bson.M{"$set": bson.M{"is_read": true}},
	); err != nil {
		return nil, errs.Wrap(err)
	}
	return list, nil
}

func docFromStored(n *notify.Stored) *notificationDoc {
	return &notificationDoc{
		ID:         n.ID,
		UserID:     n.UserID,
		Kind:       string(n.Kind),
		ConvKey:    n.ConvKey,
		CallID:     n.CallID,
		Title:      n.Title,
		Body:       n.Body,
		IsRead:     n.IsRead,
		CreateTime: n.CreateTime,
	}
}

func storedFromDoc(d *notificationDoc) *notify.Stored {
	return &notify.Stored{
		ID:         d.ID,
		UserID:     d.UserID,
		Kind:       notify.Kind(d.Kind),
		ConvKey:    d.ConvKey,
		CallID:     d.CallID,
		Title:      d.Title,
		Body:       d.Body,
		IsRead:     d.IsRead,
		CreateTime: d.CreateTime,
	}
}
