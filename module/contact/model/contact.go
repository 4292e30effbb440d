package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"MentorLink/tools/errs"
)

const ContactCollection = "contact"

// Contact is one edge of a mentor/mentee relationship; rows exist in
// both directions once a pairing is accepted.
type Contact struct {
	OwnerUserID   string    `bson:"owner_user_id"`
	ContactUserID string    `bson:"contact_user_id"`
	Alias         string    `bson:"alias,omitempty"`
	IsBlocked     bool      `bson:"is_blocked"`
	CreateTime    time.Time `bson:"create_time"`
}

type ContactStore struct {
	coll *mongo.Collection
}

func NewContactStore(db *mongo.Database) *ContactStore {
	return &ContactStore{coll: db.Collection(ContactCollection)}
}

func (s *ContactStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_user_id", Value: 1}, {Key: "contact_user_id", Value: 1}},
	})
	return errs.Wrap(err)
}

func (s *ContactStore) IsContact(ctx context.Context, userID, otherID string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{
		"owner_user_id":   userID,
		"contact_user_id": otherID,
		"is_blocked":      false,
	})
	if err != nil {
		return false, errs.Wrap(err)
	}
	return n > 0, nil
}

func (s *ContactStore) ContactsOf(ctx context.Context, userID string) ([]string, error) {
	raw, err := s.coll.Distinct(ctx, "contact_user_id", bson.M{
		"owner_user_id": userID,
		"is_blocked":    false,
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}
