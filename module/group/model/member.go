package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"MentorLink/tools/errs"
)

const GroupMemberCollection = "group_member"

// GroupMember is one membership edge; the CRUD side owns writes, this
// repo only reads.
type GroupMember struct {
	GroupID    string    `bson:"group_id"`
	UserID     string    `bson:"user_id"`
	Role       int32     `bson:"role"` // 0=member 1=admin 2=owner
	CreateTime time.Time `bson:"create_time"`
}

// MemberStore answers the membership questions signaling needs.
type MemberStore struct {
	coll *mongo.Collection
}

func NewMemberStore(db *mongo.Database) *MemberStore {
	return &MemberStore{coll: db.Collection(GroupMemberCollection)}
}

func (s *MemberStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "user_id", Value: 1}},
	})
	return errs.Wrap(err)
}

func (s *MemberStore) IsUserMember(ctx context.Context, groupID, userID string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"group_id": groupID, "user_id": userID})
	if err != nil {
		return false, errs.Wrap(err)
	}
	return n > 0, nil
}

func (s *MemberStore) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	raw, err := s.coll.Distinct(ctx, "user_id", bson.M{"group_id": groupID})
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
