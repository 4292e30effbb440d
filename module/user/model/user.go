package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"MentorLink/tools/errs"
)

const UserCollection = "user"

type User struct {
	ID          string    `bson:"_id"`
	Username    string    `bson:"username"`
	DisplayName string    `bson:"display_name"`
	AvatarURL   string    `bson:"avatar_url,omitempty"`
	CreateTime  time.Time `bson:"create_time"`
}

// UserStore reads profile fields needed for notification copy.
type UserStore struct {
	coll *mongo.Collection
}

func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{coll: db.Collection(UserCollection)}
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WithDetail(userID)
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &u, nil
}

// DisplayName falls back to the user id when the profile is missing;
// notification copy degrades instead of failing.
func (s *UserStore) DisplayName(ctx context.Context, userID string) (string, error) {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		if errs.ErrRecordNotFound.Is(err) {
			return userID, nil
		}
		return "", err
	}
	if u.DisplayName == "" {
		return u.Username, nil
	}
	return u.DisplayName, nil
}
