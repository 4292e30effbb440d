package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: ml:presence:<user>
// value: node id of the gateway holding the sockets; TTL bounds
// staleness when a node dies without cleanup
func presenceKey(user string) string { return "ml:presence:" + user }

// Mirror writes the registry's online state through to redis so the
// CRUD side can render online badges. Signaling never reads it back;
// the in-memory registry stays authoritative.
type Mirror struct {
	rdb    *redis.Client
	nodeID string
	ttl    time.Duration
}

func NewMirror(rdb *redis.Client, nodeID string, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Mirror{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

// SetOnline marks the user online, renewing the TTL on repeat calls.
func (m *Mirror) SetOnline(ctx context.Context, userID string) error {
	if m == nil || m.rdb == nil {
		return nil
	}
	err := m.rdb.Set(ctx, presenceKey(userID), m.nodeID, m.ttl).Err()
	return errors.Wrap(err, "presence set online")
}

// Refresh extends the TTL without rewriting the value; heartbeats call
// this.
func (m *Mirror) Refresh(ctx context.Context, userID string) error {
	if m == nil || m.rdb == nil {
		return nil
	}
	err := m.rdb.Expire(ctx, presenceKey(userID), m.ttl).Err()
	return errors.Wrap(err, "presence refresh")
}

// SetOffline deletes the key on the user's last disconnect.
func (m *Mirror) SetOffline(ctx context.Context, userID string) error {
	if m == nil || m.rdb == nil {
		return nil
	}
	err := m.rdb.Del(ctx, presenceKey(userID)).Err()
	return errors.Wrap(err, "presence set offline")
}
