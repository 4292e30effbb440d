package mgo

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	mongoOnce sync.Once
	mongoMgr  *Manager
)

type Manager struct {
	client *mongo.Client
	db     *mongo.Database
}

type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Init connects the singleton client and pings the primary once.
func Init(ctx context.Context, c Config) error {
	var initErr error
	mongoOnce.Do(func() {
		if c.Timeout <= 0 {
			c.Timeout = 5 * time.Second
		}
		cctx, cancel := context.WithTimeout(ctx, c.Timeout)
		defer cancel()

		cli, err := mongo.Connect(cctx, options.Client().ApplyURI(c.URI))
		if err != nil {
			initErr = errors.Wrap(err, "mongo connect")
			return
		}
		if err := cli.Ping(cctx, readpref.Primary()); err != nil {
			initErr = errors.Wrap(err, "mongo ping")
			return
		}
		mongoMgr = &Manager{client: cli, db: cli.Database(c.Database)}
	})
	return initErr
}

func GetDB() *mongo.Database {
	if mongoMgr == nil {
		panic("mongo not initialized, call Init first")
	}
	return mongoMgr.db
}

func Close(ctx context.Context) error {
	if mongoMgr == nil {
		return nil
	}
	return mongoMgr.client.Disconnect(ctx)
}
