package global

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the process configuration: defaults overridable with
// ML_* environment variables.
type AppConfig struct {
	NodeID string
	Addr   string

	AllowedOrigins []string
	JWTSecret      string

	Redis RedisConfig
	Mongo MongoConfig
	Nats  NatsConfig

	OfferTimeout time.Duration
	DedupTTL     time.Duration
	EndedTTL     time.Duration

	UnauthTTL   time.Duration
	AuthTTL     time.Duration
	MaxSessions int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type MongoConfig struct {
	URI      string
	Database string
}

type NatsConfig struct {
	Servers []string // empty disables the offline hand-off
	Name    string
}

func Load() *AppConfig {
	c := &AppConfig{
		NodeID:         envStr("ML_NODE_ID", "gw-1"),
		Addr:           envStr("ML_ADDR", ":8080"),
		AllowedOrigins: envList("ML_ALLOWED_ORIGINS", nil),
		JWTSecret:      envStr("ML_JWT_SECRET", "dev-secret-change-me"),
		Redis: RedisConfig{
			Addr:     envStr("ML_REDIS_ADDR", "127.0.0.1:6379"),
			Password: envStr("ML_REDIS_PASSWORD", ""),
			DB:       envInt("ML_REDIS_DB", 0),
			PoolSize: envInt("ML_REDIS_POOL", 16),
		},
		Mongo: MongoConfig{
			URI:      envStr("ML_MONGO_URI", "mongodb://127.0.0.1:27017"),
			Database: envStr("ML_MONGO_DB", "mentorlink"),
		},
		Nats: NatsConfig{
			Servers: envList("ML_NATS_SERVERS", nil),
			Name:    envStr("ML_NATS_NAME", "mentorlink-gateway"),
		},
		OfferTimeout: envDur("ML_OFFER_TIMEOUT", 30*time.Second),
		DedupTTL:     envDur("ML_DEDUP_TTL", 2*time.Minute),
		EndedTTL:     envDur("ML_ENDED_TTL", 60*time.Second),
		UnauthTTL:    envDur("ML_UNAUTH_TTL", 30*time.Second),
		AuthTTL:      envDur("ML_AUTH_TTL", 2*time.Hour),
		MaxSessions:  envInt("ML_MAX_SESSIONS", 8),
	}
	return c
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
