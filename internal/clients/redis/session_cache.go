package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cheongam/chatbot-backend/internal/platform/logger"
)

// CachedSession is the hot subset of a chat session kept in Redis so the
// chat path can skip a Postgres round trip between turns.
type CachedSession struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	ThreadID  string    `json:"thread_id"`
	Title     string    `json:"title"`
}

type SessionCache interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*CachedSession, error)
	Set(ctx context.Context, session CachedSession) error
	Invalidate(ctx context.Context, sessionID uuid.UUID) error
	Ping(ctx context.Context) error
	Close() error
}

type sessionCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewSessionCache(log *logger.Logger, ttl time.Duration) (SessionCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if ttl <= 0 {
		ttl = time.Hour
	}

	return &sessionCache{
		log: log.With("service", "RedisSessionCache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func sessionKey(sessionID uuid.UUID) string {
	return "chat:session:" + sessionID.String()
}

func (sc *sessionCache) Get(ctx context.Context, sessionID uuid.UUID) (*CachedSession, error) {
	if sc == nil || sc.rdb == nil {
		return nil, fmt.Errorf("session cache not initialized")
	}
	raw, err := sc.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached CachedSession
	if err := json.Unmarshal(raw, &cached); err != nil {
		// A stale or corrupt entry should never block the chat path.
		sc.log.Warn("bad cached session payload", "session_id", sessionID.String(), "error", err)
		_ = sc.rdb.Del(ctx, sessionKey(sessionID)).Err()
		return nil, nil
	}
	return &cached, nil
}

func (sc *sessionCache) Set(ctx context.Context, session CachedSession) error {
	if sc == nil || sc.rdb == nil {
		return fmt.Errorf("session cache not initialized")
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return sc.rdb.Set(ctx, sessionKey(session.SessionID), raw, sc.ttl).Err()
}

func (sc *sessionCache) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	if sc == nil || sc.rdb == nil {
		return nil
	}
	return sc.rdb.Del(ctx, sessionKey(sessionID)).Err()
}

func (sc *sessionCache) Ping(ctx context.Context) error {
	if sc == nil || sc.rdb == nil {
		return fmt.Errorf("session cache not initialized")
	}
	return sc.rdb.Ping(ctx).Err()
}

func (sc *sessionCache) Close() error {
	if sc == nil || sc.rdb == nil {
		return nil
	}
	return sc.rdb.Close()
}
