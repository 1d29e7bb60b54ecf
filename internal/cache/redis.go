package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/shapetiles/internal/cache/redisstore"
)

type Redis struct {
	rc        *redisstore.Client
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

func NewRedis(rc *redisstore.Client, ttl, opTimeout time.Duration, logger *slog.Logger) *Redis {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &Redis{rc: rc, ttl: ttl, opTimeout: opTimeout, logger: logger}
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	v, ok, err := c.rc.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "tile cache get failed", "key", key, "err", err)
		return nil, false
	}
	return v, ok
}

func (c *Redis) Set(ctx context.Context, key string, val []byte) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.rc.Set(ctx, key, val, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "tile cache set failed", "key", key, "err", err)
	}
}

func (c *Redis) Close() error { return c.rc.Close() }
