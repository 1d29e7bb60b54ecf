// Package cache fronts tile archive reads with an in-process or shared cache.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/shapetiles/internal/cache/redisstore"
)

// Interface is a best-effort blob cache. Backend failures read as misses.
type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
	Close() error
}

const (
	KindNone  = "none"
	KindLRU   = "lru"
	KindRedis = "redis"
)

type Config struct {
	Kind      string
	Size      int
	TTL       time.Duration
	RedisAddr string
	OpTimeout time.Duration
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (Interface, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch cfg.Kind {
	case KindNone, "":
		return Noop{}, nil
	case KindLRU:
		return NewLRU(cfg.Size, cfg.TTL), nil
	case KindRedis:
		rc, err := redisstore.New(ctx, cfg.RedisAddr, redisOptions(cfg.OpTimeout)...)
		if err != nil {
			return nil, fmt.Errorf("tile cache: %w", err)
		}
		return NewRedis(rc, cfg.TTL, cfg.OpTimeout, logger), nil
	default:
		return nil, fmt.Errorf("tile cache: unknown kind %q", cfg.Kind)
	}
}

// redisOptions keeps socket timeouts in step with the per-op budget.
func redisOptions(op time.Duration) []redisstore.Option {
	if op <= 0 {
		return nil
	}
	return []redisstore.Option{
		redisstore.WithDialTimeout(4 * op),
		redisstore.WithReadTimeout(op),
		redisstore.WithWriteTimeout(op),
	}
}

type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Noop) Set(context.Context, string, []byte)        {}
func (Noop) Close() error                               { return nil }
