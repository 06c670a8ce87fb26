package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/domain"
	"github.com/soyeahso/askbot/internal/logging"
)

// OpenRedis builds a client for one logical database of the configured Redis
// server. No connection is made until the first command.
func OpenRedis(cfg config.RedisConfig, db int, log *logging.Logger) *redis.Client {
	redis.SetLogger(log.Redis())

	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           db,
		DialTimeout:  millis(cfg.DialTimeoutMs),
		ReadTimeout:  millis(cfg.ReadTimeoutMs),
		WriteTimeout: millis(cfg.WriteTimeoutMs),
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
	})
}

// Clients holds the two Redis connections the service uses.
type Clients struct {
	Chat    *redis.Client
	Profile *redis.Client
}

// OpenClients opens the chat-history and profile databases.
func OpenClients(cfg config.RedisConfig, log *logging.Logger) *Clients {
	return &Clients{
		Chat:    OpenRedis(cfg, cfg.DB, log),
		Profile: OpenRedis(cfg, cfg.ProfileDB, log),
	}
}

// Ping checks both connections.
func (c *Clients) Ping(ctx context.Context) error {
	if err := Ping(ctx, c.Chat); err != nil {
		return err
	}
	return Ping(ctx, c.Profile)
}

// Close closes both connections.
func (c *Clients) Close() error {
	return errors.Join(c.Chat.Close(), c.Profile.Close())
}

// Ping checks connectivity, reporting failures as domain.ErrStoreUnavailable.
func Ping(ctx context.Context, c redis.UniversalClient) error {
	return Classify("ping", c.Ping(ctx).Err())
}

// Classify wraps transport failures from go-redis as
// domain.ErrStoreUnavailable. redis.Nil and server replies such as WRONGTYPE
// are returned unchanged.
func Classify(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
