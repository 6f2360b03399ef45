package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type Clients struct {
	Redis goredis.UniversalClient
}

// wireClients connects to redis when REDIS_ADDR is set. Without it the
// instance runs single-node: local bus, in-memory lease.
func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set; running without redis")
		return Clients{}, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis connected", "addr", cfg.RedisAddr)
	return Clients{Redis: rdb}, nil
}

func (c Clients) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

type redisPinger struct{ rdb goredis.UniversalClient }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

type dbPinger struct{ db *gorm.DB }

func (p dbPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
