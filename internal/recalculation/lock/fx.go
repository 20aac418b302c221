package lock

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/kwhtracker/internal/clock"
	"github.com/smallbiznis/kwhtracker/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("recalculation.lock",
	fx.Provide(New),
)

// New returns a redis-backed locker when REDIS_ADDR is configured, otherwise an
// in-process locker that only serializes within this process.
func New(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, log *zap.Logger) Locker {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		log.Info("recalculation lock using in-process leases")
		return NewLocalLocker(clk)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	log.Info("recalculation lock using redis", zap.String("addr", addr))
	return NewRedisLocker(client)
}
