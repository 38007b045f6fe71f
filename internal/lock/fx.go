package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/agrisubsidy/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
}

// NewLocker returns a Redis locker when REDIS_ADDR is set and an in-process
// one otherwise.
func NewLocker(p Params) Locker {
	log := p.Log.Named("lock")
	if p.Cfg.RedisAddr == "" {
		log.Info("redis not configured, using in-process locks")
		return NewLocal()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.RedisAddr,
		Password: p.Cfg.RedisPassword,
		DB:       p.Cfg.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", p.Cfg.RedisAddr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("using redis locks", zap.String("addr", p.Cfg.RedisAddr))
	return NewRedis(client)
}
