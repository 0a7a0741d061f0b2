// Package app connects the infrastructure shared by the api-server and the
// no-show worker.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chinmaydhabale/medschedule/internal/appointment"
	"github.com/chinmaydhabale/medschedule/internal/config"
	"github.com/chinmaydhabale/medschedule/internal/db"
	"github.com/chinmaydhabale/medschedule/internal/metrics"
	"github.com/chinmaydhabale/medschedule/internal/notification"
	redisclient "github.com/chinmaydhabale/medschedule/internal/redis"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

type App struct {
	Config  config.Config
	Log     *zap.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *metrics.Metrics

	Users         *user.PgRepository
	Appointments  *appointment.PgRepository
	Notifications *notification.PgRepository
	Notifier      *notification.AsyncDispatcher

	closeSender func() error
}

// Bootstrap connects Postgres, Redis and the notification sender. The caller
// owns the returned App and must Close it.
func Bootstrap(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	sender, closeSender, err := notification.NewSender(cfg.Notify, log)
	if err != nil {
		_ = rdb.Close()
		pool.Close()
		return nil, fmt.Errorf("notification sender: %w", err)
	}
	log.Info("notification sender ready", zap.String("driver", cfg.Notify.Driver))

	m := metrics.New()
	notifications := notification.NewPgRepository(pool)

	return &App{
		Config:        cfg,
		Log:           log,
		Pool:          pool,
		Redis:         rdb,
		Metrics:       m,
		Users:         user.NewPgRepository(pool),
		Appointments:  appointment.NewPgRepository(pool),
		Notifications: notifications,
		Notifier:      notification.NewAsyncDispatcher(sender, notifications, cfg.Notify.Timeout, log, m),
		closeSender:   closeSender,
	}, nil
}

// BookingService wires the booking engine against Postgres.
func (a *App) BookingService() *appointment.Service {
	return appointment.NewService(
		appointment.NewPgTransactor(a.Pool),
		a.Appointments,
		a.Users,
		a.Notifier,
		a.Log,
		appointment.WithMetrics(a.Metrics),
		appointment.WithLocation(a.Config.ClinicTimezone),
	)
}

// NoShowSweeper builds a sweeper that takes the Redis leader lock on every
// tick, so any number of processes may run one.
func (a *App) NoShowSweeper() *appointment.NoShowSweeper {
	cfg := a.Config.NoShow
	return appointment.NewNoShowSweeper(
		a.Appointments,
		a.Users,
		a.Notifier,
		appointment.SweeperConfig{
			Schedule:    cfg.Schedule,
			BatchSize:   cfg.BatchSize,
			FrontendURL: a.Config.FrontendURL,
		},
		a.Log,
		appointment.WithLeaderLock(redisclient.NewRedisLocker(a.Redis, "medschedule", cfg.LeaderTTL)),
		appointment.WithSweeperMetrics(a.Metrics),
	)
}

// Close drains in-flight notifications and releases connections.
func (a *App) Close(ctx context.Context) {
	if err := a.Notifier.Wait(ctx); err != nil {
		a.Log.Warn("notifications still in flight at shutdown", zap.Error(err))
	}
	if err := a.closeSender(); err != nil {
		a.Log.Warn("error closing notification sender", zap.Error(err))
	}
	if err := a.Redis.Close(); err != nil {
		a.Log.Warn("error closing redis", zap.Error(err))
	}
	a.Pool.Close()
}
