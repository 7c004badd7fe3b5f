package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/db/memdb"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// Dependencies enumerates the infrastructure shared by the API and the worker.
type Dependencies struct {
	Store db.Store
	// Pool is nil for the memory driver.
	Pool            *pgxpool.Pool
	Redis           *redis.Client
	TaskClient      *asynq.Client
	TaskRedis       asynq.RedisConnOpt
	MetricsRegistry *prometheus.Registry

	closers []func()
}

// Open connects every dependency described by cfg. Close releases whatever was opened, also
// after a failure.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Dependencies, error) {
	d := &Dependencies{MetricsRegistry: prometheus.NewRegistry()}
	d.MetricsRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := d.openStore(pingCtx, cfg); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.openRedis(pingCtx, cfg, log); err != nil {
		d.Close()
		return nil, err
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("parse task redis url: %w", err)
	}
	d.TaskRedis = opt
	d.TaskClient = asynq.NewClient(opt)
	d.closers = append(d.closers, func() {
		if err := d.TaskClient.Close(); err != nil {
			log.Error().Err(err).Msg("close task client")
		}
	})
	return d, nil
}

func (d *Dependencies) openStore(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreDriver == config.DriverMemory {
		d.Store = memdb.New()
		return nil
	}
	if cfg.DBAutoMigrate {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "toko-pricing"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	d.closers = append(d.closers, pool.Close)
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	d.Pool = pool
	d.Store = db.NewPgStore(pool)
	return nil
}

func (d *Dependencies) openRedis(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	d.closers = append(d.closers, func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("close redis")
		}
	})
	if err := redisotel.InstrumentTracing(client); err != nil {
		log.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		log.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	d.Redis = client
	return nil
}

// Close releases dependencies in reverse order of opening.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// NewTaskServer builds the asynq server processing background tasks.
func NewTaskServer(d *Dependencies, concurrency int, log zerolog.Logger) (*asynq.Server, error) {
	if d == nil || d.TaskRedis == nil {
		return nil, errors.New("app: task redis not configured")
	}
	return asynq.NewServer(d.TaskRedis, asynq.Config{
		Concurrency: concurrency,
		Logger:      TaskLogger{Log: log},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("task_type", task.Type()).Msg("task failed")
		}),
		ShutdownTimeout: 10 * time.Second,
	}), nil
}

// TaskLogger adapts zerolog to asynq.Logger.
type TaskLogger struct {
	Log zerolog.Logger
}

func (l TaskLogger) Debug(args ...interface{}) { l.Log.Debug().Msg(fmt.Sprint(args...)) }
func (l TaskLogger) Info(args ...interface{})  { l.Log.Info().Msg(fmt.Sprint(args...)) }
func (l TaskLogger) Warn(args ...interface{})  { l.Log.Warn().Msg(fmt.Sprint(args...)) }
func (l TaskLogger) Error(args ...interface{}) { l.Log.Error().Msg(fmt.Sprint(args...)) }
func (l TaskLogger) Fatal(args ...interface{}) { l.Log.Fatal().Msg(fmt.Sprint(args...)) }
