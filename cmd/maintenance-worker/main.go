package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/config"
	"github.com/hackgods/clinician-slot-scheduling/internal/db"
	"github.com/hackgods/clinician-slot-scheduling/internal/events"
	"github.com/hackgods/clinician-slot-scheduling/internal/logging"
	"github.com/hackgods/clinician-slot-scheduling/internal/maintenance"
	redisclient "github.com/hackgods/clinician-slot-scheduling/internal/redis"
	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "info", "maintenance-worker")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel, "maintenance-worker")
	log.Info().
		Str("env", cfg.Env).
		Str("generation_cron", cfg.GenerationCron).
		Str("cleanup_cron", cfg.CleanupCron).
		Int("days_ahead", cfg.GenerationDaysAhead).
		Int("retention_days", cfg.SlotRetentionDays).
		Msg("maintenance-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConn})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	var locker redisclient.Locker
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, using in-process locks and no event consumer")
		locker = redisclient.NewLocalLocker()
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	}

	repo := scheduling.NewPgRepository(pgPool)
	inventory := scheduling.NewInventory(repo, log, scheduling.WithGenerationLocker(locker))
	sched := maintenance.NewScheduler(repo, inventory, maintenance.Options{
		Concurrency: cfg.MaintenanceConcurrency,
		ItemTimeout: cfg.MaintenanceItemTimeout,
		Location:    cfg.Location,
	}, log)

	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
	)
	if _, err := c.AddFunc(schedule(cfg.GenerationCron, cfg.WorkerInterval), func() { runGeneration(rootCtx, sched, cfg.GenerationDaysAhead, log) }); err != nil {
		log.Fatal().Err(err).Msg("invalid GENERATION_CRON")
	}
	if _, err := c.AddFunc(schedule(cfg.CleanupCron, cfg.WorkerInterval), func() { runCleanup(rootCtx, sched, cfg.SlotRetentionDays, log) }); err != nil {
		log.Fatal().Err(err).Msg("invalid CLEANUP_CRON")
	}

	// The horizon is filled once at startup so a fresh deployment has slots
	// before the first scheduled run.
	runGeneration(rootCtx, sched, cfg.GenerationDaysAhead, log)
	c.Start()

	var srv *asynq.Server
	if cfg.EventsEnabled && rdb != nil {
		srv = startConsumer(cfg, rdb, log)
	}

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, stopping maintenance worker")

	if srv != nil {
		srv.Shutdown()
	}

	select {
	case <-c.Stop().Done():
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn().Dur("timeout", cfg.ShutdownTimeout).Msg("maintenance job still running at shutdown")
	}
	log.Info().Msg("maintenance-worker stopped")
}

// schedule falls back to a fixed interval when no cron spec is configured.
func schedule(spec string, every time.Duration) string {
	if spec != "" {
		return spec
	}
	return fmt.Sprintf("@every %s", every)
}

func runGeneration(ctx context.Context, sched *maintenance.Scheduler, daysAhead int, log zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}
	report, err := sched.GenerateForAllClinicians(ctx, daysAhead)
	if err != nil {
		log.Error().Err(err).Msg("batch generation run error")
		return
	}
	if perr := report.Err(); perr != nil {
		log.Warn().Err(perr).Msg("batch generation finished with failures")
	}
}

func runCleanup(ctx context.Context, sched *maintenance.Scheduler, retentionDays int, log zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}
	if _, err := sched.CleanupOldSlots(ctx, retentionDays); err != nil {
		log.Error().Err(err).Msg("cleanup run error")
	}
}

func startConsumer(cfg config.Config, rdb *redis.Client, log zerolog.Logger) *asynq.Server {
	srv := asynq.NewServer(
		events.RedisOpt(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.EventsRedisDB),
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				events.QueueNotifications: 1,
			},
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
	)

	mux := events.NewServeMux(events.LogHandler(log), log)
	if err := srv.Start(mux); err != nil {
		log.Error().Err(err).Str("redis", rdb.Options().Addr).Msg("event consumer failed to start")
		return nil
	}
	log.Info().Str("queue", events.QueueNotifications).Msg("event consumer started")
	return srv
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
