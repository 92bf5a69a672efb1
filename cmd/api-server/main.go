package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hackgods/clinician-slot-scheduling/internal/api"
	"github.com/hackgods/clinician-slot-scheduling/internal/config"
	"github.com/hackgods/clinician-slot-scheduling/internal/db"
	"github.com/hackgods/clinician-slot-scheduling/internal/events"
	"github.com/hackgods/clinician-slot-scheduling/internal/logging"
	"github.com/hackgods/clinician-slot-scheduling/internal/maintenance"
	redisclient "github.com/hackgods/clinician-slot-scheduling/internal/redis"
	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "info", "api-server")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel, "api-server")
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("timezone", cfg.Location.String()).
		Msg("api-server starting up")

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

	if err := db.Migrate(rootCtx, pgPool, log); err != nil {
		log.Fatal().Err(err).Msg("migration error")
	}

	// Without Redis the server still books slots; reschedule and generation
	// fall back to process-local locks.
	var (
		locker     redisclient.Locker
		redisCheck api.Check
	)
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, using in-process locks")
		locker = redisclient.NewLocalLocker()
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		redisCheck = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	repo := scheduling.NewPgRepository(pgPool)

	coordOpts := []scheduling.CoordinatorOption{
		scheduling.WithLocker(locker),
		scheduling.WithLocation(cfg.Location),
	}
	if cfg.EventsEnabled && rdb != nil {
		client := asynq.NewClient(events.RedisOpt(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.EventsRedisDB))
		defer client.Close()
		coordOpts = append(coordOpts, scheduling.WithPublisher(events.NewAsynqPublisher(client, log)))
		log.Info().Int("redis_db", cfg.EventsRedisDB).Msg("booking events enabled")
	}

	inventory := scheduling.NewInventory(repo, log, scheduling.WithGenerationLocker(locker))
	sched := maintenance.NewScheduler(repo, inventory, maintenance.Options{
		Concurrency: cfg.MaintenanceConcurrency,
		ItemTimeout: cfg.MaintenanceItemTimeout,
		Location:    cfg.Location,
	}, log)

	handler := api.NewRouter(api.RouterConfig{
		Templates:   scheduling.NewTemplateStore(repo, log),
		Inventory:   inventory,
		Booking:     scheduling.NewCoordinator(repo, log, coordOpts...),
		Maintenance: sched,
		Defaults: api.MaintenanceDefaults{
			DaysAhead:     cfg.GenerationDaysAhead,
			RetentionDays: cfg.SlotRetentionDays,
		},
		Health: api.NewHealthHandler(
			func(ctx context.Context) error { return db.Ping(ctx, pgPool) },
			redisCheck,
			cfg.Env,
			version,
		),
		Location: cfg.Location,
		Logger:   log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("api-server stopped")
}
