package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinician-slot-scheduling/internal/config"
	"github.com/hackgods/clinician-slot-scheduling/internal/db"
	"github.com/hackgods/clinician-slot-scheduling/internal/logging"
	"github.com/hackgods/clinician-slot-scheduling/internal/maintenance"
	redisclient "github.com/hackgods/clinician-slot-scheduling/internal/redis"
	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "slotctl",
		Short:        "Operate clinician slot inventory",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(optimizeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the dependencies every subcommand shares.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	pool      *pgxpool.Pool
	inventory *scheduling.Inventory
	sched     *maintenance.Scheduler
	close     func()
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Env, cfg.LogLevel, "slotctl")

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConn})
	if err != nil {
		return nil, err
	}
	closers := []func(){pool.Close}

	var locker redisclient.Locker
	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		// Running without the shared lock can race a live worker on the same clinician.
		log.Warn().Err(err).Msg("redis unavailable, using in-process locks")
		locker = redisclient.NewLocalLocker()
	} else {
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		closers = append(closers, func() { _ = rdb.Close() })
	}

	repo := scheduling.NewPgRepository(pool)
	inv := scheduling.NewInventory(repo, log, scheduling.WithGenerationLocker(locker))

	return &app{
		cfg:       cfg,
		log:       log,
		pool:      pool,
		inventory: inv,
		sched: maintenance.NewScheduler(repo, inv, maintenance.Options{
			Concurrency: cfg.MaintenanceConcurrency,
			ItemTimeout: cfg.MaintenanceItemTimeout,
			Location:    cfg.Location,
		}, log),
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

// withRuntime wires signal handling and teardown around a subcommand body.
func withRuntime(fn func(ctx context.Context, rt *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := setup(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		return fn(ctx, rt)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: withRuntime(func(ctx context.Context, rt *app) error {
			return db.Migrate(ctx, rt.pool, rt.log)
		}),
	}
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate slots for one clinician, or for every clinician with --all",
	}
	all := cmd.Flags().Bool("all", false, "Run batch generation for every clinician with an active template")
	days := cmd.Flags().Int("days", -1, "Days ahead for --all (defaults to GENERATION_DAYS_AHEAD)")
	clinician := cmd.Flags().String("clinician", "", "Clinician UUID")
	start := cmd.Flags().String("start", "", "First date (YYYY-MM-DD)")
	end := cmd.Flags().String("end", "", "Last date (YYYY-MM-DD)")

	cmd.RunE = withRuntime(func(ctx context.Context, rt *app) error {
		if *all {
			n := *days
			if n < 0 {
				n = rt.cfg.GenerationDaysAhead
			}
			report, err := rt.sched.GenerateForAllClinicians(ctx, n)
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			return report.Err()
		}

		id, from, to, err := parseClinicianRange(*clinician, *start, *end)
		if err != nil {
			return err
		}
		res, err := rt.inventory.GenerateSlots(ctx, id, from, to)
		if err != nil {
			return err
		}
		dates := make([]string, 0, len(res.FilledDates))
		for _, d := range res.FilledDates {
			dates = append(dates, d.Format(scheduling.DateLayout))
		}
		return printJSON(map[string]any{
			"clinician_id":    id,
			"generated_count": res.GeneratedCount,
			"filled_dates":    dates,
		})
	})
	return cmd
}

func backfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fill dates in a range that have an active template but no slots",
	}
	clinician := cmd.Flags().String("clinician", "", "Clinician UUID")
	start := cmd.Flags().String("start", "", "First date (YYYY-MM-DD)")
	end := cmd.Flags().String("end", "", "Last date (YYYY-MM-DD)")

	cmd.RunE = withRuntime(func(ctx context.Context, rt *app) error {
		id, from, to, err := parseClinicianRange(*clinician, *start, *end)
		if err != nil {
			return err
		}
		report, err := rt.sched.GenerateMissingSlots(ctx, id, from, to)
		if err != nil {
			return err
		}
		return printJSON(report)
	})
	return cmd
}

func cleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete slots dated before today minus the retention window",
	}
	days := cmd.Flags().Int("older-than-days", -1, "Retention window in days (defaults to SLOT_RETENTION_DAYS)")

	cmd.RunE = withRuntime(func(ctx context.Context, rt *app) error {
		n := *days
		if n < 0 {
			n = rt.cfg.SlotRetentionDays
		}
		report, err := rt.sched.CleanupOldSlots(ctx, n)
		if err != nil {
			return err
		}
		return printJSON(report)
	})
	return cmd
}

func optimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Report fragmentation in one clinician's day",
	}
	clinician := cmd.Flags().String("clinician", "", "Clinician UUID")
	date := cmd.Flags().String("date", "", "Date (YYYY-MM-DD), defaults to today in the clinic time zone")

	cmd.RunE = withRuntime(func(ctx context.Context, rt *app) error {
		id, err := uuid.Parse(*clinician)
		if err != nil {
			return fmt.Errorf("--clinician: %w", err)
		}
		day := scheduling.Today(time.Now(), rt.cfg.Location)
		if *date != "" {
			if day, err = scheduling.ParseDate(*date); err != nil {
				return fmt.Errorf("--date: %w", err)
			}
		}
		suggestions, err := rt.sched.OptimizeDoctorSlots(ctx, id, day)
		if err != nil {
			return err
		}
		return printJSON(suggestions)
	})
	return cmd
}

func parseClinicianRange(clinician, start, end string) (uuid.UUID, time.Time, time.Time, error) {
	id, err := uuid.Parse(clinician)
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("--clinician: %w", err)
	}
	from, err := scheduling.ParseDate(start)
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
	}
	to, err := scheduling.ParseDate(end)
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
	}
	return id, from, to, nil
}
