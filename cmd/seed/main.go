package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/db"
	"github.com/hackgods/clinician-slot-scheduling/internal/logging"
	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

const (
	clinicianCount = 100
	patientCount   = 9000
)

func main() {
	log := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"), "seed")
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool, log); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	clinicians, err := seedClinicians(context.Background(), pool, faker, clinicianCount, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed clinicians")
	}
	if err := seedPatients(context.Background(), pool, faker, patientCount, log); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedTemplates(context.Background(), scheduling.NewPgRepository(pool), faker, clinicians, log); err != nil {
		log.Fatal().Err(err).Msg("seed templates")
	}

	log.Info().Msg("seed complete")
}

func seedClinicians(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, log zerolog.Logger) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding clinicians")

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	ids := make([]uuid.UUID, 0, count)
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			spec := specialties[faker.Number(0, len(specialties)-1)]

			_, err := tx.Exec(ctx, `
				INSERT INTO clinicians (id, name, specialty, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, "Dr. "+faker.Name(), spec)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Msg("clinicians seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, log zerolog.Logger) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			batch.Queue(`
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), faker.Name(), faker.Email())
		}

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			return tx.SendBatch(ctx, batch).Close()
		})
		if err != nil {
			return err
		}

		log.Debug().Int("seeded", end).Int("total", count).Msg("patients batch committed")
	}

	log.Info().Msg("patients seeded")
	return nil
}

// seedTemplates gives every clinician a Monday-Friday week with a lunch break.
// Start times and slot lengths vary so generated inventories differ.
func seedTemplates(ctx context.Context, repo scheduling.TemplateRepository, faker *gofakeit.Faker, clinicians []uuid.UUID, log zerolog.Logger) error {
	store := scheduling.NewTemplateStore(repo, log)
	durations := []int{15, 20, 30, 45}

	failed := 0
	for _, id := range clinicians {
		startHour := faker.Number(7, 10)
		duration := durations[faker.Number(0, len(durations)-1)]
		lunch := scheduling.TimeOfDay((startHour + 4) * 60)

		week := make([]scheduling.AvailabilityTemplate, 0, 5)
		for d := time.Monday; d <= time.Friday; d++ {
			week = append(week, scheduling.AvailabilityTemplate{
				Weekday:      d,
				WorkStart:    scheduling.TimeOfDay(startHour * 60),
				WorkEnd:      scheduling.TimeOfDay((startHour + 8) * 60),
				SlotDuration: duration,
				BufferTime:   faker.RandomInt([]int{0, 0, 5}),
				Breaks:       []scheduling.Break{{Start: lunch, End: lunch.Add(60), Reason: "lunch"}},
				IsActive:     faker.Number(0, 9) > 0,
			})
		}

		if err := store.SetWeeklyTemplate(ctx, id, week).Err(); err != nil {
			failed++
			log.Warn().Err(err).Str("clinician_id", id.String()).Msg("weekly template rejected")
		}
	}

	if failed > 0 && failed == len(clinicians) {
		return fmt.Errorf("every weekly template was rejected (%d)", failed)
	}
	log.Info().Int("clinicians", len(clinicians)).Int("failed", failed).Msg("templates seeded")
	return nil
}
