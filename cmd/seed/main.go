package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

const (
	clinicCount       = 3
	doctorsPerClinic  = 6
	patientsPerClinic = 300
)

var specialties = []string{
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

var timezones = []string{"America/Sao_Paulo", "America/Manaus", "America/Recife"}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL")).With("service", "seed")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Error("POSTGRES_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	for i := 0; i < clinicCount; i++ {
		clinicID, err := seedClinic(ctx, pool, faker, timezones[i%len(timezones)])
		if err != nil {
			logger.Error("seed clinic", "error", err)
			os.Exit(1)
		}
		if err := seedDoctors(ctx, pool, faker, clinicID, doctorsPerClinic); err != nil {
			logger.Error("seed doctors", "clinic_id", clinicID, "error", err)
			os.Exit(1)
		}
		if err := seedPatients(ctx, pool, faker, clinicID, patientsPerClinic); err != nil {
			logger.Error("seed patients", "clinic_id", clinicID, "error", err)
			os.Exit(1)
		}
		logger.Info("clinic seeded", "clinic_id", clinicID)
	}

	logger.Info("seed complete", "clinics", clinicCount)
}

// weekdays 08-12 and 13-18, saturday morning
func clinicHours() schedule.WorkingHours {
	wh := schedule.WorkingHours{}
	for day := time.Monday; day <= time.Friday; day++ {
		wh[day] = []schedule.Interval{
			{Start: schedule.Clock(8, 0), End: schedule.Clock(12, 0)},
			{Start: schedule.Clock(13, 0), End: schedule.Clock(18, 0)},
		}
	}
	wh[time.Saturday] = []schedule.Interval{{Start: schedule.Clock(8, 0), End: schedule.Clock(12, 0)}}
	return wh
}

func seedClinic(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, tz string) (uuid.UUID, error) {
	hours, err := json.Marshal(clinicHours())
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	_, err = pool.Exec(ctx, `
		INSERT INTO clinics (id, name, timezone, working_hours, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, id, faker.Company()+" Clinic", tz, hours)
	return id, err
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, clinicID uuid.UUID, count int) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			var hours []byte
			// every third doctor only works tuesday and thursday afternoons
			if i%3 == 2 {
				wh := schedule.WorkingHours{
					time.Tuesday:  {{Start: schedule.Clock(14, 0), End: schedule.Clock(18, 0)}},
					time.Thursday: {{Start: schedule.Clock(14, 0), End: schedule.Clock(18, 0)}},
				}
				b, err := json.Marshal(wh)
				if err != nil {
					return err
				}
				hours = b
			}

			name := "Dr. " + faker.Name()
			_, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, clinic_id, name, email, specialty, working_hours, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			`, uuid.New(), clinicID, name, faker.Email(), specialties[faker.Number(0, len(specialties)-1)], hours, i != count-1)
			if err != nil {
				return fmt.Errorf("insert doctor: %w", err)
			}
		}
		return nil
	})
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, clinicID uuid.UUID, count int) error {
	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				_, err := tx.Exec(ctx, `
					INSERT INTO patients (id, clinic_id, name, phone, email, cpf, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, now(), now())
				`, uuid.New(), clinicID, faker.Name(), faker.Phone(), faker.Email(), faker.Numerify("###.###.###-##"))
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
