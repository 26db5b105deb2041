package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type PgRepository struct {
	pool db.DBTX
}

func NewPgRepository(pool db.DBTX) *PgRepository {
	return &PgRepository{pool: pool}
}

const clinicColumns = `id, name, timezone, working_hours, webhook_url, webhook_secret, created_at, updated_at`

const doctorColumns = `id, clinic_id, name, email, specialty, working_hours, active, created_at, updated_at`

func decodeHours(raw []byte) (schedule.WorkingHours, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var wh schedule.WorkingHours
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, fmt.Errorf("decode working hours: %w", err)
	}
	return wh, nil
}

func encodeHours(wh schedule.WorkingHours) (any, error) {
	if wh == nil {
		return nil, nil
	}
	data, err := json.Marshal(wh)
	if err != nil {
		return nil, fmt.Errorf("encode working hours: %w", err)
	}
	return data, nil
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	var hours []byte

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Timezone,
		&hours,
		&c.WebhookURL,
		&c.WebhookSecret,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	if c.WorkingHours, err = decodeHours(hours); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var hours []byte

	err := row.Scan(
		&d.ID,
		&d.ClinicID,
		&d.Name,
		&d.Email,
		&d.Specialty,
		&hours,
		&d.Active,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if d.WorkingHours, err = decodeHours(hours); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+clinicColumns+`
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context, clinicID uuid.UUID) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE clinic_id = $1
		  AND active
		ORDER BY name
	`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateClinicWorkingHours(ctx context.Context, id uuid.UUID, wh schedule.WorkingHours) error {
	data, err := encodeHours(wh)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE clinics
		SET working_hours = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, data)
	if err != nil {
		return fmt.Errorf("update clinic working hours: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClinicNotFound
	}
	return nil
}

func (r *PgRepository) UpdateDoctorWorkingHours(ctx context.Context, id uuid.UUID, wh schedule.WorkingHours) error {
	data, err := encodeHours(wh)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET working_hours = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, data)
	if err != nil {
		return fmt.Errorf("update doctor working hours: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}
