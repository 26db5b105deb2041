package blocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type PgRepository struct {
	pool db.DBTX
}

func NewPgRepository(pool db.DBTX) *PgRepository {
	return &PgRepository{pool: pool}
}

const blockColumns = `id, doctor_id, clinic_id, title, description, start_datetime, end_datetime, block_type, is_recurring, recurrence_pattern, created_at, updated_at`

func scanBlock(row pgx.Row) (*ScheduleBlock, error) {
	var b ScheduleBlock
	var pattern []byte

	err := row.Scan(
		&b.ID,
		&b.DoctorID,
		&b.ClinicID,
		&b.Title,
		&b.Description,
		&b.StartAt,
		&b.EndAt,
		&b.Type,
		&b.IsRecurring,
		&pattern,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockNotFound
		}
		return nil, err
	}

	if len(pattern) > 0 {
		b.RecurrencePattern = append([]byte(nil), pattern...)
	}
	return &b, nil
}

func collectBlocks(rows pgx.Rows) ([]ScheduleBlock, error) {
	defer rows.Close()

	var result []ScheduleBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (r *PgRepository) Insert(ctx context.Context, b ScheduleBlock) (*ScheduleBlock, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO schedule_blocks (id, doctor_id, clinic_id, title, description, start_datetime, end_datetime, block_type, is_recurring, recurrence_pattern, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+blockColumns,
		b.ID, b.DoctorID, b.ClinicID, b.Title, b.Description, b.StartAt, b.EndAt, b.Type, b.IsRecurring, nullableJSON(b.RecurrencePattern))
	created, err := scanBlock(row)
	if err != nil {
		return nil, fmt.Errorf("insert schedule block: %w", err)
	}
	return created, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM schedule_blocks
		WHERE id = $1
	`, id)
	return scanBlock(row)
}

func (r *PgRepository) Update(ctx context.Context, b ScheduleBlock) (*ScheduleBlock, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE schedule_blocks
		SET title = $2,
		    description = $3,
		    start_datetime = $4,
		    end_datetime = $5,
		    block_type = $6,
		    is_recurring = $7,
		    recurrence_pattern = $8,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+blockColumns,
		b.ID, b.Title, b.Description, b.StartAt, b.EndAt, b.Type, b.IsRecurring, nullableJSON(b.RecurrencePattern))
	return scanBlock(row)
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedule_blocks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlockNotFound
	}
	return nil
}

func (r *PgRepository) ListInRange(ctx context.Context, f RangeFilter) ([]ScheduleBlock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+blockColumns+`
		FROM schedule_blocks
		WHERE clinic_id = $1
		  AND start_datetime <= $3
		  AND end_datetime >= $2
		  AND ($4::uuid IS NULL OR doctor_id = $4)
		ORDER BY start_datetime
	`, f.ClinicID, f.Start, f.End, f.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("list schedule blocks: %w", err)
	}
	return collectBlocks(rows)
}

func (r *PgRepository) ListOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]ScheduleBlock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+blockColumns+`
		FROM schedule_blocks
		WHERE doctor_id = $1
		  AND start_datetime < $3
		  AND end_datetime > $2
		ORDER BY start_datetime
	`, doctorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list overlapping blocks: %w", err)
	}
	return collectBlocks(rows)
}
