// Package patient keeps the clinic's patient register. Appointments refer to
// patients by name only, so lookups here are by clinic and name.
package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

var ErrPatientNotFound = errors.New("patient not found")

type Patient struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Name      string
	Phone     *string
	Email     *string
	CPF       *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasContact reports whether there is enough to reach the patient.
func (p Patient) HasContact() bool {
	return nonEmpty(p.Phone) || nonEmpty(p.Email)
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

type Repository interface {
	// FindByName matches name case-insensitively within one clinic.
	FindByName(ctx context.Context, clinicID uuid.UUID, name string) (*Patient, error)
	Create(ctx context.Context, p Patient) (*Patient, error)
}

type PgRepository struct {
	pool db.DBTX
}

func NewPgRepository(pool db.DBTX) *PgRepository {
	return &PgRepository{pool: pool}
}

const patientColumns = `id, clinic_id, name, phone, email, cpf, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ClinicID, &p.Name, &p.Phone, &p.Email, &p.CPF, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) FindByName(ctx context.Context, clinicID uuid.UUID, name string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE clinic_id = $1 AND lower(name) = lower($2)
		ORDER BY created_at
		LIMIT 1
	`, clinicID, strings.TrimSpace(name))
	return scanPatient(row)
}

func (r *PgRepository) Create(ctx context.Context, p Patient) (*Patient, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, clinic_id, name, phone, email, cpf, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+patientColumns,
		p.ID, p.ClinicID, strings.TrimSpace(p.Name), p.Phone, p.Email, p.CPF)
	created, err := scanPatient(row)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	return created, nil
}
