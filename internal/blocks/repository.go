package blocks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlockNotFound = errors.New("schedule block not found")
	ErrInvalidBlock  = errors.New("invalid schedule block")
)

type Repository interface {
	Insert(ctx context.Context, b ScheduleBlock) (*ScheduleBlock, error)
	Get(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error)
	Update(ctx context.Context, b ScheduleBlock) (*ScheduleBlock, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// ListInRange returns blocks intersecting the closed range of f.
	ListInRange(ctx context.Context, f RangeFilter) ([]ScheduleBlock, error)
	// ListOverlapping returns a doctor's blocks intersecting [start, end).
	ListOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]ScheduleBlock, error)
}
