package blocks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var blockCols = []string{"id", "doctor_id", "clinic_id", "title", "description", "start_datetime", "end_datetime", "block_type", "is_recurring", "recurrence_pattern", "created_at", "updated_at"}

func TestListInRangeFiltersByDoctor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clinicID, doctorID := uuid.New(), uuid.New()
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	now := time.Now().UTC()

	rows := pgxmock.NewRows(blockCols).
		AddRow(uuid.New(), doctorID, clinicID, "Meeting", (*string)(nil), start.Add(10*time.Hour), start.Add(10*time.Hour+30*time.Minute), TypeMeeting, false, []byte(nil), now, now)
	mock.ExpectQuery("FROM schedule_blocks").
		WithArgs(clinicID, start, end, &doctorID).
		WillReturnRows(rows)

	got, err := NewPgRepository(mock).ListInRange(context.Background(), RangeFilter{ClinicID: clinicID, DoctorID: &doctorID, Start: start, End: end})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, TypeMeeting, got[0].Type)
	assert.Nil(t, got[0].RecurrencePattern)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingBlock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("DELETE FROM schedule_blocks").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.ErrorIs(t, NewPgRepository(mock).Delete(context.Background(), id), ErrBlockNotFound)
}

func TestInsertKeepsRecurrencePattern(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := ScheduleBlock{
		ID:                uuid.New(),
		DoctorID:          uuid.New(),
		ClinicID:          uuid.New(),
		Title:             "Lunch",
		StartAt:           time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		EndAt:             time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC),
		Type:              TypeBreak,
		IsRecurring:       true,
		RecurrencePattern: []byte(`{"freq":"weekly"}`),
	}
	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO schedule_blocks").
		WithArgs(b.ID, b.DoctorID, b.ClinicID, b.Title, b.Description, b.StartAt, b.EndAt, b.Type, true, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(blockCols).
			AddRow(b.ID, b.DoctorID, b.ClinicID, b.Title, (*string)(nil), b.StartAt, b.EndAt, TypeBreak, true, []byte(`{"freq":"weekly"}`), now, now))

	got, err := NewPgRepository(mock).Insert(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, got.IsRecurring)
	assert.JSONEq(t, `{"freq":"weekly"}`, string(got.RecurrencePattern))
}
