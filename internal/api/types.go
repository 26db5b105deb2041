package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/blocks"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type CreateAppointmentRequest struct {
	DoctorID     string  `json:"doctor_id"`
	DoctorName   string  `json:"doctor_name"`
	PatientName  string  `json:"patient_name"`
	PatientPhone *string `json:"patient_phone,omitempty"`
	PatientEmail *string `json:"patient_email,omitempty"`
	PatientCPF   *string `json:"patient_cpf,omitempty"`
	Date         string  `json:"date"` // YYYY-MM-DD in the clinic's timezone
	Time         string  `json:"time"` // HH:MM
	Type         string  `json:"type,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID           uuid.UUID `json:"id"`
	ClinicID     uuid.UUID `json:"clinic_id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	DoctorName   string    `json:"doctor_name"`
	PatientName  string    `json:"patient_name"`
	PatientPhone *string   `json:"patient_phone,omitempty"`
	PatientEmail *string   `json:"patient_email,omitempty"`
	Date         time.Time `json:"date"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Notes        *string   `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		ClinicID:     a.ClinicID,
		DoctorID:     a.DoctorID,
		DoctorName:   a.DoctorName,
		PatientName:  a.PatientName,
		PatientPhone: a.PatientPhone,
		PatientEmail: a.PatientEmail,
		Date:         a.Date.UTC(),
		Type:         string(a.Type),
		Status:       string(a.Status),
		Notes:        a.Notes,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type SlotResponse struct {
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	DoctorName string    `json:"doctor_name"`
}

type SlotsResponse struct {
	Date  string         `json:"date"`
	Slots []SlotResponse `json:"slots"`
}

func toSlotsResponse(date string, slots []availability.AvailableSlot) SlotsResponse {
	out := SlotsResponse{Date: date, Slots: make([]SlotResponse, 0, len(slots))}
	for _, s := range slots {
		out.Slots = append(out.Slots, SlotResponse{
			StartTime:  s.StartTime,
			EndTime:    s.EndTime,
			DoctorID:   s.DoctorID,
			DoctorName: s.DoctorName,
		})
	}
	return out
}

type BlockRequest struct {
	Title             string          `json:"title"`
	Description       *string         `json:"description,omitempty"`
	StartAt           time.Time       `json:"start_at"`
	EndAt             time.Time       `json:"end_at"`
	Type              string          `json:"type,omitempty"`
	IsRecurring       bool            `json:"is_recurring"`
	RecurrencePattern json.RawMessage `json:"recurrence_pattern,omitempty"`
}

func (r BlockRequest) input() blocks.BlockInput {
	return blocks.BlockInput{
		Title:             r.Title,
		Description:       r.Description,
		StartAt:           r.StartAt,
		EndAt:             r.EndAt,
		Type:              blocks.BlockType(r.Type),
		IsRecurring:       r.IsRecurring,
		RecurrencePattern: r.RecurrencePattern,
	}
}

type BlockPatchRequest struct {
	Title             *string         `json:"title,omitempty"`
	Description       *string         `json:"description,omitempty"`
	StartAt           *time.Time      `json:"start_at,omitempty"`
	EndAt             *time.Time      `json:"end_at,omitempty"`
	Type              *string         `json:"type,omitempty"`
	IsRecurring       *bool           `json:"is_recurring,omitempty"`
	RecurrencePattern json.RawMessage `json:"recurrence_pattern,omitempty"`
}

func (r BlockPatchRequest) patch() blocks.BlockPatch {
	p := blocks.BlockPatch{
		Title:             r.Title,
		Description:       r.Description,
		StartAt:           r.StartAt,
		EndAt:             r.EndAt,
		IsRecurring:       r.IsRecurring,
		RecurrencePattern: r.RecurrencePattern,
	}
	if r.Type != nil {
		t := blocks.BlockType(*r.Type)
		p.Type = &t
	}
	return p
}

type BlockResponse struct {
	ID                uuid.UUID       `json:"id"`
	ClinicID          uuid.UUID       `json:"clinic_id"`
	DoctorID          uuid.UUID       `json:"doctor_id"`
	Title             string          `json:"title"`
	Description       *string         `json:"description,omitempty"`
	StartAt           time.Time       `json:"start_at"`
	EndAt             time.Time       `json:"end_at"`
	Type              string          `json:"type"`
	IsRecurring       bool            `json:"is_recurring"`
	RecurrencePattern json.RawMessage `json:"recurrence_pattern,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toBlockResponse(b *blocks.ScheduleBlock) BlockResponse {
	return BlockResponse{
		ID:                b.ID,
		ClinicID:          b.ClinicID,
		DoctorID:          b.DoctorID,
		Title:             b.Title,
		Description:       b.Description,
		StartAt:           b.StartAt,
		EndAt:             b.EndAt,
		Type:              string(b.Type),
		IsRecurring:       b.IsRecurring,
		RecurrencePattern: b.RecurrencePattern,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

type WorkingHoursResponse struct {
	ClinicID     uuid.UUID             `json:"clinic_id"`
	DoctorID     *uuid.UUID            `json:"doctor_id,omitempty"`
	WorkingHours schedule.WorkingHours `json:"working_hours"`
}

type ChangeNotice struct {
	Entity   string    `json:"entity"`
	Op       string    `json:"op"`
	RecordID uuid.UUID `json:"record_id"`
	At       time.Time `json:"at"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
