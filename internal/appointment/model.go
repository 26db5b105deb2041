package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Active reports whether an appointment in this status still holds its slot.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

type Type string

const (
	TypeInPerson Type = "in_person"
	TypeOnline   Type = "online"
)

func (t Type) Valid() bool {
	return t == TypeInPerson || t == TypeOnline
}

type Appointment struct {
	ID           uuid.UUID
	ClinicID     uuid.UUID
	DoctorID     uuid.UUID
	DoctorName   string
	PatientName  string
	PatientPhone *string
	PatientEmail *string
	PatientCPF   *string
	Date         time.Time // start instant
	Type         Type
	Status       Status
	Notes        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasEmail reports whether the patient can be notified by email.
func (a *Appointment) HasEmail() bool {
	return a.PatientEmail != nil && strings.TrimSpace(*a.PatientEmail) != ""
}

type PatientInfo struct {
	Name  string
	Phone *string
	Email *string
	CPF   *string
}

// CreateInput is a booking request. Date is YYYY-MM-DD and Time is HH:MM, both
// read in the clinic's timezone.
type CreateInput struct {
	ClinicID   uuid.UUID
	DoctorID   uuid.UUID
	DoctorName string
	Patient    PatientInfo
	Date       string
	Time       string
	Type       Type
	Notes      *string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
