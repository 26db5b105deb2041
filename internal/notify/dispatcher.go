package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

const (
	KindConfirmation = "appointment_confirmation"
	KindCancellation = "appointment_cancellation"
)

var (
	confirmationBody = template.Must(template.New("confirmation").Parse(
		`Hello {{.Patient}},

Your {{.Kind}} appointment with {{.Doctor}} at {{.Clinic}} is booked for {{.When}}.

If you cannot attend, please contact the clinic.
`))
	cancellationBody = template.Must(template.New("cancellation").Parse(
		`Hello {{.Patient}},

Your appointment with {{.Doctor}} at {{.Clinic}} on {{.When}} has been cancelled.

Please contact the clinic to book a new time.
`))
)

type messageData struct {
	Patient string
	Doctor  string
	Clinic  string
	When    string
	Kind    string
}

// Dispatcher renders patient emails and queues them. Delivery is done by the
// Processor.
type Dispatcher struct {
	jobs   JobStore
	logger *logging.Logger
}

func NewDispatcher(jobs JobStore, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{jobs: jobs, logger: logger}
}

func (d *Dispatcher) SendAppointmentConfirmation(ctx context.Context, a *appointment.Appointment, c *clinic.Clinic, doc *clinic.Doctor) error {
	data := newMessageData(a, c, doc)
	return d.enqueue(ctx, a, KindConfirmation, fmt.Sprintf("Appointment booked at %s", data.Clinic), confirmationBody, data)
}

func (d *Dispatcher) SendAppointmentCancellation(ctx context.Context, a *appointment.Appointment, c *clinic.Clinic, doc *clinic.Doctor) error {
	data := newMessageData(a, c, doc)
	return d.enqueue(ctx, a, KindCancellation, fmt.Sprintf("Appointment cancelled at %s", data.Clinic), cancellationBody, data)
}

func newMessageData(a *appointment.Appointment, c *clinic.Clinic, doc *clinic.Doctor) messageData {
	loc := time.UTC
	clinicName := "the clinic"
	if c != nil {
		loc = c.Location()
		clinicName = c.Name
	}
	doctorName := a.DoctorName
	if doc != nil && doc.Name != "" {
		doctorName = doc.Name
	}
	kind := "in-person"
	if a.Type == appointment.TypeOnline {
		kind = "online"
	}
	return messageData{
		Patient: a.PatientName,
		Doctor:  doctorName,
		Clinic:  clinicName,
		When:    a.Date.In(loc).Format("Mon 02 Jan 2006 15:04 MST"),
		Kind:    kind,
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, a *appointment.Appointment, kind, subject string, tmpl *template.Template, data messageData) error {
	if !a.HasEmail() {
		return nil
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("notify: render %s: %w", kind, err)
	}

	apptID := a.ID
	name := a.PatientName
	id, err := d.jobs.Enqueue(ctx, EmailJob{
		ClinicID:      a.ClinicID,
		AppointmentID: &apptID,
		Kind:          kind,
		To:            *a.PatientEmail,
		ToName:        &name,
		Subject:       subject,
		Body:          body.String(),
	})
	if err != nil {
		return err
	}
	d.logger.Debug("email job queued", "job_id", id, "kind", kind, "appointment_id", a.ID)
	return nil
}

var _ appointment.Notifier = (*Dispatcher)(nil)
