package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/blocks"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

const jwtSecret = "api-test-secret"

type fakeAppointments struct {
	items     map[uuid.UUID]*appointment.Appointment
	createErr error
	lastInput appointment.CreateInput
	listErr   error
}

func (f *fakeAppointments) Create(_ context.Context, in appointment.CreateInput) (*appointment.Appointment, error) {
	f.lastInput = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	a := &appointment.Appointment{
		ID:          uuid.New(),
		ClinicID:    in.ClinicID,
		DoctorID:    in.DoctorID,
		DoctorName:  in.DoctorName,
		PatientName: in.Patient.Name,
		Date:        time.Date(2030, 1, 7, 12, 0, 0, 0, time.UTC),
		Type:        appointment.TypeInPerson,
		Status:      appointment.StatusScheduled,
	}
	f.items[a.ID] = a
	return a, nil
}

func (f *fakeAppointments) Confirm(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a := f.items[id]
	if a.Status != appointment.StatusScheduled {
		return nil, appointment.ErrInvalidStatusTransition
	}
	a.Status = appointment.StatusConfirmed
	return a, nil
}

func (f *fakeAppointments) Cancel(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a := f.items[id]
	a.Status = appointment.StatusCancelled
	return a, nil
}

func (f *fakeAppointments) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.items, id)
	return nil
}

func (f *fakeAppointments) Get(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if a, ok := f.items[id]; ok {
		return a, nil
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (f *fakeAppointments) ListByClinic(_ context.Context, clinicID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []appointment.Appointment
	for _, a := range f.items {
		if a.ClinicID == clinicID && !a.Date.Before(from) && a.Date.Before(to) {
			out = append(out, *a)
		}
	}
	return out, nil
}

type fakeSlots struct {
	slots []availability.AvailableSlot
	err   error
	date  time.Time
}

func (f *fakeSlots) ComputeAvailableSlots(_ context.Context, _ uuid.UUID, date time.Time, _ *uuid.UUID) ([]availability.AvailableSlot, error) {
	f.date = date
	return f.slots, f.err
}

type fakeBlocks struct {
	items map[uuid.UUID]*blocks.ScheduleBlock
}

func (f *fakeBlocks) Create(_ context.Context, doctorID, clinicID uuid.UUID, in blocks.BlockInput) (*blocks.ScheduleBlock, error) {
	if !in.StartAt.Before(in.EndAt) {
		return nil, fmt.Errorf("%w: start must be before end", blocks.ErrInvalidBlock)
	}
	b := &blocks.ScheduleBlock{ID: uuid.New(), DoctorID: doctorID, ClinicID: clinicID, Title: in.Title, StartAt: in.StartAt, EndAt: in.EndAt, Type: blocks.TypeVacation}
	f.items[b.ID] = b
	return b, nil
}

func (f *fakeBlocks) Get(_ context.Context, id uuid.UUID) (*blocks.ScheduleBlock, error) {
	if b, ok := f.items[id]; ok {
		return b, nil
	}
	return nil, blocks.ErrBlockNotFound
}

func (f *fakeBlocks) Update(_ context.Context, id uuid.UUID, patch blocks.BlockPatch) (*blocks.ScheduleBlock, error) {
	b := f.items[id]
	if patch.Title != nil {
		b.Title = *patch.Title
	}
	return b, nil
}

func (f *fakeBlocks) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.items, id)
	return nil
}

func (f *fakeBlocks) BlocksInRange(_ context.Context, clinicID uuid.UUID, start, end time.Time, _ *uuid.UUID) ([]blocks.ScheduleBlock, error) {
	var out []blocks.ScheduleBlock
	for _, b := range f.items {
		if b.ClinicID == clinicID {
			out = append(out, *b)
		}
	}
	return out, nil
}

type fakeClinics struct {
	doctors map[uuid.UUID]*clinic.Doctor
}

func (f *fakeClinics) GetDoctor(_ context.Context, id uuid.UUID) (*clinic.Doctor, error) {
	if d, ok := f.doctors[id]; ok {
		return d, nil
	}
	return nil, clinic.ErrDoctorNotFound
}

func (f *fakeClinics) SetClinicWorkingHours(_ context.Context, clinicID uuid.UUID, wh schedule.WorkingHours) (*clinic.Clinic, error) {
	if err := wh.Validate(); err != nil {
		return nil, err
	}
	return &clinic.Clinic{ID: clinicID, WorkingHours: wh}, nil
}

func (f *fakeClinics) SetDoctorWorkingHours(_ context.Context, clinicID, doctorID uuid.UUID, wh schedule.WorkingHours) (*clinic.Doctor, error) {
	d, ok := f.doctors[doctorID]
	if !ok {
		return nil, clinic.ErrDoctorNotFound
	}
	if d.ClinicID != clinicID {
		return nil, clinic.ErrDoctorNotInClinic
	}
	d.WorkingHours = wh
	return d, nil
}

type fakeFeed struct {
	ev events.ChangeEvent
}

func (f *fakeFeed) SubscribeClinic(ctx context.Context, clinicID uuid.UUID, handler func(events.ChangeEvent)) error {
	ev := f.ev
	ev.ClinicID = clinicID
	handler(ev)
	<-ctx.Done()
	return nil
}

type testEnv struct {
	clinicID uuid.UUID
	doctorID uuid.UUID
	appts    *fakeAppointments
	slots    *fakeSlots
	blocks   *fakeBlocks
	clinics  *fakeClinics
	feed     *fakeFeed
	router   http.Handler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		clinicID: uuid.New(),
		doctorID: uuid.New(),
		appts:    &fakeAppointments{items: map[uuid.UUID]*appointment.Appointment{}},
		slots:    &fakeSlots{},
		blocks:   &fakeBlocks{items: map[uuid.UUID]*blocks.ScheduleBlock{}},
		feed:     &fakeFeed{ev: events.ChangeEvent{Entity: events.EntityAppointment, Op: events.OpInsert, RecordID: uuid.New(), At: time.Now()}},
	}
	e.clinics = &fakeClinics{doctors: map[uuid.UUID]*clinic.Doctor{
		e.doctorID: {ID: e.doctorID, ClinicID: e.clinicID, Name: "Dr. Lima", Active: true},
	}}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveAppointmentOp("create", "ok")

	e.router = NewRouter(RouterConfig{
		Appointments: e.appts,
		Slots:        e.slots,
		Blocks:       e.blocks,
		Clinics:      e.clinics,
		Changes:      e.feed,
		Verifier:     access.NewVerifier(jwtSecret),
		Health: NewHealthHandler(
			func(context.Context) error { return nil },
			func(context.Context) error { return errors.New("redis down") },
			"test", "v1.2.3",
		),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:  logging.Nop(),
	})
	return e
}

func (e *testEnv) token(t *testing.T, clinicID uuid.UUID, roles ...string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ClinicID: clinicID.String(),
		Roles:    roles,
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) path(format string, args ...any) string {
	return "/v1/clinics/" + e.clinicID.String() + fmt.Sprintf(format, args...)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = e.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])
	assert.Equal(t, "ok", ready.Dependencies["postgres"])
}

func TestReadinessFailsWithoutPostgres(t *testing.T) {
	h := NewHealthHandler(func(context.Context) error { return errors.New("down") }, nil, "", "")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_")
}

func TestAuthentication(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, e.path("/appointments?from=2030-01-01&to=2030-01-31"), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := e.token(t, uuid.New(), "owner")
	rec = e.do(t, http.MethodGet, e.path("/appointments?from=2030-01-01&to=2030-01-31"), other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	financial := e.token(t, e.clinicID, "financial")
	rec = e.do(t, http.MethodGet, e.path("/appointments?from=2030-01-01&to=2030-01-31"), financial, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateAppointment(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.clinicID, "receptionist")

	rec := e.do(t, http.MethodPost, e.path("/appointments"), tok, CreateAppointmentRequest{
		DoctorID:    e.doctorID.String(),
		DoctorName:  "Dr. Lima",
		PatientName: "Ana",
		Date:        "2030-01-07",
		Time:        "09:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "scheduled", resp.Status)
	assert.Equal(t, e.clinicID, resp.ClinicID)
	assert.Equal(t, "09:00", e.appts.lastInput.Time)
	assert.Equal(t, "Ana", e.appts.lastInput.Patient.Name)
}

func TestCreateAppointmentErrors(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.clinicID, "doctor")
	valid := CreateAppointmentRequest{DoctorID: e.doctorID.String(), DoctorName: "Dr. Lima", PatientName: "Ana", Date: "2030-01-07", Time: "09:00"}

	tests := []struct {
		name   string
		body   any
		err    error
		status int
		code   string
	}{
		{"malformed json", "{", nil, http.StatusBadRequest, "invalid_request_body"},
		{"bad doctor id", CreateAppointmentRequest{DoctorID: "x"}, nil, http.StatusBadRequest, "invalid_doctor_id"},
		{"validation", valid, fmt.Errorf("%w: patient name is required", appointment.ErrValidation), http.StatusUnprocessableEntity, "validation_failed"},
		{"doctor missing", valid, fmt.Errorf("load doctor: %w", clinic.ErrDoctorNotFound), http.StatusNotFound, "doctor_not_found"},
		{"already booked", valid, appointment.ErrSlotAlreadyBooked, http.StatusConflict, "slot_already_booked"},
		{"being booked", valid, appointment.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
		{"unexpected", valid, errors.New("pg: connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.appts.createErr = tt.err
			rec := e.do(t, http.MethodPost, e.path("/appointments"), tok, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Error)
			assert.NotContains(t, resp.Details, "connection reset")
		})
	}
}

func TestAppointmentLifecycle(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.clinicID, "admin")
	a := &appointment.Appointment{ID: uuid.New(), ClinicID: e.clinicID, Status: appointment.StatusScheduled, Date: time.Date(2030, 1, 7, 12, 0, 0, 0, time.UTC)}
	e.appts.items[a.ID] = a

	rec := e.do(t, http.MethodGet, e.path("/appointments/%s", a.ID), tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, e.path("/appointments/%s/confirm", a.ID), tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"confirmed"`)

	rec = e.do(t, http.MethodPost, e.path("/appointments/%s/confirm", a.ID), tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Error)

	rec = e.do(t, http.MethodPost, e.path("/appointments/%s/cancel", a.ID), tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)

	rec = e.do(t, http.MethodDelete, e.path("/appointments/%s", a.ID), tok, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, e.path("/appointments/%s", a.ID), tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppointmentOfOtherClinicIsHidden(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.clinicID, "owner")
	foreign := &appointment.Appointment{ID: uuid.New(), ClinicID: uuid.New(), Status: appointment.StatusScheduled}
	e.appts.items[foreign.ID] = foreign

	rec := e.do(t, http.MethodPost, e.path("/appointments/%s/cancel", foreign.ID), tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, appointment.StatusScheduled, foreign.Status)
}

func TestListAppointments(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.clinicID, "doctor")
	a := &appointment.Appointment{ID: uuid.New(), ClinicID: e.clinicID, Date: time.Date(2030, 1, 7, 12, 0, 0, 0, time.UTC)}
	e.appts.items[a.ID] = a

	rec := e.do(t, http.MethodGet, e.path("/appointments?from=2030-01-01&to=2030-02-01T00:00:00Z"), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	rec = e.do(t, http.MethodGet, e.path("/appointments?to=2030-02-01"), tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_from", decodeError(t, rec).Error)
}

func TestListSlots(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.clinicID, "receptionist")
	start := time.Date(2030, 1, 7, 12, 0, 0, 0, time.UTC)
	e.slots.slots = []availability.AvailableSlot{{StartTime: start, EndTime: start.Add(30 * time.Minute), DoctorID: e.doctorID, DoctorName: "Dr. Lima"}}

	rec := e.do(t, http.MethodGet, e.path("/slots?date=2030-01-07&doctor_id=%s", e.doctorID), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SlotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Slots, 1)
	assert.True(t, start.Equal(resp.Slots[0].StartTime))
	assert.Equal(t, 7, e.slots.date.Day())

	rec = e.do(t, http.MethodGet, e.path("/slots?date=07/01/2030"), tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, e.path("/slots?date=2030-01-07&doctor_id=nope"), tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSlotsEmptyIsArray(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.clinicID, "receptionist")
	rec := e.do(t, http.MethodGet, e.path("/slots?date=2030-01-07"), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"slots":[]`)
}

func TestListSlotsUnavailableIsRetryable(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.clinicID, "receptionist")
	e.slots.err = fmt.Errorf("%w: list appointments: timeout", availability.ErrAvailabilityUnavailable)

	rec := e.do(t, http.MethodGet, e.path("/slots?date=2030-01-07"), tok, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeError(t, rec)
	assert.True(t, resp.Retryable)
	assert.Equal(t, "availability_unavailable", resp.Error)
}

func TestBlocks(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.clinicID, "doctor")
	start := time.Date(2030, 1, 7, 12, 0, 0, 0, time.UTC)

	rec := e.do(t, http.MethodPost, e.path("/doctors/%s/blocks", e.doctorID), tok, BlockRequest{Title: "Vacation", StartAt: start, EndAt: start.Add(48 * time.Hour), Type: "vacation"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created BlockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = e.do(t, http.MethodPost, e.path("/doctors/%s/blocks", e.doctorID), tok, BlockRequest{StartAt: start, EndAt: start})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodGet, e.path("/blocks?start=2030-01-01&end=2030-02-01"), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []BlockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = e.do(t, http.MethodPatch, e.path("/blocks/%s", created.ID), tok, map[string]string{"title": "Conference"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Conference")

	rec = e.do(t, http.MethodDelete, e.path("/blocks/%s", created.ID), tok, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodDelete, e.path("/blocks/%s", created.ID), tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBlockForDoctorOfAnotherClinic(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.clinicID, "owner")
	outsider := uuid.New()
	e.clinics.doctors[outsider] = &clinic.Doctor{ID: outsider, ClinicID: uuid.New()}
	start := time.Date(2030, 1, 7, 12, 0, 0, 0, time.UTC)

	rec := e.do(t, http.MethodPost, e.path("/doctors/%s/blocks", outsider), tok, BlockRequest{StartAt: start, EndAt: start.Add(time.Hour)})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, e.blocks.items)
}

func TestReceptionistCannotManageBlocks(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.clinicID, "receptionist")
	rec := e.do(t, http.MethodPost, e.path("/doctors/%s/blocks", e.doctorID), tok, BlockRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWorkingHours(t *testing.T) {
	e := newEnv(t)
	owner := e.token(t, e.clinicID, "owner")

	rec := e.do(t, http.MethodPut, e.path("/working-hours"), owner, `{"monday":[{"start":"08:00","end":"12:00"},{"start":"13:00","end":"17:00"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"monday"`)

	rec = e.do(t, http.MethodPut, e.path("/working-hours"), owner, `{"monday":[{"start":"08:00","end":"12:00"},{"start":"11:00","end":"17:00"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodPut, e.path("/doctors/%s/working-hours", e.doctorID), owner, `{"tuesday":[{"start":"09:00","end":"11:00"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), e.doctorID.String())

	doctor := e.token(t, e.clinicID, "doctor")
	rec = e.do(t, http.MethodPut, e.path("/working-hours"), doctor, `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestChangeStream(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	tok := e.token(t, e.clinicID, "receptionist")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + e.path("/changes?access_token=%s", tok)

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var notice ChangeNotice
	require.NoError(t, conn.ReadJSON(&notice))
	assert.Equal(t, "appointments", notice.Entity)
	assert.Equal(t, "INSERT", notice.Op)
	assert.Equal(t, e.feed.ev.RecordID, notice.RecordID)
}
