package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/blocks"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type handlers struct {
	appointments AppointmentService
	slots        SlotResolver
	blocks       BlockService
	clinics      ClinicService
	changes      ChangeFeed
	logger       *logging.Logger
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// optionalUUID reads an optional query parameter; ok is false after a 400 was
// written.
func optionalUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return nil, false
	}
	return &id, true
}

// parseInstant accepts RFC 3339 timestamps and bare dates (midnight UTC).
func parseInstant(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%q is not an RFC 3339 timestamp or YYYY-MM-DD date", raw)
}

func timeRange(w http.ResponseWriter, r *http.Request, fromName, toName string) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	from, err := parseInstant(q.Get(fromName))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+fromName, err.Error())
		return time.Time{}, time.Time{}, false
	}
	to, err := parseInstant(q.Get(toName))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+toName, err.Error())
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := uuidParam(w, r, "clinicID")
	if !ok {
		return
	}
	raw := r.URL.Query().Get("date")
	date, err := availability.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	doctorID, ok := optionalUUID(w, r, "doctor_id")
	if !ok {
		return
	}

	slots, err := h.slots.ComputeAvailableSlots(r.Context(), clinicID, date, doctorID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotsResponse(raw, slots))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := uuidParam(w, r, "clinicID")
	if !ok {
		return
	}
	from, to, ok := timeRange(w, r, "from", "to")
	if !ok {
		return
	}

	list, err := h.appointments.ListByClinic(r.Context(), clinicID, from, to)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := uuidParam(w, r, "clinicID")
	if !ok {
		return
	}
	var req CreateAppointmentRequest
	if !decode(w, r, &req) {
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return
	}

	appt, err := h.appointments.Create(r.Context(), appointment.CreateInput{
		ClinicID:   clinicID,
		DoctorID:   doctorID,
		DoctorName: req.DoctorName,
		Patient: appointment.PatientInfo{
			Name:  req.PatientName,
			Phone: req.PatientPhone,
			Email: req.PatientEmail,
			CPF:   req.PatientCPF,
		},
		Date:  req.Date,
		Time:  req.Time,
		Type:  appointment.Type(req.Type),
		Notes: req.Notes,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

// loadAppointment fetches the appointment in the URL and hides it when it
// belongs to another clinic.
func (h *handlers) loadAppointment(w http.ResponseWriter, r *http.Request) (*appointment.Appointment, bool) {
	clinicID, ok := uuidParam(w, r, "clinicID")
	if !ok {
		return nil, false
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return nil, false
	}
	appt, err := h.appointments.Get(r.Context(), id)
	if err == nil && appt.ClinicID != clinicID {
		err = appointment.ErrAppointmentNotFound
	}
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return nil, false
	}
	return appt, true
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.loadAppointment(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.loadAppointment(w, r)
	if !ok {
		return
	}
	updated, err := h.appointments.Confirm(r.Context(), appt.ID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(updated))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.loadAppointment(w, r)
	if !ok {
		return
	}
	updated, err := h.appointments.Cancel(r.Context(), appt.ID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(updated))
}

func (h *handlers) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.loadAppointment(w, r)
	if !ok {
		return
	}
	if err := h.appointments.Delete(r.Context(), appt.ID); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listBlocks(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := uuidParam(w, r, "clinicID")
	if !ok {
		return
	}
	start, end, ok := timeRange(w, r, "start", "end")
	if !ok {
		return
	}
	doctorID, ok := optionalUUID(w, r, "doctor_id")
	if !ok {
		return
	}

	list, err := h.blocks.BlocksInRange(r.Context(), clinicID, start, end, doctorID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	out := make([]BlockResponse, 0, len(list))
	for i := range list {
		out = append(out, toBlockResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) createBlock(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := uuidParam(w, r, "clinicID")
	if !ok {
		return
	}
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	var req BlockRequest
	if !decode(w, r, &req) {
		return
	}

	doc, err := h.clinics.GetDoctor(r.Context(), doctorID)
	if err == nil && doc.ClinicID != clinicID {
		err = clinic.ErrDoctorNotInClinic
	}
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	b, err := h.blocks.Create(r.Context(), doctorID, clinicID, req.input())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockResponse(b))
}

func (h *handlers) loadBlock(w http.ResponseWriter, r *http.Request) (*blocks.ScheduleBlock, bool) {
	clinicID, ok := uuidParam(w, r, "clinicID")
	if !ok {
		return nil, false
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return nil, false
	}
	b, err := h.blocks.Get(r.Context(), id)
	if err == nil && b.ClinicID != clinicID {
		err = blocks.ErrBlockNotFound
	}
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return nil, false
	}
	return b, true
}

func (h *handlers) updateBlock(w http.ResponseWriter, r *http.Request) {
	b, ok := h.loadBlock(w, r)
	if !ok {
		return
	}
	var req BlockPatchRequest
	if !decode(w, r, &req) {
		return
	}
	updated, err := h.blocks.Update(r.Context(), b.ID, req.patch())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toBlockResponse(updated))
}

func (h *handlers) deleteBlock(w http.ResponseWriter, r *http.Request) {
	b, ok := h.loadBlock(w, r)
	if !ok {
		return
	}
	if err := h.blocks.Delete(r.Context(), b.ID); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) setClinicWorkingHours(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := uuidParam(w, r, "clinicID")
	if !ok {
		return
	}
	var wh schedule.WorkingHours
	if !decode(w, r, &wh) {
		return
	}
	c, err := h.clinics.SetClinicWorkingHours(r.Context(), clinicID, wh)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, WorkingHoursResponse{ClinicID: c.ID, WorkingHours: c.WorkingHours})
}

// setDoctorWorkingHours replaces the doctor's override; a JSON null clears it.
func (h *handlers) setDoctorWorkingHours(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := uuidParam(w, r, "clinicID")
	if !ok {
		return
	}
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	var wh schedule.WorkingHours
	if !decode(w, r, &wh) {
		return
	}
	d, err := h.clinics.SetDoctorWorkingHours(r.Context(), clinicID, doctorID, wh)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, WorkingHoursResponse{ClinicID: d.ClinicID, DoctorID: &d.ID, WorkingHours: d.WorkingHours})
}
