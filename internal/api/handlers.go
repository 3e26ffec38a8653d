package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
)

type handlers struct {
	svc    *appointment.Service
	issuer *auth.Issuer
	logger *zap.Logger
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	res, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid_credentials"})
		return
	}

	token, err := h.issuer.Issue(strings.TrimSpace(req.Username), string(res.Role))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{OK: true, Role: string(res.Role), Token: token})
}

func (h *handlers) listDoctors(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.ListDoctors(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, DoctorsResponse{Doctors: names})
}

func (h *handlers) setDoctorActive(w http.ResponseWriter, r *http.Request) {
	var req DoctorActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.Active == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing_field", Field: "active"})
		return
	}

	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid_format", Field: "name"})
		return
	}
	if err := h.svc.SetDoctorActive(r.Context(), name, *req.Active); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DoctorActiveResponse{Name: name, Active: *req.Active})
}

func (h *handlers) scheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointment.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.ScheduleAppointment(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")

	var (
		appts []appointment.Appointment
		err   error
	)
	if start == "" && end == "" {
		appts, err = h.svc.ListAppointments(r.Context())
	} else {
		appts, err = h.svc.ListAppointmentsInRange(r.Context(), start, end)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if appts == nil {
		appts = []appointment.Appointment{}
	}
	writeJSON(w, http.StatusOK, AppointmentsResponse{Appointments: appts})
}

func (h *handlers) checkConflict(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taken, err := h.svc.ConflictExists(r.Context(), q.Get("doctor"), q.Get("date"), q.Get("time"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ConflictResponse{Conflict: taken})
}

func (h *handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "invalid_format", Field: "id", Details: "id must be an integer",
		})
		return
	}

	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	if err := h.svc.UpdateStatus(r.Context(), id, req.Status); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusUpdateResponse{ID: id, Status: strings.ToLower(strings.TrimSpace(req.Status))})
}
