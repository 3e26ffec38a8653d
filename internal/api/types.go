package api

import (
	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	OK    bool   `json:"ok"`
	Role  string `json:"role,omitempty"`
	Token string `json:"token,omitempty"`
}

type DoctorsResponse struct {
	Doctors []string `json:"doctors"`
}

type AppointmentsResponse struct {
	Appointments []appointment.Appointment `json:"appointments"`
}

type ConflictResponse struct {
	Conflict bool `json:"conflict"`
}

type StatusUpdateRequest struct {
	Status string `json:"status"`
}

type StatusUpdateResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type DoctorActiveRequest struct {
	Active *bool `json:"active"`
}

type DoctorActiveResponse struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}
