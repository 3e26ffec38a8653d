package appointment

import (
	"fmt"
	"time"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

type Doctor struct {
	Name           string  `json:"name"`
	Specialization string  `json:"specialization"`
	Phone          *string `json:"phone,omitempty"`
	Email          *string `json:"email,omitempty"`
	Active         bool    `json:"active"`
}

type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

type Appointment struct {
	ID           int64             `json:"id"`
	PatientName  string            `json:"patient_name"`
	PatientPhone *string           `json:"patient_phone,omitempty"`
	DoctorName   string            `json:"doctor_name"`
	Date         Date              `json:"appointment_date"`
	Time         ClockTime         `json:"appointment_time"`
	Status       AppointmentStatus `json:"status"`
	Notes        *string           `json:"notes,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Slot returns the key the exclusivity invariant is enforced on.
func (a Appointment) Slot() SlotKey {
	return SlotKey{Doctor: a.DoctorName, Date: a.Date, Time: a.Time}
}

// NewAppointment is the already-validated input to AppointmentStore.Create.
type NewAppointment struct {
	PatientName  string
	PatientPhone *string
	DoctorName   string
	Date         Date
	Time         ClockTime
	Notes        *string
}

func (n NewAppointment) Slot() SlotKey {
	return SlotKey{Doctor: n.DoctorName, Date: n.Date, Time: n.Time}
}

// SlotKey identifies a bookable (doctor, date, time) triple.
type SlotKey struct {
	Doctor string
	Date   Date
	Time   ClockTime
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Doctor, k.Date, k.Time)
}

type AuthResult struct {
	OK   bool `json:"ok"`
	Role Role `json:"role,omitempty"`
}

// byListingOrder sorts date descending, then time ascending, then id ascending.
func byListingOrder(a, b Appointment) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return -c
	}
	if c := a.Time.Compare(b.Time); c != 0 {
		return c
	}
	return cmpInt64(a.ID, b.ID)
}

// byCalendarOrder sorts date ascending, then time ascending, then id ascending.
func byCalendarOrder(a, b Appointment) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	if c := a.Time.Compare(b.Time); c != 0 {
		return c
	}
	return cmpInt64(a.ID, b.ID)
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
