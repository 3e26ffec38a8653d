package appointment

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	OutcomeCreated  = "created"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

const defaultStoreTimeout = 5 * time.Second

var tracer = otel.Tracer("clinic.scheduling")

// Recorder receives booking outcomes and store call timings.
type Recorder interface {
	ObserveBooking(outcome string)
	ObserveStoreCall(op string, elapsed time.Duration, err error)
}

type Stores struct {
	Appointments AppointmentStore
	Directory    DirectoryStore
	Accounts     AccountStore
}

type ServiceConfig struct {
	// StoreTimeout bounds every store call. Zero means the default.
	StoreTimeout time.Duration
}

// ScheduleRequest is the raw booking input as a front end collects it.
type ScheduleRequest struct {
	PatientName  string `json:"patient_name" validate:"required"`
	DoctorName   string `json:"doctor_name" validate:"required"`
	Date         string `json:"appointment_date" validate:"required"`
	Time         string `json:"appointment_time" validate:"required"`
	PatientPhone string `json:"patient_phone"`
	Notes        string `json:"notes"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type slotQuery struct {
	DoctorName string `json:"doctor_name" validate:"required"`
	Date       string `json:"appointment_date" validate:"required"`
	Time       string `json:"appointment_time" validate:"required"`
}

type rangeQuery struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

// Service is the single entry point front ends use. It validates input before
// any storage access and delegates everything else to its stores.
type Service struct {
	appts    AppointmentStore
	doctors  DirectoryStore
	accounts AccountStore

	timeout  time.Duration
	validate *validator.Validate
	logger   *zap.Logger
	recorder Recorder
}

func NewService(stores Stores, cfg ServiceConfig, logger *zap.Logger, recorder Recorder) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Service{
		appts:    stores.Appointments,
		doctors:  stores.Directory,
		accounts: stores.Accounts,
		timeout:  cfg.StoreTimeout,
		validate: newValidator(),
		logger:   logger,
		recorder: recorder,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkRequired returns a FieldError for the first empty required field.
func (s *Service) checkRequired(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return missingField(verrs[0].Field())
	}
	return err
}

// Login checks credentials and resolves the role. Bad credentials are not an
// error: the result has OK=false and no role.
func (s *Service) Login(ctx context.Context, username, password string) (AuthResult, error) {
	ctx, span := tracer.Start(ctx, "Service.Login")
	defer span.End()

	req := loginRequest{Username: strings.TrimSpace(username), Password: password}
	if err := s.checkRequired(req); err != nil {
		return AuthResult{}, err
	}
	span.SetAttributes(attribute.String("user.name", req.Username))

	ok, err := storeCall(ctx, s, "authenticate", func(ctx context.Context) (bool, error) {
		return s.accounts.Authenticate(ctx, req.Username, req.Password)
	})
	if err != nil {
		recordSpanError(span, err)
		return AuthResult{}, err
	}
	if !ok {
		s.logger.Info("login rejected", zap.String("username", req.Username))
		return AuthResult{OK: false}, nil
	}

	role, err := storeCall(ctx, s, "role_of", func(ctx context.Context) (Role, error) {
		return s.accounts.RoleOf(ctx, req.Username)
	})
	if err != nil {
		recordSpanError(span, err)
		return AuthResult{}, err
	}

	s.logger.Info("login accepted", zap.String("username", req.Username), zap.String("role", string(role)))
	return AuthResult{OK: true, Role: role}, nil
}

// ScheduleAppointment validates the request and books the slot.
func (s *Service) ScheduleAppointment(ctx context.Context, req ScheduleRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "Service.ScheduleAppointment")
	defer span.End()

	in, err := s.parseSchedule(req)
	if err != nil {
		s.recorder.ObserveBooking(OutcomeInvalid)
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(slotAttributes(in.Slot())...)

	appt, err := storeCall(ctx, s, "create_appointment", func(ctx context.Context) (*Appointment, error) {
		return s.appts.Create(ctx, in)
	})
	switch {
	case err == nil:
		s.recorder.ObserveBooking(OutcomeCreated)
		s.logger.Info("appointment scheduled",
			zap.Int64("appointment_id", appt.ID),
			zap.String("doctor", appt.DoctorName),
			zap.String("date", appt.Date.String()),
			zap.String("time", appt.Time.String()),
		)
		span.SetAttributes(attribute.Int64("appointment.id", appt.ID))
		return appt, nil
	case errors.Is(err, ErrConflict):
		s.recorder.ObserveBooking(OutcomeConflict)
		s.logger.Info("appointment slot taken", zap.String("slot", in.Slot().String()))
		span.SetAttributes(attribute.Bool("appointment.conflict", true))
		return nil, err
	default:
		s.recorder.ObserveBooking(OutcomeError)
		s.logger.Error("schedule appointment failed", zap.String("slot", in.Slot().String()), zap.Error(err))
		recordSpanError(span, err)
		return nil, err
	}
}

func (s *Service) parseSchedule(req ScheduleRequest) (NewAppointment, error) {
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.DoctorName = strings.TrimSpace(req.DoctorName)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)

	if err := s.checkRequired(req); err != nil {
		return NewAppointment{}, err
	}

	slot, err := parseSlot(req.DoctorName, req.Date, req.Time)
	if err != nil {
		return NewAppointment{}, err
	}

	return NewAppointment{
		PatientName:  req.PatientName,
		PatientPhone: optional(req.PatientPhone),
		DoctorName:   slot.Doctor,
		Date:         slot.Date,
		Time:         slot.Time,
		Notes:        optional(req.Notes),
	}, nil
}

func parseSlot(doctor, date, clock string) (SlotKey, error) {
	d, err := ParseDate(date)
	if err != nil {
		return SlotKey{}, invalidField("appointment_date", err)
	}
	t, err := ParseClockTime(clock)
	if err != nil {
		return SlotKey{}, invalidField("appointment_time", err)
	}
	return SlotKey{Doctor: doctor, Date: d, Time: t}, nil
}

// ConflictExists reports whether a non-cancelled appointment holds the slot.
func (s *Service) ConflictExists(ctx context.Context, doctor, date, clock string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Service.ConflictExists")
	defer span.End()

	q := slotQuery{
		DoctorName: strings.TrimSpace(doctor),
		Date:       strings.TrimSpace(date),
		Time:       strings.TrimSpace(clock),
	}
	if err := s.checkRequired(q); err != nil {
		return false, err
	}
	slot, err := parseSlot(q.DoctorName, q.Date, q.Time)
	if err != nil {
		return false, err
	}
	span.SetAttributes(slotAttributes(slot)...)

	taken, err := storeCall(ctx, s, "conflict_exists", func(ctx context.Context) (bool, error) {
		return s.appts.ConflictExists(ctx, slot)
	})
	if err != nil {
		recordSpanError(span, err)
		return false, err
	}
	return taken, nil
}

// ListAppointments returns every appointment, newest date first.
func (s *Service) ListAppointments(ctx context.Context) ([]Appointment, error) {
	ctx, span := tracer.Start(ctx, "Service.ListAppointments")
	defer span.End()

	appts, err := storeCall(ctx, s, "list_appointments", s.appts.ListAll)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return appts, nil
}

// ListAppointmentsInRange returns appointments dated start..end inclusive. A
// start after end matches nothing.
func (s *Service) ListAppointmentsInRange(ctx context.Context, start, end string) ([]Appointment, error) {
	ctx, span := tracer.Start(ctx, "Service.ListAppointmentsInRange")
	defer span.End()

	q := rangeQuery{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)}
	if err := s.checkRequired(q); err != nil {
		return nil, err
	}
	from, err := ParseDate(q.Start)
	if err != nil {
		return nil, invalidField("start", err)
	}
	to, err := ParseDate(q.End)
	if err != nil {
		return nil, invalidField("end", err)
	}
	span.SetAttributes(attribute.String("range.start", from.String()), attribute.String("range.end", to.String()))

	if from.Compare(to) > 0 {
		return []Appointment{}, nil
	}

	appts, err := storeCall(ctx, s, "list_appointments_range", func(ctx context.Context) ([]Appointment, error) {
		return s.appts.ListByDateRange(ctx, from, to)
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return appts, nil
}

// UpdateStatus moves an appointment to status. Any known status may replace
// any other; reactivating a cancelled appointment whose slot has since been
// rebooked is a conflict.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status string) error {
	ctx, span := tracer.Start(ctx, "Service.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.Int64("appointment.id", id), attribute.String("appointment.status", status))

	st := AppointmentStatus(strings.ToLower(strings.TrimSpace(status)))
	if st == "" {
		return missingField("status")
	}
	if !st.Valid() {
		return invalidField("status", fmt.Errorf("%w: unknown status %q", ErrInvalidFormat, status))
	}

	found, err := storeCall(ctx, s, "update_status", func(ctx context.Context) (bool, error) {
		return s.appts.UpdateStatus(ctx, id, st)
	})
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	if !found {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}

	s.logger.Info("appointment status updated", zap.Int64("appointment_id", id), zap.String("status", string(st)))
	return nil
}

// Cancel frees the appointment's slot.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	return s.UpdateStatus(ctx, id, string(StatusCancelled))
}

func (s *Service) Complete(ctx context.Context, id int64) error {
	return s.UpdateStatus(ctx, id, string(StatusCompleted))
}

// ListDoctors returns the active doctors alphabetically.
func (s *Service) ListDoctors(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Service.ListDoctors")
	defer span.End()

	names, err := storeCall(ctx, s, "list_doctors", s.doctors.ListActiveDoctors)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return names, nil
}

// SetDoctorActive shows or hides a doctor in selection lists. Existing
// appointments are untouched.
func (s *Service) SetDoctorActive(ctx context.Context, name string, active bool) error {
	ctx, span := tracer.Start(ctx, "Service.SetDoctorActive")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return missingField("name")
	}
	span.SetAttributes(attribute.String("doctor.name", name), attribute.Bool("doctor.active", active))

	found, err := storeCall(ctx, s, "set_doctor_active", func(ctx context.Context) (bool, error) {
		return s.doctors.SetDoctorActive(ctx, name, active)
	})
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	if !found {
		return fmt.Errorf("doctor %q: %w", name, ErrNotFound)
	}

	s.logger.Info("doctor availability updated", zap.String("doctor", name), zap.Bool("active", active))
	return nil
}

// storeCall bounds fn by the store timeout and folds anything outside the
// error taxonomy into ErrStorageUnavailable.
func storeCall[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	v, err := fn(ctx)
	if err != nil && (!isDomainError(err) || isTimeout(err)) {
		err = unavailable(op, err)
	}
	s.recorder.ObserveStoreCall(op, time.Since(start), err)
	return v, err
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func slotAttributes(slot SlotKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("doctor.name", slot.Doctor),
		attribute.String("appointment.date", slot.Date.String()),
		attribute.String("appointment.time", slot.Time.String()),
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

type nopRecorder struct{}

func (nopRecorder) ObserveBooking(string)                         {}
func (nopRecorder) ObserveStoreCall(string, time.Duration, error) {}
