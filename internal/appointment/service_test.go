package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.SeedDefaults(context.Background()))
	svc := NewService(Stores{
		Appointments: store,
		Directory:    store,
		Accounts:     store,
	}, ServiceConfig{StoreTimeout: time.Second}, zap.NewNop(), nil)
	return svc, store
}

func booking(patient, doctor, date, clock string) ScheduleRequest {
	return ScheduleRequest{PatientName: patient, DoctorName: doctor, Date: date, Time: clock}
}

func TestService_BookCancelRebook(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	alice, err := svc.ScheduleAppointment(ctx, booking("Alice", "Dr. Smith", "2024-06-01", "09:00"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), alice.ID)

	_, err = svc.ScheduleAppointment(ctx, booking("Bob", "Dr. Smith", "2024-06-01", "09:00"))
	require.ErrorIs(t, err, ErrConflict)

	all, err := svc.ListAppointments(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, svc.Cancel(ctx, alice.ID))

	bob, err := svc.ScheduleAppointment(ctx, booking("Bob", "Dr. Smith", "2024-06-01", "09:00"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), bob.ID)
}

func TestService_ScheduleThenConflictExists(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	taken, err := svc.ConflictExists(ctx, "Dr. Davis", "2024-08-10", "9:30")
	require.NoError(t, err)
	assert.False(t, taken)

	_, err = svc.ScheduleAppointment(ctx, booking("Carol", "Dr. Davis", "2024-08-10", "09:30"))
	require.NoError(t, err)

	// "9:30" and "09:30" name the same minute.
	taken, err = svc.ConflictExists(ctx, "Dr. Davis", "2024-08-10", "9:30")
	require.NoError(t, err)
	assert.True(t, taken)

	_, err = svc.ScheduleAppointment(ctx, booking("Dan", "Dr. Davis", "2024-08-10", "9:30"))
	require.ErrorIs(t, err, ErrConflict)
}

func TestService_RoundTripFields(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	req := ScheduleRequest{
		PatientName:  gofakeit.Name(),
		DoctorName:   "Dr. Williams",
		Date:         "2024-09-15",
		Time:         "14:45",
		PatientPhone: gofakeit.Phone(),
		Notes:        gofakeit.Sentence(6),
	}
	created, err := svc.ScheduleAppointment(ctx, req)
	require.NoError(t, err)

	all, err := svc.ListAppointments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	got := all[0]
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, req.PatientName, got.PatientName)
	assert.Equal(t, req.DoctorName, got.DoctorName)
	assert.Equal(t, req.Date, got.Date.String())
	assert.Equal(t, req.Time, got.Time.String())
	require.NotNil(t, got.PatientPhone)
	assert.Equal(t, req.PatientPhone, *got.PatientPhone)
	require.NotNil(t, got.Notes)
	assert.Equal(t, req.Notes, *got.Notes)
	assert.Equal(t, StatusScheduled, got.Status)
}

func TestService_OptionalFieldsBlankAreAbsent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	req := booking("  Erin  ", " Dr. Brown ", "2024-09-15", "08:00")
	req.PatientPhone = "   "
	req.Notes = ""

	a, err := svc.ScheduleAppointment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Erin", a.PatientName)
	assert.Equal(t, "Dr. Brown", a.DoctorName)
	assert.Nil(t, a.PatientPhone)
	assert.Nil(t, a.Notes)
}

func TestService_ScheduleValidation(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	tests := []struct {
		name    string
		req     ScheduleRequest
		wantErr error
		field   string
	}{
		{name: "missing patient", req: booking("  ", "Dr. Smith", "2024-06-01", "09:00"), wantErr: ErrMissingField, field: "patient_name"},
		{name: "missing doctor", req: booking("Alice", "", "2024-06-01", "09:00"), wantErr: ErrMissingField, field: "doctor_name"},
		{name: "missing date", req: booking("Alice", "Dr. Smith", "", "09:00"), wantErr: ErrMissingField, field: "appointment_date"},
		{name: "missing time", req: booking("Alice", "Dr. Smith", "2024-06-01", ""), wantErr: ErrMissingField, field: "appointment_time"},
		{name: "single digit minute", req: booking("Alice", "Dr. Smith", "2024-06-01", "9:5"), wantErr: ErrInvalidFormat, field: "appointment_time"},
		{name: "hour out of range", req: booking("Alice", "Dr. Smith", "2024-06-01", "25:00"), wantErr: ErrInvalidFormat, field: "appointment_time"},
		{name: "not a time", req: booking("Alice", "Dr. Smith", "2024-06-01", "abc"), wantErr: ErrInvalidFormat, field: "appointment_time"},
		{name: "bad date", req: booking("Alice", "Dr. Smith", "01/06/2024", "09:00"), wantErr: ErrInvalidFormat, field: "appointment_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ScheduleAppointment(ctx, tt.req)
			require.ErrorIs(t, err, tt.wantErr)

			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	res, err := svc.Login(ctx, "admin", "clinic123")
	require.NoError(t, err)
	assert.Equal(t, AuthResult{OK: true, Role: RoleAdmin}, res)

	res, err = svc.Login(ctx, " staff ", "staff123")
	require.NoError(t, err)
	assert.Equal(t, AuthResult{OK: true, Role: RoleStaff}, res)

	res, err = svc.Login(ctx, "admin", "nope")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Empty(t, res.Role)

	_, err = svc.Login(ctx, "", "clinic123")
	require.ErrorIs(t, err, ErrMissingField)

	_, err = svc.Login(ctx, "admin", "")
	require.ErrorIs(t, err, ErrMissingField)
}

func TestService_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	a, err := svc.ScheduleAppointment(ctx, booking("Alice", "Dr. Smith", "2024-06-01", "09:00"))
	require.NoError(t, err)

	require.NoError(t, svc.Complete(ctx, a.ID))
	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, all[0].Status)

	// Transitions are not policed: a completed visit can be rescheduled.
	require.NoError(t, svc.UpdateStatus(ctx, a.ID, "scheduled"))

	err = svc.UpdateStatus(ctx, a.ID, "archived")
	require.ErrorIs(t, err, ErrInvalidFormat)

	err = svc.UpdateStatus(ctx, a.ID, "")
	require.ErrorIs(t, err, ErrMissingField)

	err = svc.UpdateStatus(ctx, 404, "cancelled")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListAppointmentsInRange(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	for _, r := range []ScheduleRequest{
		booking("A", "Dr. Smith", "2024-06-01", "10:00"),
		booking("B", "Dr. Smith", "2024-06-05", "10:00"),
		booking("C", "Dr. Smith", "2024-06-09", "10:00"),
	} {
		_, err := svc.ScheduleAppointment(ctx, r)
		require.NoError(t, err)
	}

	got, err := svc.ListAppointmentsInRange(ctx, "2024-06-01", "2024-06-05")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, patients(got))

	got, err = svc.ListAppointmentsInRange(ctx, "2024-06-09", "2024-06-01")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = svc.ListAppointmentsInRange(ctx, "", "2024-06-01")
	require.ErrorIs(t, err, ErrMissingField)

	_, err = svc.ListAppointmentsInRange(ctx, "2024-06-01", "June")
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestService_ListDoctorsAndAvailability(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	doctors, err := svc.ListDoctors(ctx)
	require.NoError(t, err)
	assert.Len(t, doctors, 5)

	require.NoError(t, svc.SetDoctorActive(ctx, "Dr. Smith", false))
	doctors, err = svc.ListDoctors(ctx)
	require.NoError(t, err)
	assert.NotContains(t, doctors, "Dr. Smith")

	err = svc.SetDoctorActive(ctx, "Dr. Who", false)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_ConcurrentBookingsOneWinner(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	const callers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
		other     []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.ScheduleAppointment(ctx, booking(gofakeit.Name(), "Dr. Smith", "2024-06-01", "09:00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, created)
	assert.Equal(t, callers-1, conflicts)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	active := 0
	for _, a := range all {
		if a.Status != StatusCancelled {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

// blockingStore never answers until its context is done.
type blockingStore struct {
	*MemoryStore
}

func (blockingStore) Create(ctx context.Context, _ NewAppointment) (*Appointment, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) ListAll(ctx context.Context) ([]Appointment, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestService_StoreTimeoutIsStorageUnavailable(t *testing.T) {
	store := blockingStore{MemoryStore: NewMemoryStore()}
	svc := NewService(Stores{
		Appointments: store,
		Directory:    store,
		Accounts:     store,
	}, ServiceConfig{StoreTimeout: 20 * time.Millisecond}, zap.NewNop(), nil)

	start := time.Now()
	_, err := svc.ScheduleAppointment(context.Background(), booking("Alice", "Dr. Smith", "2024-06-01", "09:00"))
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	_, err = svc.ListAppointments(context.Background())
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

type failingAccounts struct {
	AccountStore
}

func (failingAccounts) Authenticate(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestService_BackendErrorsAreStorageUnavailable(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(Stores{
		Appointments: store,
		Directory:    store,
		Accounts:     failingAccounts{AccountStore: store},
	}, ServiceConfig{}, nil, nil)

	_, err := svc.Login(context.Background(), "admin", "clinic123")
	require.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes []string
	ops      []string
}

func (r *recordingRecorder) ObserveBooking(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingRecorder) ObserveStoreCall(op string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func TestService_RecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := &recordingRecorder{}
	svc := NewService(Stores{Appointments: store, Directory: store, Accounts: store}, ServiceConfig{}, nil, rec)

	_, _ = svc.ScheduleAppointment(ctx, booking("A", "Dr. Smith", "2024-06-01", "09:00"))
	_, _ = svc.ScheduleAppointment(ctx, booking("B", "Dr. Smith", "2024-06-01", "09:00"))
	_, _ = svc.ScheduleAppointment(ctx, booking("C", "Dr. Smith", "2024-06-01", "9:5"))

	assert.Equal(t, []string{OutcomeCreated, OutcomeConflict, OutcomeInvalid}, rec.outcomes)
	assert.Equal(t, []string{"create_appointment", "create_appointment"}, rec.ops)
}
