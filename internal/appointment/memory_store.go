package appointment

import (
	"context"
	"slices"
	"sync"
	"time"
)

type statePart int

const (
	partAppointments statePart = iota
	partDoctors
	partAccounts
)

type memoryState struct {
	NextID       int64
	Appointments []Appointment
	Doctors      []Doctor
	Accounts     []Account
}

// persistFunc is called with the write lock held after a mutation. A non-nil
// error makes the store undo the mutation.
type persistFunc func(part statePart, st *memoryState) error

// MemoryStore keeps every record in process memory. Writers hold the write
// lock across check-then-insert; readers share the read lock.
type MemoryStore struct {
	mu      sync.RWMutex
	state   memoryState
	persist persistFunc
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return newMemoryStore(memoryState{NextID: 1}, nil)
}

func newMemoryStore(st memoryState, persist persistFunc) *MemoryStore {
	if st.NextID < 1 {
		st.NextID = 1
	}
	return &MemoryStore{state: st, persist: persist, now: time.Now}
}

func (s *MemoryStore) Create(ctx context.Context, in NewAppointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("create appointment", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflictLocked(in.Slot()) {
		return nil, ErrConflict
	}

	appt := Appointment{
		ID:           s.state.NextID,
		PatientName:  in.PatientName,
		PatientPhone: cloneString(in.PatientPhone),
		DoctorName:   in.DoctorName,
		Date:         in.Date,
		Time:         in.Time,
		Status:       StatusScheduled,
		Notes:        cloneString(in.Notes),
		CreatedAt:    s.now().UTC(),
	}

	s.state.NextID++
	s.state.Appointments = append(s.state.Appointments, appt)

	if err := s.flush(partAppointments); err != nil {
		// NextID stays advanced so the failed id is never handed out.
		s.state.Appointments = s.state.Appointments[:len(s.state.Appointments)-1]
		return nil, err
	}

	out := appt.clone()
	return &out, nil
}

func (s *MemoryStore) ConflictExists(ctx context.Context, slot SlotKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("check conflict", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conflictLocked(slot), nil
}

func (s *MemoryStore) conflictLocked(slot SlotKey) bool {
	for _, a := range s.state.Appointments {
		if a.Status != StatusCancelled && a.Slot() == slot {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list appointments", err)
	}

	s.mu.RLock()
	out := make([]Appointment, 0, len(s.state.Appointments))
	for _, a := range s.state.Appointments {
		out = append(out, a.clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, byListingOrder)
	return out, nil
}

func (s *MemoryStore) ListByDateRange(ctx context.Context, start, end Date) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list appointments by date range", err)
	}

	s.mu.RLock()
	out := []Appointment{}
	for _, a := range s.state.Appointments {
		if a.Date.Compare(start) >= 0 && a.Date.Compare(end) <= 0 {
			out = append(out, a.clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, byCalendarOrder)
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id int64, status AppointmentStatus) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("update appointment status", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.state.Appointments, func(a Appointment) bool { return a.ID == id })
	if idx < 0 {
		return false, nil
	}

	prev := s.state.Appointments[idx].Status
	if prev == StatusCancelled && status != StatusCancelled &&
		s.conflictLocked(s.state.Appointments[idx].Slot()) {
		return false, ErrConflict
	}
	s.state.Appointments[idx].Status = status
	if err := s.flush(partAppointments); err != nil {
		s.state.Appointments[idx].Status = prev
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) ListActiveDoctors(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list doctors", err)
	}

	s.mu.RLock()
	names := make([]string, 0, len(s.state.Doctors))
	for _, d := range s.state.Doctors {
		if d.Active {
			names = append(names, d.Name)
		}
	}
	s.mu.RUnlock()

	slices.Sort(names)
	return names, nil
}

// SeedDefaults seeds both the doctor roster and the default accounts; each
// part is only written when it is empty.
func (s *MemoryStore) SeedDefaults(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable("seed defaults", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.state.Doctors) == 0 {
		s.state.Doctors = DefaultDoctors()
		if err := s.flush(partDoctors); err != nil {
			s.state.Doctors = nil
			return err
		}
	}
	if len(s.state.Accounts) == 0 {
		s.state.Accounts = DefaultAccounts()
		if err := s.flush(partAccounts); err != nil {
			s.state.Accounts = nil
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Authenticate(ctx context.Context, username, password string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("authenticate", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.state.Accounts {
		if a.Username == username {
			return a.Password == password, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) RoleOf(ctx context.Context, username string) (Role, error) {
	if err := ctx.Err(); err != nil {
		return RoleStaff, unavailable("role lookup", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.state.Accounts {
		if a.Username == username {
			return a.Role, nil
		}
	}
	return RoleStaff, nil
}

// SetDoctorActive toggles a doctor's availability; deactivated doctors keep
// their historical appointments.
func (s *MemoryStore) SetDoctorActive(ctx context.Context, name string, active bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("update doctor", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.state.Doctors, func(d Doctor) bool { return d.Name == name })
	if idx < 0 {
		return false, nil
	}
	prev := s.state.Doctors[idx].Active
	s.state.Doctors[idx].Active = active
	if err := s.flush(partDoctors); err != nil {
		s.state.Doctors[idx].Active = prev
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) flush(part statePart) error {
	if s.persist == nil {
		return nil
	}
	return s.persist(part, &s.state)
}

func (a Appointment) clone() Appointment {
	a.PatientPhone = cloneString(a.PatientPhone)
	a.Notes = cloneString(a.Notes)
	return a
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
