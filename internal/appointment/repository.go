package appointment

import (
	"context"
)

// AppointmentStore is the durable set of appointments and the only place the
// exclusivity invariant is enforced.
type AppointmentStore interface {
	// Create checks the slot and inserts atomically with respect to other
	// creates for the same slot. Returns ErrConflict without writing when a
	// non-cancelled appointment already holds the slot.
	Create(ctx context.Context, in NewAppointment) (*Appointment, error)
	ConflictExists(ctx context.Context, slot SlotKey) (bool, error)

	// ListAll orders by date descending, then time ascending.
	ListAll(ctx context.Context) ([]Appointment, error)
	// ListByDateRange is inclusive on both ends, ordered by date then time ascending.
	ListByDateRange(ctx context.Context, start, end Date) ([]Appointment, error)

	// UpdateStatus returns false when id does not exist.
	UpdateStatus(ctx context.Context, id int64, status AppointmentStatus) (bool, error)
}

// DirectoryStore holds the doctors available for booking.
type DirectoryStore interface {
	ListActiveDoctors(ctx context.Context) ([]string, error)
	// SetDoctorActive returns false when no doctor has that name.
	SetDoctorActive(ctx context.Context, name string, active bool) (bool, error)
	// SeedDefaults inserts the default roster only when the directory is empty.
	SeedDefaults(ctx context.Context) error
}

// AccountStore holds user credentials and roles.
type AccountStore interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
	// RoleOf returns RoleStaff for unknown usernames.
	RoleOf(ctx context.Context, username string) (Role, error)
	// SeedDefaults inserts the default accounts only when the store is empty.
	SeedDefaults(ctx context.Context) error
}

// Locker guards the check-then-insert critical section per slot.
type Locker interface {
	WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
