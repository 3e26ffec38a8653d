package appointment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// PgExecutor is the subset of *pgxpool.Pool the Postgres backend uses.
type PgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PgRepository is the networked SQL backend. Check-then-insert runs under the
// slot lock; the partial unique index on active slots catches anything the
// lock misses.
type PgRepository struct {
	pool   PgExecutor
	locker Locker
}

func NewPgRepository(pool PgExecutor, locker Locker) *PgRepository {
	if locker == nil {
		locker = NewLocalSlotLocker()
	}
	return &PgRepository{pool: pool, locker: locker}
}

const pgAppointmentColumns = `id, patient_name, patient_phone, doctor_name,
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'),
	status, notes, created_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a      Appointment
		date   string
		clock  string
		status string
		phone  *string
		notes  *string
	)

	err := row.Scan(
		&a.ID,
		&a.PatientName,
		&phone,
		&a.DoctorName,
		&date,
		&clock,
		&status,
		&notes,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if a.Date, err = ParseDate(date); err != nil {
		return nil, err
	}
	if a.Time, err = ParseClockTime(clock); err != nil {
		return nil, err
	}
	a.Status = AppointmentStatus(status)
	a.PatientPhone = phone
	a.Notes = notes
	return &a, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, in NewAppointment) (*Appointment, error) {
	slot := in.Slot()
	var created *Appointment

	err := r.locker.WithSlotLock(ctx, slot.String(), func(lockCtx context.Context) error {
		// Re-check inside the critical section.
		taken, err := r.ConflictExists(lockCtx, slot)
		if err != nil {
			return err
		}
		if taken {
			return ErrConflict
		}

		row := r.pool.QueryRow(lockCtx, `
			INSERT INTO appointments (patient_name, patient_phone, doctor_name,
				appointment_date, appointment_time, status, notes)
			VALUES ($1, $2, $3, $4::date, $5::time, 'scheduled', $6)
			RETURNING `+pgAppointmentColumns,
			in.PatientName, in.PatientPhone, in.DoctorName, in.Date.String(), in.Time.String(), in.Notes)

		appt, err := scanAppointment(row)
		if err != nil {
			if isPgUniqueViolation(err) {
				return ErrConflict
			}
			return unavailable("insert appointment", err)
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) ConflictExists(ctx context.Context, slot SlotKey) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_name = $1
			  AND appointment_date = $2::date
			  AND appointment_time = $3::time
			  AND status <> 'cancelled'
		)
	`, slot.Doctor, slot.Date.String(), slot.Time.String()).Scan(&exists)
	if err != nil {
		return false, unavailable("check conflict", err)
	}
	return exists, nil
}

func (r *PgRepository) ListAll(ctx context.Context) ([]Appointment, error) {
	return r.queryAppointments(ctx, "list appointments", `
		SELECT `+pgAppointmentColumns+`
		FROM appointments
		ORDER BY appointment_date DESC, appointment_time ASC, id ASC
	`)
}

func (r *PgRepository) ListByDateRange(ctx context.Context, start, end Date) ([]Appointment, error) {
	return r.queryAppointments(ctx, "list appointments by date range", `
		SELECT `+pgAppointmentColumns+`
		FROM appointments
		WHERE appointment_date BETWEEN $1::date AND $2::date
		ORDER BY appointment_date ASC, appointment_time ASC, id ASC
	`, start.String(), end.String())
}

func (r *PgRepository) queryAppointments(ctx context.Context, op, sql string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}

	return result, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id int64, status AppointmentStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $2
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		if isPgUniqueViolation(err) {
			return false, ErrConflict
		}
		return false, unavailable("update appointment status", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) ListActiveDoctors(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name FROM doctors
		WHERE active
		ORDER BY name COLLATE "C"
	`)
	if err != nil {
		return nil, unavailable("list doctors", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, unavailable("list doctors", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list doctors", err)
	}
	return names, nil
}

func (r *PgRepository) SetDoctorActive(ctx context.Context, name string, active bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE doctors SET active = $2 WHERE name = $1`, name, active)
	if err != nil {
		return false, unavailable("update doctor", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SeedDefaults fills empty doctors and users tables in one transaction.
// ON CONFLICT keeps concurrent replicas from failing each other's startup.
func (r *PgRepository) SeedDefaults(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin seed", err)
	}
	defer tx.Rollback(ctx)

	var doctors int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM doctors`).Scan(&doctors); err != nil {
		return unavailable("count doctors", err)
	}
	if doctors == 0 {
		for _, d := range DefaultDoctors() {
			_, err := tx.Exec(ctx, `
				INSERT INTO doctors (name, specialization, phone, email, active)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (name) DO NOTHING
			`, d.Name, d.Specialization, d.Phone, d.Email, d.Active)
			if err != nil {
				return unavailable("seed doctor", err)
			}
		}
	}

	var users int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&users); err != nil {
		return unavailable("count users", err)
	}
	if users == 0 {
		for _, a := range DefaultAccounts() {
			_, err := tx.Exec(ctx, `
				INSERT INTO users (username, password, role)
				VALUES ($1, $2, $3)
				ON CONFLICT (username) DO NOTHING
			`, a.Username, a.Password, string(a.Role))
			if err != nil {
				return unavailable("seed user", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit seed", err)
	}
	return nil
}

func (r *PgRepository) Authenticate(ctx context.Context, username, password string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 AND password = $2)
	`, username, password).Scan(&ok)
	if err != nil {
		return false, unavailable("authenticate", err)
	}
	return ok, nil
}

func (r *PgRepository) RoleOf(ctx context.Context, username string) (Role, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT role FROM users WHERE username = $1`, username).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoleStaff, nil
	}
	if err != nil {
		return RoleStaff, unavailable("role lookup", err)
	}
	return Role(role), nil
}

func (r *PgRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return unavailable("ping postgres", err)
	}
	return nil
}
