package appointment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore is the embedded SQL backend. It expects a handle limited to one
// open connection so every transaction is a single writer.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

type sqliteAppointmentRow struct {
	ID           int64          `db:"id"`
	PatientName  string         `db:"patient_name"`
	PatientPhone sql.NullString `db:"patient_phone"`
	DoctorName   string         `db:"doctor_name"`
	Date         string         `db:"appointment_date"`
	Time         string         `db:"appointment_time"`
	Status       string         `db:"status"`
	Notes        sql.NullString `db:"notes"`
	CreatedAt    string         `db:"created_at"`
}

const sqliteAppointmentColumns = `id, patient_name, patient_phone, doctor_name, appointment_date,
	appointment_time, status, notes, created_at`

func (r sqliteAppointmentRow) toAppointment() (Appointment, error) {
	date, err := ParseDate(r.Date)
	if err != nil {
		return Appointment{}, fmt.Errorf("appointment %d: %w", r.ID, err)
	}
	clock, err := ParseClockTime(r.Time)
	if err != nil {
		return Appointment{}, fmt.Errorf("appointment %d: %w", r.ID, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return Appointment{}, fmt.Errorf("appointment %d created_at: %w", r.ID, err)
	}

	return Appointment{
		ID:           r.ID,
		PatientName:  r.PatientName,
		PatientPhone: nullString(r.PatientPhone),
		DoctorName:   r.DoctorName,
		Date:         date,
		Time:         clock,
		Status:       AppointmentStatus(r.Status),
		Notes:        nullString(r.Notes),
		CreatedAt:    createdAt,
	}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, in NewAppointment) (*Appointment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin create appointment", err)
	}
	defer tx.Rollback()

	taken, err := sqliteSlotTaken(ctx, tx, in.Slot())
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrConflict
	}

	createdAt := s.now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO appointments (patient_name, patient_phone, doctor_name, appointment_date,
			appointment_time, status, notes, created_at)
		VALUES (?, ?, ?, ?, ?, 'scheduled', ?, ?)
	`, in.PatientName, in.PatientPhone, in.DoctorName, in.Date.String(), in.Time.String(),
		in.Notes, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, unavailable("insert appointment", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, unavailable("insert appointment", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit appointment", err)
	}

	return &Appointment{
		ID:           id,
		PatientName:  in.PatientName,
		PatientPhone: cloneString(in.PatientPhone),
		DoctorName:   in.DoctorName,
		Date:         in.Date,
		Time:         in.Time,
		Status:       StatusScheduled,
		Notes:        cloneString(in.Notes),
		CreatedAt:    createdAt,
	}, nil
}

func (s *SQLiteStore) ConflictExists(ctx context.Context, slot SlotKey) (bool, error) {
	return sqliteSlotTaken(ctx, s.db, slot)
}

func sqliteSlotTaken(ctx context.Context, q sqlx.QueryerContext, slot SlotKey) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `
		SELECT COUNT(1) FROM appointments
		WHERE doctor_name = ? AND appointment_date = ? AND appointment_time = ?
		  AND status <> 'cancelled'
	`, slot.Doctor, slot.Date.String(), slot.Time.String())
	if err != nil {
		return false, unavailable("check conflict", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]Appointment, error) {
	return s.selectAppointments(ctx, "list appointments", `
		SELECT `+sqliteAppointmentColumns+`
		FROM appointments
		ORDER BY appointment_date DESC, appointment_time ASC, id ASC
	`)
}

func (s *SQLiteStore) ListByDateRange(ctx context.Context, start, end Date) ([]Appointment, error) {
	return s.selectAppointments(ctx, "list appointments by date range", `
		SELECT `+sqliteAppointmentColumns+`
		FROM appointments
		WHERE appointment_date BETWEEN ? AND ?
		ORDER BY appointment_date ASC, appointment_time ASC, id ASC
	`, start.String(), end.String())
}

func (s *SQLiteStore) selectAppointments(ctx context.Context, op, query string, args ...any) ([]Appointment, error) {
	var rows []sqliteAppointmentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, unavailable(op, err)
	}

	out := make([]Appointment, 0, len(rows))
	for _, row := range rows {
		a, err := row.toAppointment()
		if err != nil {
			return nil, unavailable(op, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, status AppointmentStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE appointments SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return false, ErrConflict
		}
		return false, unavailable("update appointment status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("update appointment status", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListActiveDoctors(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names, `SELECT name FROM doctors WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, unavailable("list doctors", err)
	}
	return names, nil
}

func (s *SQLiteStore) SetDoctorActive(ctx context.Context, name string, active bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE doctors SET active = ? WHERE name = ?`, active, name)
	if err != nil {
		return false, unavailable("update doctor", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("update doctor", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SeedDefaults(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("begin seed", err)
	}
	defer tx.Rollback()

	var doctors int
	if err := tx.GetContext(ctx, &doctors, `SELECT COUNT(1) FROM doctors`); err != nil {
		return unavailable("count doctors", err)
	}
	if doctors == 0 {
		for _, d := range DefaultDoctors() {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO doctors (name, specialization, phone, email, active)
				VALUES (?, ?, ?, ?, ?)
			`, d.Name, d.Specialization, d.Phone, d.Email, d.Active)
			if err != nil {
				return unavailable("seed doctor", err)
			}
		}
	}

	var accounts int
	if err := tx.GetContext(ctx, &accounts, `SELECT COUNT(1) FROM users`); err != nil {
		return unavailable("count users", err)
	}
	if accounts == 0 {
		for _, a := range DefaultAccounts() {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO users (username, password, role) VALUES (?, ?, ?)
			`, a.Username, a.Password, string(a.Role))
			if err != nil {
				return unavailable("seed user", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit seed", err)
	}
	return nil
}

func (s *SQLiteStore) Authenticate(ctx context.Context, username, password string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(1) FROM users WHERE username = ? AND password = ?
	`, username, password)
	if err != nil {
		return false, unavailable("authenticate", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) RoleOf(ctx context.Context, username string) (Role, error) {
	var role string
	err := s.db.GetContext(ctx, &role, `SELECT role FROM users WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return RoleStaff, nil
	}
	if err != nil {
		return RoleStaff, unavailable("role lookup", err)
	}
	return Role(role), nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping sqlite", err)
	}
	return nil
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
