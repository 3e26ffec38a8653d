package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	appointmentsFileName = "appointments.json"
	doctorsFileName      = "doctors.json"
	accountsFileName     = "accounts.json"
)

type appointmentsFile struct {
	NextID       int64         `json:"next_id"`
	Appointments []Appointment `json:"appointments"`
}

// FileStore is the memory backend with every mutation written through to JSON
// files in a data directory before the write lock is released.
type FileStore struct {
	*MemoryStore
	dir string
}

// OpenFileStore loads the data directory, creating it if needed. Missing files
// start empty; unreadable or corrupt files are reported as ErrStorageUnavailable.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, unavailable("create data dir", err)
	}

	var st memoryState

	var appts appointmentsFile
	if err := readJSON(filepath.Join(dir, appointmentsFileName), &appts); err != nil {
		return nil, err
	}
	st.Appointments = appts.Appointments
	st.NextID = appts.NextID
	for _, a := range st.Appointments {
		if a.ID >= st.NextID {
			st.NextID = a.ID + 1
		}
	}

	if err := readJSON(filepath.Join(dir, doctorsFileName), &st.Doctors); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, accountsFileName), &st.Accounts); err != nil {
		return nil, err
	}

	fsStore := &FileStore{dir: dir}
	fsStore.MemoryStore = newMemoryStore(st, fsStore.persist)
	return fsStore, nil
}

func (f *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(f.dir); err != nil {
		return unavailable("stat data dir", err)
	}
	return nil
}

func (f *FileStore) persist(part statePart, st *memoryState) error {
	switch part {
	case partAppointments:
		return writeJSON(filepath.Join(f.dir, appointmentsFileName), appointmentsFile{
			NextID:       st.NextID,
			Appointments: st.Appointments,
		})
	case partDoctors:
		return writeJSON(filepath.Join(f.dir, doctorsFileName), st.Doctors)
	case partAccounts:
		return writeJSON(filepath.Join(f.dir, accountsFileName), st.Accounts)
	default:
		return fmt.Errorf("unknown state part %d", part)
	}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return unavailable("read "+filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return unavailable("decode "+filepath.Base(path), err)
	}
	return nil
}

// writeJSON replaces path atomically via a temp file in the same directory.
func writeJSON(path string, v any) error {
	op := "write " + filepath.Base(path)

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return unavailable(op, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return unavailable(op, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return unavailable(op, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return unavailable(op, err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable(op, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return unavailable(op, err)
	}
	return nil
}
