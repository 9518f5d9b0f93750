package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Key is the fixed record name the run is stored under.
const Key = "autoapply.run"

var (
	// ErrNotFound is returned by Load when no run has been persisted.
	ErrNotFound = errors.New("run state not found")
	// ErrVersionConflict is returned by Save when the stored record moved since it was loaded.
	ErrVersionConflict = errors.New("run state version conflict")
	// ErrIncompatibleSchema is returned by Load for records written with another SchemaVersion.
	ErrIncompatibleSchema = errors.New("incompatible run state schema")
)

// Store persists the single RunState record.
//
// Save is optimistic: st.Version must equal the stored version (zero when
// nothing is stored). On success the stored and in-memory versions are both
// incremented.
type Store interface {
	Load(ctx context.Context) (*RunState, error)
	Save(ctx context.Context, st *RunState) error
	Delete(ctx context.Context) error
	Close() error
}

func decode(data []byte) (*RunState, error) {
	var st RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode run state: %w", err)
	}
	if st.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleSchema, st.SchemaVersion, SchemaVersion)
	}
	return &st, nil
}

func encode(st *RunState, version int64) ([]byte, error) {
	out := *st
	out.SchemaVersion = SchemaVersion
	out.Version = version
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode run state: %w", err)
	}
	return data, nil
}

// FileStore keeps the record as a JSON document on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store writing to path. The parent directory is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(ctx context.Context) (*RunState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.load()
}

func (f *FileStore) load() (*RunState, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return decode(data)
}

func (f *FileStore) Save(ctx context.Context, st *RunState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var stored int64
	current, err := f.load()
	switch {
	case err == nil:
		stored = current.Version
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrIncompatibleSchema):
	default:
		return err
	}

	if stored != st.Version {
		return fmt.Errorf("%w: stored %d, have %d", ErrVersionConflict, stored, st.Version)
	}

	data, err := encode(st, st.Version+1)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".autoapply-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	st.SchemaVersion = SchemaVersion
	st.Version++
	return nil
}

func (f *FileStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

// MemoryStore keeps the encoded record in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (*RunState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return nil, ErrNotFound
	}
	return decode(m.data)
}

func (m *MemoryStore) Save(ctx context.Context, st *RunState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var stored int64
	if m.data != nil {
		current, err := decode(m.data)
		if err != nil && !errors.Is(err, ErrIncompatibleSchema) {
			return err
		}
		if current != nil {
			stored = current.Version
		}
	}
	if stored != st.Version {
		return fmt.Errorf("%w: stored %d, have %d", ErrVersionConflict, stored, st.Version)
	}

	data, err := encode(st, st.Version+1)
	if err != nil {
		return err
	}
	m.data = data
	st.SchemaVersion = SchemaVersion
	st.Version++
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

func (m *MemoryStore) Close() error { return nil }
