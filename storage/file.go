package storage

import (
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	stateFileName = "state"
	lockFileName  = "LOCK"
)

// File keeps the state in a single file under a data directory. Writes
// go through O_SYNC so Save returns only once the bytes are durable.
type File struct {
	mu   sync.Mutex
	dir  string
	file *os.File // underlying file
	lock *os.File
}

// Open prepares dir and takes an exclusive lock on it.
func Open(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lock, err := lockDir(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, stateFileName), os.O_CREATE|os.O_RDWR|os.O_SYNC, 0o644)
	if err != nil {
		_ = unlockDir(lock)
		return nil, err
	}
	return &File{dir: dir, file: f, lock: lock}, nil
}

func (f *File) Dir() string { return f.dir }

// Load returns the stored state, or Default() if nothing was saved yet.
func (f *File) Load() (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(f.file)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return Default(), nil
	}
	return decode(raw)
}

// Save overwrites the stored state.
func (f *File) Save(st *State) error {
	raw, err := encode(st)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(raw)
}

// write rewinds the file and replaces its content. The old bytes are cut
// only after the new ones are on disk, so a torn write fails the checksum
// instead of looking like a fresh node.
func (f *File) write(raw []byte) error {
	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := f.file.Write(raw); err != nil {
		return err
	}
	return f.file.Truncate(int64(len(raw)))
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.file.Close()
	if lerr := unlockDir(f.lock); err == nil {
		err = lerr
	}
	return err
}
