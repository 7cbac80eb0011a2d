package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// File names inside the state directory.
const (
	LockFile  = "devstack.lock"
	StateFile = "state.json"
)

// ChildRecord is one running child.
type ChildRecord struct {
	Role      string    `json:"role"`
	Pid       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// State is the on-disk record of a run.
type State struct {
	Pid       int           `json:"pid"`
	Root      string        `json:"root"`
	StartedAt time.Time     `json:"started_at"`
	Children  []ChildRecord `json:"children"`
}

// OwnerAlive reports whether the supervisor that wrote the state is still
// running.
func (s *State) OwnerAlive() bool {
	return pidAlive(s.Pid)
}

// LiveChildren returns the recorded children whose pids still exist.
func (s *State) LiveChildren() []ChildRecord {
	var live []ChildRecord
	for _, c := range s.Children {
		if pidAlive(c.Pid) {
			live = append(live, c)
		}
	}
	return live
}

// Read loads the state file at path. A missing file returns an error
// satisfying errors.Is(err, os.ErrNotExist).
func Read(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &st, nil
}

// Write atomically replaces the state file at path.
func Write(path string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Store keeps the state of the current run in sync with its file.
// Methods are safe for concurrent use.
type Store struct {
	path string

	mu    sync.Mutex
	state State
}

// Open prepares dir and returns a store for a new run. Nothing is written
// until Begin.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, StateFile)}, nil
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Begin records the start of a run by this process.
func (s *Store) Begin(root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{Pid: os.Getpid(), Root: root, StartedAt: time.Now().UTC()}
	return Write(s.path, &s.state)
}

// AddChild records a spawned child.
func (s *Store) AddChild(role string, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Children = append(s.state.Children, ChildRecord{Role: role, Pid: pid, StartedAt: time.Now().UTC()})
	return Write(s.path, &s.state)
}

// RemoveChild drops a child that has exited.
func (s *Store) RemoveChild(role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Children = slices.DeleteFunc(s.state.Children, func(c ChildRecord) bool {
		return c.Role == role
	})
	return Write(s.path, &s.state)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Children = slices.Clone(s.state.Children)
	return st
}

// Clear removes the state file at the end of a clean run.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
