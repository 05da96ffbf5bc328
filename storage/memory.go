package storage

import "sync"

// Memory keeps the state in process. It is meant for tests and for
// running several nodes in one process.
type Memory struct {
	mu    sync.Mutex
	state *State
	saves int

	// FailWith, when set, is returned by every Save.
	FailWith error
}

// NewMemory returns a store preloaded with st; nil means nothing saved.
func NewMemory(st *State) *Memory {
	m := &Memory{}
	if st != nil {
		m.state = st.Clone()
	}
	return m
}

func (m *Memory) Load() (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return Default(), nil
	}
	return m.state.Clone(), nil
}

func (m *Memory) Save(st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.state = st.Clone()
	m.saves++
	return nil
}

// Saves reports how many Save calls succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Last returns a copy of the last saved state, nil if none.
func (m *Memory) Last() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	return m.state.Clone()
}
