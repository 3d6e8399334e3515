package archive

import "sync"

// Memory is an in-process archive backend. Used when no durable path is
// configured, and by tests.
type Memory struct {
	mu        sync.Mutex
	incidents []Incident
	nextID    int64
}

// NewMemory returns an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

// Insert archives an incident and returns its ID.
func (m *Memory) Insert(inc *Incident) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc.ID = m.nextID
	m.nextID++
	m.incidents = append(m.incidents, *inc)
	return inc.ID, nil
}

// Get retrieves an incident by ID. Returns nil when no incident matches.
func (m *Memory) Get(id int64) (*Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.incidents {
		if m.incidents[i].ID == id {
			inc := m.incidents[i]
			return &inc, nil
		}
	}
	return nil, nil
}

// GetByTickRange retrieves incidents captured within a tick range.
func (m *Memory) GetByTickRange(startTick, endTick uint64) ([]Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Incident
	for _, inc := range m.incidents {
		if inc.Tick >= startTick && inc.Tick <= endTick {
			out = append(out, inc)
		}
	}
	return out, nil
}

// GetByLevel retrieves incidents classified at the given threat level.
func (m *Memory) GetByLevel(level string) ([]Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Incident
	for _, inc := range m.incidents {
		if inc.ThreatLevel == level {
			out = append(out, inc)
		}
	}
	return out, nil
}

// LastSeal returns the seal of the most recently archived incident.
func (m *Memory) LastSeal() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.incidents) == 0 {
		return nil, nil
	}
	last := m.incidents[len(m.incidents)-1]
	return append([]byte(nil), last.Seal...), nil
}

// Count returns the number of archived incidents.
func (m *Memory) Count() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.incidents)), nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error { return nil }
