package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gabrielsou/chatfold/internal/bus"
)

// State represents the filter registry load state.
type State string

const (
	NotLoaded State = "NOT_LOADED"
	Loading   State = "LOADING"
	Loaded    State = "LOADED"
)

// validTransitions defines allowed state transitions. Loaded -> Loading is
// the reload path; the only way back to NotLoaded is Reset (session teardown).
var validTransitions = map[State][]State{
	NotLoaded: {Loading, Loaded},
	Loading:   {Loaded, NotLoaded},
	Loaded:    {Loading},
}

// Machine tracks and enforces registry load state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in NotLoaded state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: NotLoaded,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindFiltersStatus,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// Reset forces the machine back to NotLoaded, bypassing transition checks.
// Used only on session teardown.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = NotLoaded
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
