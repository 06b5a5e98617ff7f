package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gmfranca/zapboard/internal/bus"
)

// State is the dashboard's connection state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Live, AuthRequired, Reconnecting, Degraded, Error},
	Live:         {Reconnecting, Degraded, AuthRequired, Error},
	Reconnecting: {Connecting, Live, Degraded, Error},
	Degraded:     {Connecting, Live, Reconnecting, Error},
	Error:        {Booting},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in the Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state, or returns an error if the transition is
// not allowed. Successful transitions are published as session.status events.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish("session.status", Change{From: from, To: to})
	}
	return nil
}

// Change is the payload of session.status events.
type Change struct {
	From State
	To   State
}
