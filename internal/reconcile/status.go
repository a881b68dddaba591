package reconcile

import "sync"

// State is the health of one agent component.
type State string

const (
	// StateActive means the component last applied its input successfully.
	StateActive State = "active"
	// StateBlocked means the component refused its last input and keeps
	// running on the previously accepted one.
	StateBlocked State = "blocked"
)

// Component names for the composite status.
const (
	ComponentConfig  = "config_file"
	ComponentProbes  = "probes_file"
	ComponentPublish = "publish"
)

// ComponentStatus carries the state of a component with an operator-facing
// reason.
type ComponentStatus struct {
	State   State  `json:"state"`
	Message string `json:"message,omitempty"`
}

// Status tracks per-component health. A rejected config never crashes the
// agent; it shows up here instead, and the previous configuration stays
// active.
type Status struct {
	mu         sync.RWMutex
	components map[string]ComponentStatus
}

// NewStatus returns a Status with all components active.
func NewStatus() *Status {
	return &Status{
		components: map[string]ComponentStatus{
			ComponentConfig:  {State: StateActive},
			ComponentProbes:  {State: StateActive},
			ComponentPublish: {State: StateActive},
		},
	}
}

// SetActive marks a component healthy.
func (s *Status) SetActive(component string) {
	s.set(component, ComponentStatus{State: StateActive})
}

// SetBlocked marks a component blocked with a reason.
func (s *Status) SetBlocked(component, message string) {
	s.set(component, ComponentStatus{State: StateBlocked, Message: message})
}

func (s *Status) set(component string, status ComponentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[component] = status
}

// Get returns the status of one component.
func (s *Status) Get(component string) ComponentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.components[component]
}

// Snapshot returns a copy of all component statuses.
func (s *Status) Snapshot() map[string]ComponentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ComponentStatus, len(s.components))
	for k, v := range s.components {
		out[k] = v
	}
	return out
}

// Degraded reports whether any component is blocked.
func (s *Status) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, status := range s.components {
		if status.State != StateActive {
			return true
		}
	}
	return false
}
