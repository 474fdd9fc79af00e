package topology

// =============================================================================
// Service State Machine
// =============================================================================

// ServiceState is the lifecycle state of a registered service.
type ServiceState string

const (
	StateUnregistered ServiceState = "unregistered"
	StateRegistered   ServiceState = "registered"
	StateScheduled    ServiceState = "scheduled"
	StateRunning      ServiceState = "running"
	StateStopped      ServiceState = "stopped"
	StateFailed       ServiceState = "failed"
)

// validTransitions encodes the lifecycle:
// Unregistered -> Registered -> Scheduled -> Running -> (Stopped | Failed).
// A scheduled service may fail without ever running (start command rejected),
// and a stopped or failed service may be rescheduled for a restart.
var validTransitions = map[ServiceState][]ServiceState{
	StateUnregistered: {StateRegistered},
	StateRegistered:   {StateScheduled},
	StateScheduled:    {StateRunning, StateFailed, StateStopped},
	StateRunning:      {StateStopped, StateFailed},
	StateStopped:      {StateScheduled},
	StateFailed:       {StateScheduled},
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step.
func (s ServiceState) CanTransition(next ServiceState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the named service to the next state, enforcing the
// lifecycle.
func (t *Topology) Transition(service string, next ServiceState) error {
	current, ok := t.states[service]
	if !ok {
		return NewTopologyError("Transition", service, "service is not registered", ErrUnknownService)
	}
	if !current.CanTransition(next) {
		return NewTopologyError("Transition", service,
			"cannot move from "+string(current)+" to "+string(next), ErrInvalidTransition)
	}
	t.states[service] = next
	return nil
}

// State returns the current lifecycle state of the named service.
// Unknown services are Unregistered.
func (t *Topology) State(service string) ServiceState {
	if state, ok := t.states[service]; ok {
		return state
	}
	return StateUnregistered
}
