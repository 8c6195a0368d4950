package workload

// State enumerates the resting and transient phases of a workload.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Transient reports whether an operation is in flight for the state.
func (s State) Transient() bool {
	return s == StateStarting || s == StateStopping
}

// Status is the current phase of a workload. Message is only set for
// StateError and carries the diagnostic text.
type Status struct {
	State   State
	Message string
}

var (
	Stopped  = Status{State: StateStopped}
	Starting = Status{State: StateStarting}
	Running  = Status{State: StateRunning}
	Stopping = Status{State: StateStopping}
)

// Failed returns an error status carrying message.
func Failed(message string) Status {
	return Status{State: StateError, Message: message}
}

func (s Status) String() string {
	if s.State == StateError {
		return "Error: " + s.Message
	}
	return s.State.String()
}

// Is reports whether the status is in state st.
func (s Status) Is(st State) bool {
	return s.State == st
}
