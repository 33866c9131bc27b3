package session

// State is the connection state of a session
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// EvaluationKind modifies how the worker evaluates an expression
type EvaluationKind uint32

const (
	Normal EvaluationKind = 0
	// Reentrant may run while the worker is stopped in the debugger
	Reentrant EvaluationKind = 1 << 0
	// Cancelable may be interrupted
	Cancelable EvaluationKind = 1 << 1
	// Mutating may change interpreter state
	Mutating EvaluationKind = 1 << 2
	// BaseEnv evaluates in the base environment
	BaseEnv EvaluationKind = 1 << 3
	// EmptyEnv evaluates in an empty environment
	EmptyEnv EvaluationKind = 1 << 4
	// NewEnv evaluates in a fresh child of the global environment
	NewEnv EvaluationKind = 1 << 5
)
