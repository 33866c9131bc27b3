package debugger

// State of a tracer
type State int

const (
	Detached State = iota
	Running
	Stepping
	Stopped
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Running:
		return "running"
	case Stepping:
		return "stepping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Mode is the step mode while Stepping
type Mode string

const (
	ModeNone Mode = ""
	ModeInto Mode = "into"
	ModeOver Mode = "over"
	ModeOut  Mode = "out"
)
