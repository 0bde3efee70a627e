package daemon

// State is the lifecycle phase of a Daemon.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Request is an instruction delivered to a running daemon, usually by a
// signal from the CLI.
type Request int

const (
	RequestShutdown Request = iota
	RequestFlush
	RequestReset
)

func (r Request) String() string {
	switch r {
	case RequestFlush:
		return "flush"
	case RequestReset:
		return "reset"
	default:
		return "shutdown"
	}
}
