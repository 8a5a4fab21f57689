package process

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle position of a session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrAlreadyRunning is returned by Start while a process is attached.
var ErrAlreadyRunning = errors.New("process: session already running")

// SpawnError reports a process that could not be created.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("process: cannot start %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Exit describes a finished run. Code is -1 when the process was killed
// by a signal or never reported a status.
type Exit struct {
	SessionID string
	Command   string
	Args      []string
	Dir       string
	StartedAt time.Time
	EndedAt   time.Time
	Code      int
	Killed    bool
	Err       error
}

// SessionInfo is a read-only snapshot returned by Manager.List.
type SessionInfo struct {
	ID        string
	State     State
	PID       int
	CreatedAt time.Time
}
