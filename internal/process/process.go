package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// State is the lifecycle phase of a managed handle. Transitions are
// monotonic: Starting -> Running -> Stopped, or Starting -> Failed.
// A handle never re-enters Starting.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
)

// rank encodes the permitted direction of state transitions.
func (s State) rank() int {
	switch s {
	case StateStarting:
		return 0
	case StateRunning:
		return 1
	case StateFailed, StateStopped:
		return 2
	default:
		return -1
	}
}

// SpawnError reports a synchronous launch failure: missing binary, bad
// working directory, permission denied. It is never retried at this layer.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Name, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// Status is a point-in-time snapshot of a handle, safe to hand to observers.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitErr   string    `json:"exit_error,omitempty"`
}

// Handle is a tracked child process. It is created by Start and owned by the
// orchestrator; concurrent readers use Snapshot.
type Handle struct {
	mu        sync.Mutex
	spec      Spec
	state     State
	pid       int
	startedAt time.Time
	stoppedAt time.Time
	exitErr   error
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	waitDone  chan struct{} // closed by the reaper when cmd.Wait returns
}

// Start spawns the command described by spec. It is non-blocking: the handle
// is returned in StateStarting as soon as the child exists and a reaper
// goroutine has taken ownership of Wait. Readiness is observed separately.
func Start(spec Spec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd)

	h := &Handle{spec: spec, state: StateStarting}

	if spec.Log.Dir != "" || spec.Log.StdoutPath != "" || spec.Log.StderrPath != "" {
		if spec.Log.Dir != "" {
			_ = os.MkdirAll(spec.Log.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.Writers(spec.Name)
		h.outCloser, h.errCloser = outW, errW
	}
	if h.outCloser != nil {
		cmd.Stdout = h.outCloser
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if h.errCloser != nil {
		cmd.Stderr = h.errCloser
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}

	if err := cmd.Start(); err != nil {
		h.closeWriters()
		return nil, &SpawnError{Name: spec.Name, Err: err}
	}

	h.mu.Lock()
	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	h.waitDone = make(chan struct{})
	h.mu.Unlock()

	go h.reap(cmd)
	return h, nil
}

// reap waits for the child, records the exit and closes waitDone. A child
// that exits before reaching Running is a failed start; one that exits later
// is a normal stop.
func (h *Handle) reap(cmd *exec.Cmd) {
	err := cmd.Wait()
	h.mu.Lock()
	h.stoppedAt = time.Now()
	h.exitErr = err
	switch h.state {
	case StateStarting:
		h.state = StateFailed
	case StateRunning:
		h.state = StateStopped
	}
	wd := h.waitDone
	h.waitDone = nil
	h.mu.Unlock()
	h.closeWriters()
	if wd != nil {
		close(wd)
	}
}

// Transition moves the handle to next if the move is forward; backwards
// moves are rejected so observers never see Running after Stopped.
func (h *Handle) Transition(next State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if next.rank() <= h.state.rank() && next != h.state {
		return fmt.Errorf("invalid state transition %s -> %s for %s", h.state, next, h.spec.Name)
	}
	h.state = next
	return nil
}

// MarkFailed is Transition(StateFailed) without an error result; used when a
// readiness timeout demotes a handle that may already have exited.
func (h *Handle) MarkFailed() { _ = h.Transition(StateFailed) }

// Name returns the service name the handle was started for.
func (h *Handle) Name() string { return h.spec.Name }

// PID returns the child's process id (0 before a successful spawn).
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// StartedAt returns the spawn timestamp.
func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

// State returns the current lifecycle phase.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// WaitDone returns a channel closed when the child has been reaped, or nil
// when it already has been.
func (h *Handle) WaitDone() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitDone
}

// Alive reports whether the child process still exists. It checks the real
// process table rather than recorded state so that a crashed child is
// observed even before the reaper runs.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	pid := h.pid
	wd := h.waitDone
	h.mu.Unlock()
	if pid <= 0 || wd == nil {
		return false
	}
	return processExists(pid)
}

// Terminate asks the child's process group to exit gracefully.
func (h *Handle) Terminate() error {
	pid := h.PID()
	if pid <= 0 {
		return nil
	}
	return terminateGroup(pid)
}

// Kill force-kills the child's process group.
func (h *Handle) Kill() error {
	pid := h.PID()
	if pid <= 0 {
		return nil
	}
	return killGroup(pid)
}

// Snapshot returns a copy of the current status.
func (h *Handle) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Status{
		Name:      h.spec.Name,
		State:     h.state,
		PID:       h.pid,
		StartedAt: h.startedAt,
		StoppedAt: h.stoppedAt,
	}
	if h.exitErr != nil {
		st.ExitErr = h.exitErr.Error()
	}
	return st
}

// ExitErr returns the recorded exit error, nil while the child runs.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *Handle) closeWriters() {
	h.mu.Lock()
	out, errW := h.outCloser, h.errCloser
	h.outCloser, h.errCloser = nil, nil
	h.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

// IsSpawnError reports whether err is a synchronous launch failure.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}
