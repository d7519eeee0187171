package stopper

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/geoai/stackctl/internal/process"
)

// Method selects how a service is brought down.
type Method string

const (
	// MethodSignal stops the tracked handle: graceful signal, then force
	// kill after the grace period.
	MethodSignal Method = "signal"
	// MethodKillByName discovers processes by image name and kills every
	// match.
	MethodKillByName Method = "kill-by-name"
	// MethodKillByPort kills whichever processes currently own the declared
	// listening port.
	MethodKillByPort Method = "kill-by-port"
)

// DefaultGracePeriod applies when the config leaves grace_period unset.
const DefaultGracePeriod = 5 * time.Second

// ErrStop wraps stop failures so teardown loops can classify them.
var ErrStop = errors.New("stop failed")

// Spec configures teardown for one service.
type Spec struct {
	Method      Method        `json:"method" mapstructure:"method"`
	GracePeriod time.Duration `json:"grace_period" mapstructure:"grace_period"`
	// Target is the image name for kill-by-name or the port for
	// kill-by-port. Unused for signal.
	Target string `json:"target" mapstructure:"target"`
}

// Validate checks the stop configuration.
func (s *Spec) Validate() error {
	switch s.Method {
	case "", MethodSignal:
		return nil
	case MethodKillByName, MethodKillByPort:
		if strings.TrimSpace(s.Target) == "" {
			return fmt.Errorf("stop method %s requires target", s.Method)
		}
		return nil
	default:
		return fmt.Errorf("unknown stop method %q", s.Method)
	}
}

func (s *Spec) grace() time.Duration {
	if s.GracePeriod > 0 {
		return s.GracePeriod
	}
	return DefaultGracePeriod
}

// Result reports what a stop call did. Untracked discovery records every
// terminated pid individually; a no-op (nothing found, or externally
// managed) leaves KilledPIDs empty with Skipped describing why.
type Result struct {
	KilledPIDs []int
	Skipped    string
}

// StopTracked gracefully stops a tracked handle: signal the process group,
// wait up to the grace period for the reaper to observe the exit, then force
// kill. Already-exited handles are a no-op.
func StopTracked(h *process.Handle, spec Spec, lg *slog.Logger) (Result, error) {
	if h == nil || !h.Alive() {
		return Result{Skipped: "not running"}, nil
	}
	pid := h.PID()
	if err := h.Terminate(); err != nil {
		// The child may have exited between the liveness check and the
		// signal; treat a dead target as success.
		if !h.Alive() {
			return Result{KilledPIDs: []int{pid}}, nil
		}
		return Result{}, fmt.Errorf("%w: terminate %s (pid %d): %v", ErrStop, h.Name(), pid, err)
	}
	wd := h.WaitDone()
	if wd == nil {
		return Result{KilledPIDs: []int{pid}}, nil
	}
	select {
	case <-wd:
		_ = h.Transition(process.StateStopped)
		return Result{KilledPIDs: []int{pid}}, nil
	case <-time.After(spec.grace()):
	}
	lg.Warn("grace period expired, force killing", "service", h.Name(), "pid", pid)
	if err := h.Kill(); err != nil && h.Alive() {
		return Result{}, fmt.Errorf("%w: kill %s (pid %d): %v", ErrStop, h.Name(), pid, err)
	}
	select {
	case <-wd:
	case <-time.After(200 * time.Millisecond):
		// best-effort; the reaper will still record the exit
	}
	_ = h.Transition(process.StateStopped)
	return Result{KilledPIDs: []int{pid}}, nil
}

// StopUntracked stops a service this session never spawned, discovering the
// process by image name or by listening-port owner. Both discoveries are
// imprecise; the policy is to kill all matches and log each pid. Finding
// nothing is a no-op, not an error.
func StopUntracked(spec Spec, lg *slog.Logger) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}
	var pids []int
	var err error
	switch spec.Method {
	case MethodKillByName:
		pids, err = DiscoverByName(spec.Target)
	case MethodKillByPort:
		pids, err = DiscoverByPort(spec.Target)
	default:
		return Result{Skipped: "no untracked discovery for method " + string(spec.Method)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: discover %s=%s: %v", ErrStop, spec.Method, spec.Target, err)
	}
	if len(pids) == 0 {
		lg.Info("no matching process found", "method", spec.Method, "target", spec.Target)
		return Result{Skipped: "no match"}, nil
	}
	return killAll(pids, spec, lg)
}

// killAll terminates every discovered pid: graceful signal first, force kill
// after the grace period for survivors. A pid whose identity changed since
// discovery (start time moved, meaning the pid was recycled) is skipped.
func killAll(pids []int, spec Spec, lg *slog.Logger) (Result, error) {
	stamps := make(map[int]int64, len(pids))
	for _, pid := range pids {
		stamps[pid] = procStartUnix(pid)
	}
	var killErr error
	res := Result{}
	for _, pid := range pids {
		if s := procStartUnix(pid); s != 0 && stamps[pid] != 0 && s != stamps[pid] {
			lg.Warn("pid recycled between discovery and kill, skipping", "pid", pid)
			continue
		}
		if err := process.TerminatePID(pid); err != nil {
			killErr = errors.Join(killErr, fmt.Errorf("terminate pid %d: %w", pid, err))
			continue
		}
		lg.Info("terminated untracked process", "method", spec.Method, "target", spec.Target, "pid", pid)
		res.KilledPIDs = append(res.KilledPIDs, pid)
	}
	if len(res.KilledPIDs) == 0 && killErr != nil {
		return res, fmt.Errorf("%w: %v", ErrStop, killErr)
	}

	deadline := time.Now().Add(spec.grace())
	for time.Now().Before(deadline) {
		if !anyAlive(res.KilledPIDs) {
			return res, killErr
		}
		time.Sleep(100 * time.Millisecond)
	}
	for _, pid := range res.KilledPIDs {
		if pidAlive(pid) {
			lg.Warn("grace period expired, force killing", "pid", pid)
			if err := process.KillPID(pid); err != nil {
				killErr = errors.Join(killErr, fmt.Errorf("kill pid %d: %w", pid, err))
			}
		}
	}
	if killErr != nil {
		return res, fmt.Errorf("%w: %v", ErrStop, killErr)
	}
	return res, nil
}

func anyAlive(pids []int) bool {
	for _, pid := range pids {
		if pidAlive(pid) {
			return true
		}
	}
	return false
}

// IsStopError reports whether err came from a stop attempt.
func IsStopError(err error) bool { return errors.Is(err, ErrStop) }
