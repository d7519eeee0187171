package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/geoai/stackctl/internal/envpath"
	"github.com/geoai/stackctl/internal/history"
	"github.com/geoai/stackctl/internal/logger"
	"github.com/geoai/stackctl/internal/metrics"
	"github.com/geoai/stackctl/internal/process"
	"github.com/geoai/stackctl/internal/readiness"
	"github.com/geoai/stackctl/internal/registry"
	"github.com/geoai/stackctl/internal/stopper"
)

// SessionState is the phase of the orchestration session.
type SessionState string

const (
	StateIdle              SessionState = "idle"
	StateResolving         SessionState = "resolving"
	StateStarting          SessionState = "starting"
	StateRunning           SessionState = "running"
	StateStoppingRequested SessionState = "stopping-requested"
	StateStopping          SessionState = "stopping"
	StateStopped           SessionState = "stopped"
	StateFatalError        SessionState = "fatal-error"
)

// Options tunes one Up or Down run.
type Options struct {
	// Only restricts the run to the named services.
	Only []string
	// OnFailure overrides every service's configured on-failure policy
	// when non-empty.
	OnFailure readiness.OnFailure
	// Parallel starts services whose dependencies are all settled
	// concurrently. Default is strictly sequential.
	Parallel bool
}

// Orchestrator drives the stack through resolve -> spawn -> probe on the way
// up and through reverse-order stop on the way down. It is the single writer
// of the handle map; observers read snapshots.
type Orchestrator struct {
	reg       *registry.Registry
	lg        *slog.Logger
	sink      history.Sink
	logDefs   logger.SinkConfig
	globalEnv []string // "K=V" overlay applied to every service
	sessionID string

	mu      sync.RWMutex
	state   SessionState
	handles map[string]*process.Handle
	results map[string]Outcome
}

// New builds an orchestrator over an already validated registry.
func New(reg *registry.Registry, lg *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:       reg,
		lg:        lg,
		sink:      history.Nop{},
		sessionID: newSessionID(),
		state:     StateIdle,
		handles:   make(map[string]*process.Handle),
		results:   make(map[string]Outcome),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.lg == nil {
		o.lg = slog.Default()
	}
	return o
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithHistory records session events to sink.
func WithHistory(sink history.Sink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithLogDefaults sets stack-wide per-service sink defaults.
func WithLogDefaults(c logger.SinkConfig) Option {
	return func(o *Orchestrator) { o.logDefs = c }
}

// WithGlobalEnv sets "K=V" pairs applied to every spawned service.
func WithGlobalEnv(kvs []string) Option {
	return func(o *Orchestrator) { o.globalEnv = append([]string(nil), kvs...) }
}

// State returns the current session state.
func (o *Orchestrator) State() SessionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s SessionState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Up starts the selected services in dependency order. It returns the
// per-service outcomes and a non-nil error when any mandatory service failed
// to reach ready, when the session was cancelled, or on configuration
// problems. Teardown of already running services on abort is part of the
// call.
func (o *Orchestrator) Up(ctx context.Context, opts Options) ([]Outcome, error) {
	o.setState(StateResolving)
	order, err := o.reg.StartOrder(opts.Only)
	if err != nil {
		o.setState(StateFatalError)
		return nil, err
	}
	o.record(history.Event{Type: history.EventSessionUp})
	o.setState(StateStarting)

	var sessionErr error
	aborted := false
	for _, wave := range o.waves(order, opts.Parallel) {
		if aborted {
			o.skipWave(wave, "aborted")
			continue
		}
		waveErr, abort := o.startWave(ctx, wave, opts)
		if waveErr != nil {
			sessionErr = errors.Join(sessionErr, waveErr)
		}
		if abort {
			aborted = true
			o.teardownStarted(context.WithoutCancel(ctx))
		}
	}

	if aborted {
		o.setState(StateStopped)
	} else {
		o.setState(StateRunning)
	}
	return o.outcomes(order), sessionErr
}

// waves groups the ordered services into start batches. Sequential mode
// yields one service per wave; parallel mode batches services whose
// dependencies are all in earlier waves.
func (o *Orchestrator) waves(order []registry.Definition, parallel bool) [][]registry.Definition {
	if !parallel {
		out := make([][]registry.Definition, len(order))
		for i := range order {
			out[i] = order[i : i+1]
		}
		return out
	}
	placed := make(map[string]int, len(order)) // name -> wave index
	var out [][]registry.Definition
	for _, def := range order {
		wave := 0
		for _, dep := range def.DependsOn {
			if w, ok := placed[dep]; ok && w+1 > wave {
				wave = w + 1
			}
		}
		for len(out) <= wave {
			out = append(out, nil)
		}
		placed[def.Name] = wave
		out[wave] = append(out[wave], def)
	}
	return out
}

// startWave drives every service of the wave through resolve -> spawn ->
// probe. It returns the joined error of the wave and whether the session
// must abort (a failure under abort policy, a strict unresolved environment,
// or cancellation).
func (o *Orchestrator) startWave(ctx context.Context, wave []registry.Definition, opts Options) (error, bool) {
	type res struct {
		err   error
		abort bool
	}
	results := make([]res, len(wave))
	var wg sync.WaitGroup
	for i := range wave {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err, abort := o.startOne(ctx, wave[i], opts)
			results[i] = res{err: err, abort: abort}
		}(i)
	}
	wg.Wait()
	var joined error
	abort := false
	for _, r := range results {
		if r.err != nil {
			joined = errors.Join(joined, r.err)
		}
		abort = abort || r.abort
	}
	return joined, abort
}

// startOne runs the full startup sequence for one service.
func (o *Orchestrator) startOne(ctx context.Context, def registry.Definition, opts Options) (error, bool) {
	lg := o.lg.With("service", def.Name)
	policy := def.Readiness.Policy()
	if opts.OnFailure != "" {
		policy = opts.OnFailure
	}

	if err := ctx.Err(); err != nil {
		o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeSkipped, Detail: "cancelled"})
		return fmt.Errorf("%s: %w", def.Name, err), true
	}

	// A failed dependency is never silently ignored: the dependent is
	// marked failed without being spawned.
	if failedDep := o.failedDependency(def); failedDep != "" {
		lg.Warn("dependency failed, not starting", "dependency", failedDep)
		o.fail(def.Name, 0, fmt.Sprintf("dependency %s failed", failedDep), "dependency_failed")
		// The root failure already decided whether to abort; marking a
		// dependent does not escalate it.
		return fmt.Errorf("%s: dependency %s failed", def.Name, failedDep), false
	}

	if def.ExternallyManaged {
		return o.confirmExternal(ctx, def, policy, lg)
	}

	// Resolve environment fallbacks against the live filesystem.
	resolved, err := envpath.ResolveAll(def.EnvFallback)
	if err != nil {
		lg.Error("environment resolution failed", "error", err)
		o.fail(def.Name, 0, err.Error(), "unresolved_environment")
		// Strict unresolved environment is a configuration-level failure;
		// it always aborts regardless of on-failure policy.
		return fmt.Errorf("%s: %w", def.Name, err), true
	}
	for _, r := range resolved {
		if r.Warning {
			lg.Warn("no candidate validated, using first candidate", "variable", r.Variable, "path", r.Path)
		} else {
			lg.Debug("resolved", "variable", r.Variable, "path", r.Path)
		}
	}

	spec := process.Spec{
		Name:    def.Name,
		Command: def.Command,
		Args:    def.Args,
		WorkDir: def.WorkDir,
		Env:     o.mergedEnv(def, resolved),
		Log:     o.logDefs.Merged(def.Log),
	}
	h, err := process.Start(spec)
	if err != nil {
		lg.Error("spawn failed", "error", err)
		o.fail(def.Name, 0, err.Error(), "spawn_error")
		return fmt.Errorf("%s: %w", def.Name, err), policy == readiness.OnFailureAbort
	}
	o.mu.Lock()
	o.handles[def.Name] = h
	o.mu.Unlock()
	metrics.IncStart(def.Name)
	metrics.SetState(def.Name, string(process.StateStarting), true)
	o.record(history.Event{Type: history.EventStart, Service: def.Name, PID: h.PID()})
	lg.Info("spawned", "pid", h.PID())

	waitStart := time.Now()
	err = readiness.WaitReady(ctx, def.Readiness, h.StartedAt())
	metrics.ObserveReadinessWait(def.Name, time.Since(waitStart).Seconds())

	if cancelErr := ctx.Err(); cancelErr != nil {
		// A stop request during Starting must terminate the partially
		// started process before any cleanup proceeds.
		lg.Warn("cancelled during startup, stopping partial start")
		_, _ = stopper.StopTracked(h, def.Stop, lg)
		o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeStopped, PID: h.PID(), Detail: "cancelled during startup"})
		return fmt.Errorf("%s: %w", def.Name, cancelErr), true
	}
	if err != nil {
		// The process is left running; healthiness and liveness are
		// tracked separately.
		lg.Error("readiness probe failed", "error", err)
		h.MarkFailed()
		o.fail(def.Name, h.PID(), err.Error(), "readiness_timeout")
		return fmt.Errorf("%s: %w", def.Name, err), policy == readiness.OnFailureAbort
	}
	if terr := h.Transition(process.StateRunning); terr != nil {
		// The child exited between the probe succeeding and now.
		lg.Error("service exited immediately after becoming ready")
		o.fail(def.Name, h.PID(), "exited after readiness", "early_exit")
		return fmt.Errorf("%s: exited after readiness", def.Name), policy == readiness.OnFailureAbort
	}
	metrics.SetState(def.Name, string(process.StateStarting), false)
	metrics.SetState(def.Name, string(process.StateRunning), true)
	o.record(history.Event{Type: history.EventReady, Service: def.Name, PID: h.PID()})
	o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeReady, PID: h.PID()})
	lg.Info("ready", "pid", h.PID(), "wait", time.Since(waitStart).Round(time.Millisecond).String())
	return nil, false
}

// confirmExternal probes an externally managed service without spawning or
// ever stopping it.
func (o *Orchestrator) confirmExternal(ctx context.Context, def registry.Definition, policy readiness.OnFailure, lg *slog.Logger) (error, bool) {
	if err := readiness.WaitReady(ctx, def.Readiness, time.Time{}); err != nil {
		lg.Error("externally managed service not ready", "error", err)
		o.fail(def.Name, 0, err.Error(), "readiness_timeout")
		return fmt.Errorf("%s: %w", def.Name, err), policy == readiness.OnFailureAbort
	}
	lg.Info("externally managed service is ready")
	o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeExternal})
	return nil, false
}

// failedDependency returns the name of a direct dependency with a failed
// outcome, or "".
func (o *Orchestrator) failedDependency(def registry.Definition) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, dep := range def.DependsOn {
		if r, ok := o.results[dep]; ok && r.Status == OutcomeFailed {
			return dep
		}
	}
	return ""
}

// mergedEnv composes the child environment: the orchestrator's own
// environment as base, then the global overlay, then the definition's
// overlay, then resolved fallback variables. The orchestrator's environment
// is never mutated.
func (o *Orchestrator) mergedEnv(def registry.Definition, resolved []envpath.Resolved) []string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	for _, kv := range o.globalEnv {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	for _, kv := range def.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	for _, r := range resolved {
		m[r.Variable] = r.Path
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// teardownStarted stops, in reverse start order, every service this session
// already brought to Running. Used on abort.
func (o *Orchestrator) teardownStarted(ctx context.Context) {
	o.setState(StateStopping)
	names := o.reg.Names()
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		o.mu.RLock()
		h := o.handles[name]
		r, hasOutcome := o.results[name]
		o.mu.RUnlock()
		if h == nil || !hasOutcome || r.Status != OutcomeReady {
			continue
		}
		def, _ := o.reg.Get(name)
		o.stopService(ctx, def, h)
	}
}

// Down stops the selected services in reverse dependency order. Teardown is
// best-effort: a failure on one service never prevents attempting the rest.
func (o *Orchestrator) Down(ctx context.Context, opts Options) ([]Outcome, error) {
	o.setState(StateStoppingRequested)
	order, err := o.reg.StopOrder(opts.Only)
	if err != nil {
		o.setState(StateFatalError)
		return nil, err
	}
	o.setState(StateStopping)
	o.record(history.Event{Type: history.EventSessionDown, Detail: "down requested"})

	var joined error
	for _, def := range order {
		if def.ExternallyManaged {
			o.lg.Info("externally managed, leaving untouched", "service", def.Name)
			o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeExternal, Detail: "never stopped"})
			continue
		}
		o.mu.RLock()
		h := o.handles[def.Name]
		o.mu.RUnlock()
		if err := o.stopService(ctx, def, h); err != nil {
			joined = errors.Join(joined, fmt.Errorf("%s: %w", def.Name, err))
		}
	}
	o.setState(StateStopped)
	return o.outcomes(order), joined
}

// stopService stops one service: through its tracked handle when this
// session spawned it, otherwise through untracked discovery when the stop
// method supports it.
func (o *Orchestrator) stopService(_ context.Context, def registry.Definition, h *process.Handle) error {
	lg := o.lg.With("service", def.Name)
	metrics.IncStop(def.Name)
	if h != nil {
		res, err := stopper.StopTracked(h, def.Stop, lg)
		if err != nil {
			lg.Error("stop failed", "error", err)
			o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeStopFailed, PID: h.PID(), Detail: err.Error()})
			return err
		}
		metrics.SetState(def.Name, string(process.StateRunning), false)
		metrics.SetState(def.Name, string(process.StateStopped), true)
		o.record(history.Event{Type: history.EventStopped, Service: def.Name, PID: h.PID()})
		detail := res.Skipped
		lg.Info("stopped", "pid", h.PID())
		o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeStopped, PID: h.PID(), Detail: detail})
		return nil
	}

	switch def.Stop.Method {
	case stopper.MethodKillByName, stopper.MethodKillByPort:
		res, err := stopper.StopUntracked(def.Stop, lg)
		if err != nil {
			lg.Error("untracked stop failed", "error", err)
			o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeStopFailed, Detail: err.Error()})
			return err
		}
		metrics.AddUntrackedKills(def.Name, len(res.KilledPIDs))
		if len(res.KilledPIDs) == 0 {
			o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeSkipped, Detail: res.Skipped})
			return nil
		}
		o.record(history.Event{Type: history.EventStopped, Service: def.Name, Detail: fmt.Sprintf("untracked kill of %d process(es)", len(res.KilledPIDs))})
		o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeStopped, Detail: fmt.Sprintf("killed %v", res.KilledPIDs)})
		return nil
	default:
		lg.Info("not managed by this session, nothing to stop")
		o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeSkipped, Detail: "no tracked handle"})
		return nil
	}
}

// Statuses returns a snapshot for every known service, in start order.
func (o *Orchestrator) Statuses() []process.Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := o.reg.Names()
	out := make([]process.Status, 0, len(names))
	for _, name := range names {
		if h, ok := o.handles[name]; ok {
			out = append(out, h.Snapshot())
			continue
		}
		def, _ := o.reg.Get(name)
		st := process.Status{Name: name}
		if def.ExternallyManaged {
			st.State = "external"
		} else {
			st.State = "unmanaged"
		}
		out = append(out, st)
	}
	return out
}

// Registry exposes the underlying registry to read-only observers.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// SessionID identifies this orchestrator session in history records.
func (o *Orchestrator) SessionID() string { return o.sessionID }

func (o *Orchestrator) skipWave(wave []registry.Definition, detail string) {
	for _, def := range wave {
		o.mu.RLock()
		_, done := o.results[def.Name]
		o.mu.RUnlock()
		if !done {
			o.setOutcome(def.Name, Outcome{Service: def.Name, Status: OutcomeSkipped, Detail: detail})
		}
	}
}

func (o *Orchestrator) fail(name string, pid int, detail, cause string) {
	metrics.IncFailure(name, cause)
	metrics.SetState(name, string(process.StateFailed), true)
	o.record(history.Event{Type: history.EventFailed, Service: name, PID: pid, Detail: detail})
	o.setOutcome(name, Outcome{Service: name, Status: OutcomeFailed, PID: pid, Detail: detail})
}

func (o *Orchestrator) setOutcome(name string, out Outcome) {
	o.mu.Lock()
	o.results[name] = out
	o.mu.Unlock()
}

func (o *Orchestrator) outcomes(order []registry.Definition) []Outcome {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Outcome, 0, len(order))
	for _, def := range order {
		if r, ok := o.results[def.Name]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (o *Orchestrator) record(e history.Event) {
	e.SessionID = o.sessionID
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	// History is best-effort; a dead sink never fails the session.
	if err := o.sink.Record(context.Background(), e); err != nil {
		o.lg.Warn("history record failed", "error", err)
	}
}

func newSessionID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}
