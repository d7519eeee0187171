package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// Kind selects the probe mechanism.
type Kind string

const (
	// KindPort succeeds on a successful TCP connection to the target
	// ("host:port" or ":port").
	KindPort Kind = "port"
	// KindHTTP succeeds on a 2xx response from the target URL.
	KindHTTP Kind = "http"
	// KindFile succeeds when the target file's modification time advances
	// past the process start time.
	KindFile Kind = "file"
)

// OnFailure is the orchestrator policy consulted when a probe times out.
type OnFailure string

const (
	OnFailureAbort    OnFailure = "abort"
	OnFailureContinue OnFailure = "continue"
)

// Defaults applied when the config leaves probe timing unset.
const (
	DefaultInterval = time.Second
	DefaultTimeout  = 30 * time.Second
)

// ErrTimedOut is returned (wrapped) when the probe budget is exhausted.
// The probed process is left running; liveness and healthiness are separate.
var ErrTimedOut = errors.New("readiness timed out")

// Spec configures the polling loop for one service.
type Spec struct {
	Kind        Kind          `json:"kind" mapstructure:"kind"`
	Target      string        `json:"target" mapstructure:"target"`
	Interval    time.Duration `json:"interval" mapstructure:"interval"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
	OnFailure   OnFailure     `json:"on_failure" mapstructure:"on_failure"`
}

// Validate checks probe configuration. An empty Kind means the service has
// no readiness contract and is considered ready as soon as it spawns.
func (s *Spec) Validate() error {
	switch s.Kind {
	case "":
		return nil
	case KindPort, KindHTTP, KindFile:
	default:
		return fmt.Errorf("unknown readiness kind %q", s.Kind)
	}
	if strings.TrimSpace(s.Target) == "" {
		return fmt.Errorf("readiness %s requires target", s.Kind)
	}
	switch s.OnFailure {
	case "", OnFailureAbort, OnFailureContinue:
	default:
		return fmt.Errorf("unknown on_failure policy %q", s.OnFailure)
	}
	return nil
}

// Policy returns the effective on-failure policy, defaulting to abort.
func (s *Spec) Policy() OnFailure {
	if s.OnFailure == OnFailureContinue {
		return OnFailureContinue
	}
	return OnFailureAbort
}

func (s *Spec) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return DefaultInterval
}

func (s *Spec) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

// Prober runs a single readiness check attempt.
type Prober interface {
	Probe(ctx context.Context) error
}

// New builds the Prober for spec. startedAt anchors the file-marker probe:
// only a marker touched after the process started counts.
func New(spec Spec, startedAt time.Time) (Prober, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Kind {
	case KindPort:
		return &portProbe{addr: spec.Target}, nil
	case KindHTTP:
		return &httpProbe{url: spec.Target}, nil
	case KindFile:
		return &fileProbe{path: spec.Target, after: startedAt}, nil
	default:
		return noProbe{}, nil
	}
}

// WaitReady polls the probe at the configured interval until the first
// success, until max_attempts probes have been issued, or until timeout
// elapses, whichever comes first. The caller's ctx cancels the wait early.
func WaitReady(ctx context.Context, spec Spec, startedAt time.Time) error {
	p, err := New(spec, startedAt)
	if err != nil {
		return err
	}
	if _, ok := p.(noProbe); ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, spec.timeout())
	defer cancel()

	attempts := 0
	var lastErr error
	ticker := time.NewTicker(spec.interval())
	defer ticker.Stop()
	for {
		attempts++
		if err := p.Probe(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if spec.MaxAttempts > 0 && attempts >= spec.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %v", ErrTimedOut, attempts, lastErr)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %d attempts: %v", ErrTimedOut, attempts, lastErr)
		case <-ticker.C:
		}
	}
}

// IsTimeout reports whether err is a readiness timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimedOut) }

type noProbe struct{}

func (noProbe) Probe(context.Context) error { return nil }

type portProbe struct {
	addr string
}

func (p *portProbe) Probe(ctx context.Context) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", normalizeAddr(p.addr))
	if err != nil {
		return err
	}
	return conn.Close()
}

// normalizeAddr accepts ":8001", "8001" or "host:8001".
func normalizeAddr(addr string) string {
	if !strings.Contains(addr, ":") {
		return "127.0.0.1:" + addr
	}
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

type httpProbe struct {
	url    string
	client *http.Client
}

func (p *httpProbe) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	c := p.client
	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d from %s", resp.StatusCode, p.url)
	}
	return nil
}

type fileProbe struct {
	path  string
	after time.Time
}

func (p *fileProbe) Probe(context.Context) error {
	fi, err := os.Stat(p.path)
	if err != nil {
		return err
	}
	if !fi.ModTime().After(p.after) {
		return fmt.Errorf("marker %s not refreshed since process start", p.path)
	}
	return nil
}
