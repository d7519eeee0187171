package envpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Policy controls what happens when no candidate validates.
type Policy string

const (
	// PolicyStrict fails resolution when no candidate carries the marker file.
	PolicyStrict Policy = "strict"
	// PolicyBestEffort falls back to the first candidate with a warning.
	PolicyBestEffort Policy = "best-effort"
)

// ErrUnresolved is returned (wrapped) when a strict variable cannot be resolved.
var ErrUnresolved = errors.New("unresolved environment variable")

// FallbackSpec declares an ordered candidate search for one environment variable.
// Candidates are tried in declared order; the first whose marker file exists wins.
type FallbackSpec struct {
	Variable   string   `json:"variable" mapstructure:"variable"`
	Candidates []string `json:"candidates" mapstructure:"candidates"`
	MarkerFile string   `json:"marker_file" mapstructure:"marker_file"`
	Policy     Policy   `json:"policy" mapstructure:"policy"`
}

// Validate checks the spec is complete enough to resolve.
func (s *FallbackSpec) Validate() error {
	if s.Variable == "" {
		return fmt.Errorf("env fallback requires variable name")
	}
	if len(s.Candidates) == 0 {
		return fmt.Errorf("env fallback for %s requires at least one candidate", s.Variable)
	}
	if s.MarkerFile == "" {
		return fmt.Errorf("env fallback for %s requires marker_file", s.Variable)
	}
	switch s.Policy {
	case "", PolicyStrict, PolicyBestEffort:
		return nil
	default:
		return fmt.Errorf("env fallback for %s: unknown policy %q", s.Variable, s.Policy)
	}
}

// Resolved is the outcome of resolving one FallbackSpec.
// Warning is set when the value was taken without marker validation
// (best-effort fallback to the first candidate).
type Resolved struct {
	Variable string
	Path     string
	Warning  bool
}

// Resolve walks the candidate list in declared order and returns the first
// candidate whose marker file exists. Order is significant: first match wins.
// Resolution inspects the live filesystem on every call; results are never
// cached because candidate directories may appear or vanish between runs.
func Resolve(spec FallbackSpec) (Resolved, error) {
	if err := spec.Validate(); err != nil {
		return Resolved{}, err
	}
	for _, cand := range spec.Candidates {
		marker := filepath.Join(cand, spec.MarkerFile)
		if _, err := os.Stat(marker); err == nil {
			return Resolved{Variable: spec.Variable, Path: cand}, nil
		}
	}
	if spec.Policy == PolicyBestEffort {
		return Resolved{Variable: spec.Variable, Path: spec.Candidates[0], Warning: true}, nil
	}
	return Resolved{}, fmt.Errorf("%w: %s (no candidate contains %s)", ErrUnresolved, spec.Variable, spec.MarkerFile)
}

// ResolveAll resolves every spec in order. It stops at the first strict
// failure; best-effort warnings are accumulated in the results.
func ResolveAll(specs []FallbackSpec) ([]Resolved, error) {
	out := make([]Resolved, 0, len(specs))
	for _, s := range specs {
		r, err := Resolve(s)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}
