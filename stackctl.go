// Package stackctl brings a declared stack of local services up and down in
// dependency order. It resolves data-directory locations against the live
// filesystem, supervises spawned processes, probes readiness, and stops
// stragglers by port or image name.
package stackctl

import (
	"context"
	"log/slog"

	"github.com/geoai/stackctl/internal/config"
	"github.com/geoai/stackctl/internal/envpath"
	"github.com/geoai/stackctl/internal/history"
	"github.com/geoai/stackctl/internal/logger"
	"github.com/geoai/stackctl/internal/orchestrator"
	"github.com/geoai/stackctl/internal/process"
	"github.com/geoai/stackctl/internal/readiness"
	"github.com/geoai/stackctl/internal/registry"
	"github.com/geoai/stackctl/internal/stopper"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Definition = registry.Definition

type FallbackSpec = envpath.FallbackSpec

type ReadinessSpec = readiness.Spec

type StopSpec = stopper.Spec

type Status = process.Status

type Outcome = orchestrator.Outcome

type Options = orchestrator.Options

type HistorySink = history.Sink

// Stack is a thin facade over the internal orchestrator for embedding.
type Stack struct{ inner *orchestrator.Orchestrator }

// New builds a stack from validated service definitions.
func New(defs []Definition, lg *slog.Logger) (*Stack, error) {
	reg, err := registry.New(defs)
	if err != nil {
		return nil, err
	}
	return &Stack{inner: orchestrator.New(reg, lg)}, nil
}

// Load builds a stack from a TOML config file, wiring its log defaults and
// global environment.
func Load(path string, lg *slog.Logger) (*Stack, error) {
	fc, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	reg, err := fc.Registry()
	if err != nil {
		return nil, err
	}
	genv, err := fc.GlobalEnv()
	if err != nil {
		return nil, err
	}
	inner := orchestrator.New(reg, lg,
		orchestrator.WithLogDefaults(fc.LogDefaults()),
		orchestrator.WithGlobalEnv(genv),
	)
	return &Stack{inner: inner}, nil
}

func (s *Stack) Up(ctx context.Context, opts Options) ([]Outcome, error) {
	return s.inner.Up(ctx, opts)
}

func (s *Stack) Down(ctx context.Context, opts Options) ([]Outcome, error) {
	return s.inner.Down(ctx, opts)
}

func (s *Stack) Statuses() []Status { return s.inner.Statuses() }

// NewLogger builds the standard colored slog logger used by the CLI.
func NewLogger(level string) *slog.Logger {
	return logger.New(nil, logger.ParseLevel(level))
}
