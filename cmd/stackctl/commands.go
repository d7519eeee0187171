package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/geoai/stackctl/internal/config"
	"github.com/geoai/stackctl/internal/history"
	"github.com/geoai/stackctl/internal/logger"
	"github.com/geoai/stackctl/internal/metrics"
	"github.com/geoai/stackctl/internal/orchestrator"
	"github.com/geoai/stackctl/internal/readiness"
	"github.com/geoai/stackctl/internal/server"
)

type command struct {
	flags *GlobalFlags
}

// setup loads the config and assembles an orchestrator plus its history
// sink. The caller owns closing the sink.
func (c command) setup() (*config.FileConfig, *orchestrator.Orchestrator, history.Sink, error) {
	fc, err := config.Load(c.flags.ConfigPath)
	if err != nil {
		return nil, nil, nil, &configError{err: err}
	}
	reg, err := fc.Registry()
	if err != nil {
		return nil, nil, nil, err
	}
	genv, err := fc.GlobalEnv()
	if err != nil {
		return nil, nil, nil, &configError{err: err}
	}
	lg := logger.New(os.Stderr, logger.ParseLevel(c.flags.LogLevel))

	var sink history.Sink = history.Nop{}
	if fc.History.Path != "" {
		s, err := history.OpenSQLite(fc.History.Path)
		if err != nil {
			lg.Warn("history disabled, sqlite open failed", "error", err)
		} else if err := s.EnsureSchema(context.Background()); err != nil {
			lg.Warn("history disabled, schema failed", "error", err)
			_ = s.Close()
		} else {
			sink = s
		}
	}

	orc := orchestrator.New(reg, lg,
		orchestrator.WithHistory(sink),
		orchestrator.WithLogDefaults(fc.LogDefaults()),
		orchestrator.WithGlobalEnv(genv),
	)
	return fc, orc, sink, nil
}

func createUpCommand(c command, f *UpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the stack in dependency order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, orc, sink, err := c.setup()
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			outs, err := orc.Up(ctx, orchestrator.Options{
				Only:      f.Only,
				OnFailure: readiness.OnFailure(f.OnFailure),
				Parallel:  f.Parallel,
			})
			printOutcomes(cmd.OutOrStdout(), outs, c.flags.JSON)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&f.Only, "only", nil, "restrict to the named services")
	cmd.Flags().StringVar(&f.OnFailure, "on-failure", "", "override on-failure policy (abort|continue)")
	cmd.Flags().BoolVar(&f.Parallel, "parallel", false, "start independent services concurrently")
	return cmd
}

func createDownCommand(c command, f *DownFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the stack in reverse dependency order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, orc, sink, err := c.setup()
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()

			outs, err := orc.Down(cmd.Context(), orchestrator.Options{Only: f.Only})
			printOutcomes(cmd.OutOrStdout(), outs, c.flags.JSON)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&f.Only, "only", nil, "restrict to the named services")
	return cmd
}

func createStatusCommand(c command, f *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe each service's readiness once and report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, orc, sink, err := c.setup()
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()

			if f.History > 0 {
				events, err := sink.Recent(cmd.Context(), f.History)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), events, c.flags.JSON)
				return nil
			}

			reg := orc.Registry()
			rows := make([]statusRow, 0, len(reg.Names()))
			failures := false
			for _, def := range mustOrder(reg) {
				row := statusRow{Service: def.Name, External: def.ExternallyManaged}
				if def.Readiness.Kind == "" {
					row.State = "unprobed"
				} else {
					probe := def.Readiness
					probe.MaxAttempts = 1
					probe.Timeout = f.Timeout
					ctx, cancel := context.WithTimeout(cmd.Context(), f.Timeout)
					err := readiness.WaitReady(ctx, probe, time.Time{})
					cancel()
					if err != nil {
						row.State = "not-ready"
						failures = true
					} else {
						row.State = "ready"
					}
				}
				rows = append(rows, row)
			}
			printStatus(cmd.OutOrStdout(), rows, c.flags.JSON)
			if failures {
				return fmt.Errorf("one or more services are not ready")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 2*time.Second, "per-service probe timeout")
	cmd.Flags().IntVar(&f.History, "history", 0, "list the N most recent session events instead of probing")
	return cmd
}

func createGraphCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph and start order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, orc, sink, err := c.setup()
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()
			reg := orc.Registry()
			printGraph(cmd.OutOrStdout(), reg.Names(), reg.Edges(), c.flags.JSON)
			return nil
		},
	}
}

func createServeCommand(c command, f *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bring the stack up, expose the observer, stop on SIGINT",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fc, orc, sink, err := c.setup()
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()

			if err := metrics.RegisterDefault(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			outs, upErr := orc.Up(ctx, orchestrator.Options{Parallel: f.Parallel})
			printOutcomes(cmd.OutOrStdout(), outs, c.flags.JSON)
			if upErr != nil {
				return upErr
			}

			listen := f.Listen
			if listen == "" {
				listen = fc.Serve.Listen
			}
			srv := server.NewServer(listen, f.BasePath, orc, sink)
			fmt.Fprintf(cmd.OutOrStdout(), "observer listening on %s\n", listen)

			<-ctx.Done()
			stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)

			downs, downErr := orc.Down(context.Background(), orchestrator.Options{})
			printOutcomes(cmd.OutOrStdout(), downs, c.flags.JSON)
			return downErr
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "observer listen address (overrides config)")
	cmd.Flags().StringVar(&f.BasePath, "base-path", "", "path prefix for observer endpoints")
	cmd.Flags().BoolVar(&f.Parallel, "parallel", false, "start independent services concurrently")
	return cmd
}
