package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/geoai/stackctl/internal/envpath"
	"github.com/geoai/stackctl/internal/registry"
)

// Exit codes: 0 all selected services settled as requested, 1 at least one
// service failed, 2 configuration or environment resolution error.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(classifyExit(err))
	}
}

func classifyExit(err error) int {
	if registry.IsConfigError(err) || errors.Is(err, envpath.ErrUnresolved) {
		return exitConfig
	}
	var ce *configError
	if errors.As(err, &ce) {
		return exitConfig
	}
	return exitFailed
}

// configError marks failures that happen before any service action, such as
// an unreadable config file.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	upFlags := &UpFlags{}
	downFlags := &DownFlags{}
	statusFlags := &StatusFlags{}
	serveFlags := &ServeFlags{}

	c := command{flags: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createUpCommand(c, upFlags),
		createDownCommand(c, downFlags),
		createStatusCommand(c, statusFlags),
		createGraphCommand(c),
		createServeCommand(c, serveFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "stackctl",
		Short:         "Local service stack launcher",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `Stackctl brings a declared stack of local services up and down in
dependency order, resolving data-directory locations, probing readiness,
and stopping stragglers by port or image name.

Examples:
  stackctl up --config stack.toml
  stackctl up --only titiler --on-failure continue
  stackctl down
  stackctl status
  stackctl serve --listen 127.0.0.1:8418`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "stack.toml", "path to the stack TOML config")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "machine-readable JSON output")
	return root
}
