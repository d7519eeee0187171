package process

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/geoai/stackctl/internal/logger"
)

// Spec describes one service process to spawn. It carries only what the
// supervisor needs: the command line, working directory, the fully merged
// environment overlay computed by the caller, and the log sink. Dependency
// and readiness concerns live with the service definition, not here.
type Spec struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	WorkDir string            `json:"workdir"`
	Env     []string          `json:"env"` // final "K=V" list; replaces the inherited environment when set
	Log     logger.SinkConfig `json:"log"`
}

// Validate checks the minimum required fields.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("process spec requires name")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("process spec %s requires command", s.Name)
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec. With explicit Args the
// command is executed directly. A bare Command string is split on fields
// unless it contains shell metacharacters, in which case it is handed to the
// platform shell. An explicit leading "sh -c" is honored without wrapping a
// second shell around it.
func (s *Spec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(s.Command, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return getTrueCommand()
	}
	if after, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(after)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes at the beginning of
// cmdStr and returns the argument after -c, with one pair of outer quotes
// stripped so redirection inside the script still parses.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	prefixes := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range prefixes {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
