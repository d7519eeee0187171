//go:build !windows

package process

import "os/exec"

// getShellCommand hands a command line to /bin/sh for metacharacter
// expansion. The command string comes from the operator's own stack file.
func getShellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

// getTrueCommand stands in for an empty command string: it exits zero
// immediately so the session can treat the service as spawned.
func getTrueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/true")
}
