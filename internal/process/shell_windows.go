//go:build windows

package process

import "os/exec"

// getShellCommand hands a command line to cmd.exe for metacharacter
// expansion. The command string comes from the operator's own stack file.
func getShellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", script)
}

// getTrueCommand stands in for an empty command string: "rem" exits zero
// immediately so the session can treat the service as spawned.
func getTrueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", "rem")
}
