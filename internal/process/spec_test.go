package process

import (
	"runtime"
	"strings"
	"testing"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like shell")
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name      string
		spec      Spec
		expectErr bool
	}{
		{"valid", Spec{Name: "redis", Command: "redis-server"}, false},
		{"missing name", Spec{Command: "redis-server"}, true},
		{"missing command", Spec{Name: "redis"}, true},
		{"blank command", Spec{Name: "redis", Command: "   "}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.expectErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.expectErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuildCommandExplicitArgs(t *testing.T) {
	s := Spec{Name: "minio", Command: "minio", Args: []string{"server", "/data"}}
	cmd := s.BuildCommand()
	if len(cmd.Args) != 3 || cmd.Args[1] != "server" || cmd.Args[2] != "/data" {
		t.Fatalf("unexpected argv: %#v", cmd.Args)
	}
}

// A command string that already carries an explicit shell invocation must not
// be wrapped in a second shell layer.
func TestBuildCommandExplicitShellNoDoubleWrap(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "x", Command: "sh -c 'echo hi'"}
	cmd := s.BuildCommand()
	if len(cmd.Args) < 3 || cmd.Args[1] != "-c" {
		t.Fatalf("unexpected argv: %#v", cmd.Args)
	}
	if strings.HasPrefix(cmd.Args[2], "sh -c ") || strings.HasPrefix(cmd.Args[2], "/bin/sh -c ") {
		t.Fatalf("command was double-wrapped: %q", cmd.Args[2])
	}
}

func TestBuildCommandMetacharTriggersShell(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "y", Command: "echo hi | wc -c"}
	cmd := s.BuildCommand()
	if len(cmd.Args) < 3 || cmd.Args[1] != "-c" {
		t.Fatalf("expected shell -c wrapping, got argv=%#v", cmd.Args)
	}
}

func TestBuildCommandPlainSplit(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "z", Command: "sleep 5"}
	cmd := s.BuildCommand()
	if len(cmd.Args) != 2 || cmd.Args[1] != "5" {
		t.Fatalf("unexpected argv: %#v", cmd.Args)
	}
}
