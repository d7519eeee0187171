package config

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/geoai/stackctl/internal/envpath"
	"github.com/geoai/stackctl/internal/readiness"
	"github.com/geoai/stackctl/internal/stopper"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "stack.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestLoadMinimal(t *testing.T) {
	file := writeConfig(t, `
[[services]]
name = "redis"
command = "redis-server"
`)
	fc, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(fc.Services) != 1 {
		t.Fatalf("expected 1 service, got %d", len(fc.Services))
	}
	s := fc.Services[0]
	if s.Name != "redis" || s.Command != "redis-server" {
		t.Fatalf("unexpected service: %+v", s)
	}
	if fc.Serve.Listen == "" {
		t.Fatal("listen default not applied")
	}
}

func TestLoadFull(t *testing.T) {
	file := writeConfig(t, `
env = ["PGUSER=postgres"]

[log]
dir = "/tmp/stack-logs"
max_size_mb = 16

[history]
path = "/tmp/stack.db"

[serve]
listen = "127.0.0.1:9911"

[[services]]
name = "postgres"
externally_managed = true
  [services.readiness]
  kind = "port"
  target = "127.0.0.1:5432"
  timeout = "10s"

[[services]]
name = "minio"
command = "minio"
args = ["server", "/data"]
workdir = "/srv/minio"
depends_on = []
env = ["MINIO_ROOT_USER=dev", "MINIO_ROOT_PASSWORD=dev-secret"]
  [[services.env_fallback]]
  variable = "MINIO_DATA"
  candidates = ["/mnt/fast/minio", "/var/lib/minio"]
  marker_file = ".minio.sys"
  policy = "best-effort"
  [services.readiness]
  kind = "http"
  target = "http://127.0.0.1:9000/minio/health/live"
  interval = "500ms"
  max_attempts = 20
  on_failure = "continue"
  [services.stop]
  method = "signal"
  grace_period = "8s"

[[services]]
name = "app"
command = "uvicorn"
args = ["main:app"]
depends_on = ["postgres", "minio"]
  [services.stop]
  method = "kill-by-port"
  target = "8000"
`)
	fc, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Serve.Listen != "127.0.0.1:9911" {
		t.Fatalf("listen: %q", fc.Serve.Listen)
	}
	if fc.History.Path != "/tmp/stack.db" {
		t.Fatalf("history path: %q", fc.History.Path)
	}
	if fc.LogDefaults().Dir != "/tmp/stack-logs" || fc.LogDefaults().MaxSizeMB != 16 {
		t.Fatalf("log defaults: %+v", fc.LogDefaults())
	}

	reg, err := fc.Registry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	pg, ok := reg.Get("postgres")
	if !ok || !pg.ExternallyManaged {
		t.Fatalf("postgres: %+v", pg)
	}
	if pg.Readiness.Kind != readiness.KindPort || pg.Readiness.Timeout != 10*time.Second {
		t.Fatalf("postgres readiness: %+v", pg.Readiness)
	}

	m, _ := reg.Get("minio")
	// Variable names must survive parsing with their case intact.
	if len(m.Env) != 2 || m.Env[0] != "MINIO_ROOT_USER=dev" || m.Env[1] != "MINIO_ROOT_PASSWORD=dev-secret" {
		t.Fatalf("minio env: %+v", m.Env)
	}
	if len(m.EnvFallback) != 1 {
		t.Fatalf("minio env_fallback: %+v", m.EnvFallback)
	}
	fb := m.EnvFallback[0]
	if fb.Variable != "MINIO_DATA" || fb.MarkerFile != ".minio.sys" || fb.Policy != envpath.PolicyBestEffort {
		t.Fatalf("fallback: %+v", fb)
	}
	if m.Readiness.Interval != 500*time.Millisecond || m.Readiness.MaxAttempts != 20 {
		t.Fatalf("minio readiness: %+v", m.Readiness)
	}
	if m.Readiness.OnFailure != readiness.OnFailureContinue {
		t.Fatalf("minio on_failure: %q", m.Readiness.OnFailure)
	}
	if m.Stop.GracePeriod != 8*time.Second {
		t.Fatalf("minio stop: %+v", m.Stop)
	}

	app, _ := reg.Get("app")
	if app.Stop.Method != stopper.MethodKillByPort || app.Stop.Target != "8000" {
		t.Fatalf("app stop: %+v", app.Stop)
	}
	if len(app.DependsOn) != 2 {
		t.Fatalf("app deps: %+v", app.DependsOn)
	}
}

func TestLoadRejectsEmptyServices(t *testing.T) {
	file := writeConfig(t, `
[serve]
listen = ":9000"
`)
	if _, err := Load(file); err == nil {
		t.Fatal("expected an error for a config with no services")
	}
}

func TestGlobalEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "stack.env")
	data := "# comment\nA=from-file\nB = spaced\n\n"
	if err := os.WriteFile(envFile, []byte(data), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	fc := &FileConfig{
		Env:      []string{"A=override"},
		EnvFiles: []string{envFile},
	}
	got, err := fc.GlobalEnv()
	if err != nil {
		t.Fatalf("global env: %v", err)
	}
	sort.Strings(got)
	want := []string{"A=override", "B=spaced"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestGlobalEnvMissingFile(t *testing.T) {
	fc := &FileConfig{EnvFiles: []string{"/nonexistent/stack.env"}}
	if _, err := fc.GlobalEnv(); err == nil {
		t.Fatal("expected an error for a missing env file")
	}
}
