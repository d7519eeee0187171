package logger

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestWritersDefaultPaths(t *testing.T) {
	dir := t.TempDir()
	c := SinkConfig{Dir: dir}
	outW, errW, err := c.Writers("titiler")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	lo, ok := outW.(*lj.Logger)
	if !ok {
		t.Fatalf("stdout writer is %T, want lumberjack", outW)
	}
	if lo.Filename != filepath.Join(dir, "titiler.stdout.log") {
		t.Fatalf("stdout path: %s", lo.Filename)
	}
	le := errW.(*lj.Logger)
	if le.Filename != filepath.Join(dir, "titiler.stderr.log") {
		t.Fatalf("stderr path: %s", le.Filename)
	}
	if lo.MaxSize != DefaultMaxSizeMB || lo.MaxBackups != DefaultMaxBackups || lo.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("rotation defaults not applied: %+v", lo)
	}
}

func TestWritersNilWhenUnconfigured(t *testing.T) {
	outW, errW, err := SinkConfig{}.Writers("x")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers when no destination configured")
	}
}

func TestMergedOverrides(t *testing.T) {
	base := SinkConfig{Dir: "/var/log/stack", MaxSizeMB: 20}
	got := base.Merged(&SinkConfig{Dir: "/tmp/other", Compress: true})
	if got.Dir != "/tmp/other" || !got.Compress || got.MaxSizeMB != 20 {
		t.Fatalf("merge result: %+v", got)
	}
	// nil override returns the base untouched
	if same := base.Merged(nil); same != base {
		t.Fatalf("nil override changed config: %+v", same)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesColoredLevels(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, slog.LevelInfo)
	lg.Info("service ready", "name", "minio")
	s := buf.String()
	if !strings.Contains(s, "service ready") || !strings.Contains(s, "name=minio") {
		t.Fatalf("unexpected log line: %q", s)
	}
	if !strings.Contains(s, "\033[32m") {
		t.Fatalf("info line missing color code: %q", s)
	}
	if strings.Contains(s, `\x1b`) {
		t.Fatalf("color code was escaped instead of written raw: %q", s)
	}
	buf.Reset()
	lg.With("service", "postgres").Warn("slow start")
	s = buf.String()
	if !strings.Contains(s, "\033[33m") || !strings.Contains(s, "service=postgres") {
		t.Fatalf("warn line with bound attr: %q", s)
	}
	buf.Reset()
	lg.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info level: %q", buf.String())
	}
}
