package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geoai/stackctl/internal/history"
	"github.com/geoai/stackctl/internal/orchestrator"
	"github.com/geoai/stackctl/internal/registry"
	"github.com/geoai/stackctl/internal/stopper"
)

type memorySink struct {
	events []history.Event
}

func (s *memorySink) EnsureSchema(context.Context) error { return nil }
func (s *memorySink) Record(_ context.Context, e history.Event) error {
	s.events = append(s.events, e)
	return nil
}
func (s *memorySink) Recent(_ context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	return s.events[len(s.events)-limit:], nil
}
func (s *memorySink) Close() error { return nil }

func setupRouter(t *testing.T, sink history.Sink) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg, err := registry.New([]registry.Definition{
		{Name: "db", ExternallyManaged: true},
		{Name: "app", Command: "sleep", Args: []string{"30"}, DependsOn: []string{"db"},
			Stop: stopper.Spec{Method: stopper.MethodSignal}},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	orc := orchestrator.New(reg, lg)
	return NewRouter(orc, sink, "").Handler()
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusSnapshot(t *testing.T) {
	h := setupRouter(t, nil)
	rec := doGet(t, h, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Session  string `json:"session"`
		State    string `json:"state"`
		Services []struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"services"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "idle" {
		t.Fatalf("expected idle session, got %q", resp.State)
	}
	if len(resp.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(resp.Services))
	}
	if resp.Services[0].Name != "db" || resp.Services[0].State != "external" {
		t.Fatalf("unexpected first service: %+v", resp.Services[0])
	}
}

func TestGraph(t *testing.T) {
	h := setupRouter(t, nil)
	rec := doGet(t, h, "/graph")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Order []string    `json:"order"`
		Edges [][2]string `json:"edges"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Order) != 2 || resp.Order[0] != "db" {
		t.Fatalf("unexpected order: %v", resp.Order)
	}
	if len(resp.Edges) != 1 || resp.Edges[0] != [2]string{"db", "app"} {
		t.Fatalf("unexpected edges: %v", resp.Edges)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	sink := &memorySink{events: []history.Event{
		{SessionID: "s1", Type: history.EventStart, Service: "app", OccurredAt: time.Now()},
		{SessionID: "s1", Type: history.EventReady, Service: "app", OccurredAt: time.Now()},
	}}
	h := setupRouter(t, sink)

	rec := doGet(t, h, "/history?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var events []history.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Type != history.EventReady {
		t.Fatalf("unexpected events: %+v", events)
	}

	if rec := doGet(t, h, "/history?limit=-1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := setupRouter(t, nil)
	rec := doGet(t, h, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBasePath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg, _ := registry.New([]registry.Definition{{Name: "only", ExternallyManaged: true}})
	orc := orchestrator.New(reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := NewRouter(orc, nil, "stack/").Handler()

	if rec := doGet(t, h, "/stack/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 under base path, got %d", rec.Code)
	}
	if rec := doGet(t, h, "/healthz"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 off base path, got %d", rec.Code)
	}
}
