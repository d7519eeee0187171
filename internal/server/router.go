package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geoai/stackctl/internal/history"
	"github.com/geoai/stackctl/internal/metrics"
	"github.com/geoai/stackctl/internal/orchestrator"
)

// Router exposes read-only observation endpoints over a running
// orchestrator session:
//
//	GET {basePath}/status    per-service state snapshots
//	GET {basePath}/graph     dependency edges and start order
//	GET {basePath}/history   recent session events (when a sink is wired)
//	GET {basePath}/healthz   liveness of the observer itself
//	GET {basePath}/metrics   Prometheus exposition
//
// It never mutates the stack; up and down stay CLI-only.
type Router struct {
	orc      *orchestrator.Orchestrator
	sink     history.Sink
	basePath string
}

// NewRouter constructs a router with a configurable basePath.
func NewRouter(orc *orchestrator.Orchestrator, sink history.Sink, basePath string) *Router {
	if sink == nil {
		sink = history.Nop{}
	}
	return &Router{orc: orc, sink: sink, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/graph", r.handleGraph)
	group.GET("/history", r.handleHistory)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone observer on addr. Callers shut it down via
// http.Server Close or Shutdown.
func NewServer(addr, basePath string, orc *orchestrator.Orchestrator, sink history.Sink) *http.Server {
	r := NewRouter(orc, sink, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type statusResp struct {
	Session  string `json:"session"`
	State    string `json:"state"`
	Services any    `json:"services"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResp{
		Session:  r.orc.SessionID(),
		State:    string(r.orc.State()),
		Services: r.orc.Statuses(),
	})
}

type graphResp struct {
	Order []string    `json:"order"`
	Edges [][2]string `json:"edges"`
}

func (r *Router) handleGraph(c *gin.Context) {
	reg := r.orc.Registry()
	c.JSON(http.StatusOK, graphResp{Order: reg.Names(), Edges: reg.Edges()})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 0
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	events, err := r.sink.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": string(r.orc.State())})
}

func sanitizeBase(bp string) string {
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
