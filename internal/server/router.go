package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atperry7/ffxi-manager-sub000/internal/monitor"
	"github.com/atperry7/ffxi-manager-sub000/internal/order"
	"github.com/atperry7/ffxi-manager-sub000/internal/store"
)

// View is the read-mostly slice of the manager the diagnostics surface
// exposes. MoveToSlot is the single mutation.
type View interface {
	Status() Status
	Processes() []monitor.TrackedProcess
	Ordered() []order.Entity
	MoveToSlot(pid int32, slot int) bool
	Recent(ctx context.Context, limit int) ([]store.Record, error)
}

// Status is the liveness summary returned by GET {basePath}/status.
type Status struct {
	Running      bool      `json:"running"`
	StartedAt    time.Time `json:"started_at"`
	Tracked      int       `json:"tracked"`
	Ordered      int       `json:"ordered"`
	MappedSlots  int       `json:"mapped_slots"`
	BreakerOpen  bool      `json:"breaker_open"`
	HistoryReady bool      `json:"history_ready"`
}

// Router provides embeddable HTTP handlers for the diagnostics surface.
// Endpoints:
//
//	GET  {basePath}/status        liveness summary
//	GET  {basePath}/processes     tracked process/window table
//	GET  {basePath}/order         entities in slot order
//	POST {basePath}/order/move    body: {"pid": n, "slot": n}
//	GET  {basePath}/history       query: limit=N (default 50)
//	GET  {basePath}/metrics       prometheus exposition
type Router struct {
	view     View
	gatherer prometheus.Gatherer
	basePath string
}

// NewRouter constructs a Router with configurable basePath.
// Example basePath: "/abc" results in /abc/status, /abc/order.
func NewRouter(view View, g prometheus.Gatherer, basePath string) *Router {
	return &Router{view: view, gatherer: g, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/processes", r.handleProcesses)
	group.GET("/order", r.handleOrder)
	group.POST("/order/move", r.handleOrderMove)
	group.GET("/history", r.handleHistory)
	if r.gatherer != nil {
		group.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down via http.Server's Close or Shutdown.
func NewServer(addr, basePath string, view View, g prometheus.Gatherer) (*http.Server, error) {
	r := NewRouter(view, g, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.view.Status())
}

func (r *Router) handleProcesses(c *gin.Context) {
	procs := r.view.Processes()
	if procs == nil {
		procs = []monitor.TrackedProcess{}
	}
	writeJSON(c, http.StatusOK, procs)
}

func (r *Router) handleOrder(c *gin.Context) {
	entities := r.view.Ordered()
	if entities == nil {
		entities = []order.Entity{}
	}
	writeJSON(c, http.StatusOK, entities)
}

type moveReq struct {
	PID  int32 `json:"pid"`
	Slot int   `json:"slot"`
}

func (r *Router) handleOrderMove(c *gin.Context) {
	var req moveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.PID <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "pid required"})
		return
	}
	if !r.view.MoveToSlot(req.PID, req.Slot) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown pid or slot out of range"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := r.view.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(c, http.StatusOK, recs)
}
