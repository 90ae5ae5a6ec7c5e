// Package httpapi is Bay's HTTP Front: a thin binding from the external API
// routes to the Scheduler, Affinity Index, Repository, and Operation
// Router. The /ship routes are wrapped in auth, rate-limiting, and metrics
// middleware; /health has metrics only, /ws/fleet has auth only, and
// /metrics has none.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shipyard/bay/internal/affinity"
	"github.com/shipyard/bay/internal/domain"
	"github.com/shipyard/bay/internal/driver"
	"github.com/shipyard/bay/internal/fleetws"
	"github.com/shipyard/bay/internal/repository"
	"github.com/shipyard/bay/internal/scheduler"
)

// Server wires Bay's components to HTTP routes.
type Server struct {
	repo      repository.ShipRepository
	scheduler *scheduler.Scheduler
	aff       *affinity.Index
	router    *OperationRouter
	driver    driver.Driver
	hub       *fleetws.Hub
	metrics   *Metrics
	log       *slog.Logger

	accessToken     string
	logsTailSize    int64
	defaultSpec     domain.Spec
	defaultSessions int
	upgrader        websocket.Upgrader
}

// Deps bundles Server's constructor arguments.
type Deps struct {
	Repo         repository.ShipRepository
	Scheduler    *scheduler.Scheduler
	Affinity     *affinity.Index
	Router       *OperationRouter
	Driver       driver.Driver
	Hub          *fleetws.Hub
	Metrics      *Metrics
	Logger       *slog.Logger
	AccessToken  string
	LogsTailSize int64
	// DefaultSpec fills cpus/memory hints a create request omits.
	DefaultSpec domain.Spec
	// DefaultMaxSessions applies when a create request omits max_session_num;
	// zero means 1.
	DefaultMaxSessions int
	RateLimiter        *RedisRateLimiter
}

// NewServer constructs the HTTP Front handler.
func NewServer(d Deps) http.Handler {
	s := &Server{
		repo:            d.Repo,
		scheduler:       d.Scheduler,
		aff:             d.Affinity,
		router:          d.Router,
		driver:          d.Driver,
		hub:             d.Hub,
		metrics:         d.Metrics,
		log:             d.Logger,
		accessToken:     d.AccessToken,
		logsTailSize:    d.LogsTailSize,
		defaultSpec:     d.DefaultSpec,
		defaultSessions: d.DefaultMaxSessions,
		upgrader:        websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
	if s.defaultSessions < 1 {
		s.defaultSessions = 1
	}

	mux := http.NewServeMux()

	public := func(route string, h http.HandlerFunc) {
		mux.Handle(route, metricsMiddleware(s.metrics, route)(h))
	}
	authed := func(route string, h http.HandlerFunc) {
		chain := rateLimitMiddleware(d.RateLimiter, s.log)(authMiddleware(s.accessToken)(h))
		mux.Handle(route, metricsMiddleware(s.metrics, route)(chain))
	}

	public("GET /health", s.handleHealth)

	// The fleet feed skips metricsMiddleware: its response recorder does not
	// implement http.Hijacker, which the websocket upgrade needs.
	mux.Handle("GET /ws/fleet", authMiddleware(s.accessToken)(http.HandlerFunc(s.handleFleetFeed)))

	authed("POST /ship", s.handleCreateShip)
	authed("GET /ship/{id}", s.handleGetShip)
	authed("DELETE /ship/{id}", s.handleDeleteShip)
	authed("POST /ship/{id}/exec/{endpoint...}", s.handleExec)
	authed("GET /ship/logs/{id}", s.handleLogs)
	authed("POST /ship/{id}/extend-ttl", s.handleExtendTTL)

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFleetFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("fleet feed upgrade failed", "error", err)
		return
	}
	client := fleetws.NewClient(s.hub, conn)
	go client.WritePump()
	client.ReadPump()
}
