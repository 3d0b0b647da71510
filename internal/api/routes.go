package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskmesh/taskmesh/internal/api/handlers"
	apiMiddleware "github.com/taskmesh/taskmesh/internal/api/middleware"
	"github.com/taskmesh/taskmesh/internal/api/websocket"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/control"
	"github.com/taskmesh/taskmesh/internal/events"
)

// Server is the HTTP transport for the control surface (C8).
type Server struct {
	router       *chi.Mux
	surface      *control.Surface
	config       *config.Config
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
	publisher    *events.RedisPubSub
}

// NewServer creates the HTTP server, wiring chi routes onto the shared
// control.Surface the way the teacher wires its router onto a single
// RedisQueue/DLQ pair.
func NewServer(cfg *config.Config, surface *control.Surface, publisher *events.RedisPubSub) *Server {
	wsHub := websocket.NewHub(publisher)

	s := &Server{
		router:       chi.NewRouter(),
		surface:      surface,
		config:       cfg,
		taskHandler:  handlers.NewTaskHandler(surface, cfg.Queue.MaxQueueSize),
		adminHandler: handlers.NewAdminHandler(surface),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub),
		publisher:    publisher,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		if s.config.Queue.RateLimitRPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.Queue.RateLimitRPS))
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandler.Create)
			r.Get("/", s.taskHandler.List)
			r.Get("/queue/stats", s.taskHandler.QueueStats)
			r.Post("/queue/cleanup", s.taskHandler.QueueCleanup)
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Delete("/{taskID}", s.taskHandler.Cancel)
		})
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		r.Get("/circuit-breakers", s.adminHandler.ListBreakers)
		r.Post("/circuit-breakers/{kind}/reset", s.adminHandler.ResetBreaker)
		r.Post("/simulate-failure", s.adminHandler.SimulateFailure)

		r.Get("/dead-letters", s.adminHandler.ListDeadLetters)
		r.Post("/dead-letters/{taskID}/retry", s.adminHandler.RetryDeadLetter)
		r.Delete("/dead-letters", s.adminHandler.PurgeDeadLetters)

		r.Get("/stats", s.adminHandler.Stats)
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Start starts the WebSocket hub.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Publisher returns the event publisher.
func (s *Server) Publisher() *events.RedisPubSub {
	return s.publisher
}
