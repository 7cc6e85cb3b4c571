package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maumercado/task-queue-go/internal/api/handlers"
	apiMiddleware "github.com/maumercado/task-queue-go/internal/api/middleware"
	"github.com/maumercado/task-queue-go/internal/api/websocket"
	"github.com/maumercado/task-queue-go/internal/config"
	"github.com/maumercado/task-queue-go/internal/events"
	"github.com/maumercado/task-queue-go/internal/registry"
	"github.com/maumercado/task-queue-go/internal/rpcfabric"
	"github.com/maumercado/task-queue-go/internal/statemachine"
	"github.com/maumercado/task-queue-go/internal/store"
	"github.com/maumercado/task-queue-go/internal/worker"
)

// Server is the Supervisor's HTTP server: the operator-facing admin API,
// the worker-to-supervisor RPC endpoint, the WebSocket event stream, and
// metrics.
type Server struct {
	router *chi.Mux
	config *config.Config

	jobHandler           *handlers.JobHandler
	instanceHandler      *handlers.InstanceHandler
	taskHandler          *handlers.TaskHandler
	adminHandler         *handlers.AdminHandler
	supervisorRPCHandler *handlers.SupervisorRPCHandler

	wsHub     *websocket.Hub
	wsHandler *websocket.Handler
	publisher *events.RedisPubSub
}

// NewServer wires a Supervisor's HTTP surface.
func NewServer(cfg *config.Config, st *store.Store, driver *statemachine.Driver, reg registry.Registry, rpc *rpcfabric.Destination, publisher *events.RedisPubSub) *Server {
	wsHub := websocket.NewHub(publisher)

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,

		jobHandler:           handlers.NewJobHandler(st, driver),
		instanceHandler:      handlers.NewInstanceHandler(st, driver, rpc),
		taskHandler:          handlers.NewTaskHandler(st, driver, rpc),
		adminHandler:         handlers.NewAdminHandler(reg, st),
		supervisorRPCHandler: handlers.NewSupervisorRPCHandler(driver),

		wsHub:     wsHub,
		wsHandler: websocket.NewHandler(wsHub),
		publisher: publisher,
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
	adminAuth := apiMiddleware.Auth(&apiMiddleware.AuthConfig{
		Enabled:   s.config.Auth.Enabled,
		JWTSecret: s.config.Auth.JWTSecret,
		APIKeys:   apiKeySet(s.config.Auth.APIKeys),
	})

	// Operator-facing admin API, JWT/API-key protected.
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(adminAuth)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.jobHandler.Create)
			r.Get("/", s.jobHandler.List)
			r.Get("/{jobID}", s.jobHandler.Get)
			r.Put("/{jobID}", s.jobHandler.Update)
			r.Delete("/{jobID}", s.jobHandler.Delete)
			r.Post("/{jobID}/enable", s.jobHandler.SetEnabled(true))
			r.Post("/{jobID}/disable", s.jobHandler.SetEnabled(false))
			r.Post("/{jobID}/trigger", s.jobHandler.Trigger)
		})

		r.Route("/instances", func(r chi.Router) {
			r.Get("/{instanceID}", s.instanceHandler.Get)
			r.Get("/{instanceID}/tasks", s.instanceHandler.Tasks)
			r.Post("/{instanceID}/pause", s.instanceHandler.Pause)
			r.Post("/{instanceID}/resume", s.instanceHandler.Resume)
			r.Post("/{instanceID}/cancel", s.instanceHandler.Cancel)
			r.Delete("/{instanceID}", s.instanceHandler.Delete)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Post("/{taskID}/start", s.taskHandler.Start)
			r.Post("/{taskID}/terminate", s.taskHandler.Terminate)
		})
	})

	// Cluster introspection, same operator auth as the rest of the admin
	// surface.
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(adminAuth)

		r.Get("/health", s.adminHandler.HealthCheck)
		r.Get("/workers", s.adminHandler.ListWorkers)
		r.Get("/supervisors", s.adminHandler.ListSupervisors)
	})

	// Worker-to-supervisor RPC, HMAC-signed instead of JWT since workers
	// have no operator session.
	s.router.Route("/supervisor/rpc", func(r chi.Router) {
		r.Use(apiMiddleware.RPCAuth(s.config.RPC.Secret))
		r.Post("/checkpoint", s.supervisorRPCHandler.Checkpoint)
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

func apiKeySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// Start starts the WebSocket hub's event fan-out loop.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Publisher() *events.RedisPubSub {
	return s.publisher
}

// WorkerServer is the Worker's HTTP server: only the supervisor-to-worker
// RPC endpoints, HMAC-signed, with no operator-facing surface at all.
type WorkerServer struct {
	router *chi.Mux
}

func NewWorkerServer(cfg *config.Config, pool *worker.Pool) *WorkerServer {
	h := handlers.NewWorkerRPCHandler(pool)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.RequestLogger())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Route("/worker/rpc", func(r chi.Router) {
		r.Use(apiMiddleware.RPCAuth(cfg.RPC.Secret))
		r.Post("/receive", h.Receive)
		r.Post("/terminateTask", h.TerminateTask)
		r.Post("/pause", h.Pause)
	})

	return &WorkerServer{router: r}
}

func (s *WorkerServer) Router() *chi.Mux {
	return s.router
}

func (s *WorkerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
