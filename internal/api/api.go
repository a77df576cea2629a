// Package api provides the HTTP surface of LeadPulse.
//
// It exposes RESTful endpoints for lead management, conversation
// inspection, manual and generated sends, CSV import/export, the Twilio
// inbound webhook, and scheduler control.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leadpulse/leadpulse/internal/metrics"
	"github.com/leadpulse/leadpulse/internal/orchestrator"
	"github.com/leadpulse/leadpulse/internal/scheduler"
	"github.com/leadpulse/leadpulse/internal/store"
	"github.com/leadpulse/leadpulse/internal/webhook"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server hosts the HTTP endpoints and their collaborators.
type Server struct {
	store      store.Store
	orch       *orchestrator.Orchestrator
	reconciler *webhook.Reconciler
	sched      *scheduler.Scheduler
	logger     *slog.Logger

	httpServer *http.Server
}

// NewServer creates the API server. sched may be nil when the sweep is
// disabled; the scheduler endpoints then report an error.
func NewServer(st store.Store, orch *orchestrator.Orchestrator, reconciler *webhook.Reconciler, sched *scheduler.Scheduler, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		store:      st,
		orch:       orch,
		reconciler: reconciler,
		sched:      sched,
		logger:     slog.Default().With("component", "api"),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for handler tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/", s.rootHandler)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/leads", s.createLeadHandler)
	r.Get("/leads", s.listLeadsHandler)
	r.Get("/leads/{leadID}", s.getLeadHandler)
	r.Put("/leads/{leadID}", s.updateLeadHandler)

	r.Get("/conversations", s.listConversationsHandler)
	r.Get("/conversations/{conversationID}", s.getConversationHandler)
	r.Get("/conversations/{conversationID}/messages", s.listMessagesHandler)

	r.Post("/send-message", s.sendMessageHandler)
	r.Post("/generate/{conversationID}", s.generateHandler)
	r.Post("/webhook/twilio", s.twilioWebhookHandler)

	r.Post("/import-leads", s.importLeadsHandler)
	r.Post("/export-leads", s.exportLeadsHandler)

	r.Post("/scheduler/start", s.schedulerStartHandler)
	r.Post("/scheduler/stop", s.schedulerStopHandler)

	return r
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("API server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
