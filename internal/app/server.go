package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/knowledge-ingest/internal/api/middlewares"
	"github.com/markdave123-py/knowledge-ingest/internal/metrics"
	"github.com/markdave123-py/knowledge-ingest/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewRouter wires every route onto a chi router.
func NewRouter(svc *services.KnowledgeService, stuckAfter time.Duration) http.Handler {
	knowledge := handlers.NewKnowledgeHandler(svc, stuckAfter)
	query := handlers.NewQueryHandler(svc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(appMiddleware.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/chatbots/{chatbotID}", func(bot chi.Router) {
			bot.Post("/knowledge", knowledge.Upload)
			bot.Get("/knowledge", knowledge.List)
			bot.Post("/query", query.Query)
		})

		api.Route("/knowledge", func(kn chi.Router) {
			kn.Get("/stuck", knowledge.Stuck)
			kn.Get("/{id}", knowledge.Get)
			kn.Post("/{id}/reingest", knowledge.Reingest)
			kn.Delete("/{id}", knowledge.Delete)
		})
	})

	return r
}

// NewServer builds the HTTP server listening on :port.
func NewServer(port string, handler http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log.Named("http"),
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
