// Package server exposes the leaderboard over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/mlboard/internal/config"
	"github.com/sells-group/mlboard/internal/storage"
	"github.com/sells-group/mlboard/internal/store"
)

// Server holds the HTTP API's dependencies.
type Server struct {
	store    store.Store
	resolver *storage.Resolver
	uploads  *storage.Uploads
	cfg      config.ServerConfig
	verifier TokenVerifier
	limiter  *rate.Limiter
}

// New wires a Server. The verifier decides which requests are authenticated;
// use NewStaticVerifier for config-declared tokens.
func New(st store.Store, resolver *storage.Resolver, uploads *storage.Uploads, cfg config.ServerConfig, verifier TokenVerifier) *Server {
	limit := rate.Limit(cfg.RatePerSecond)
	if limit <= 0 {
		limit = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	return &Server{
		store:    st,
		resolver: resolver,
		uploads:  uploads,
		cfg:      cfg,
		verifier: verifier,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.rateLimit)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/datasets", func(r chi.Router) {
			r.Get("/", s.handleListDatasets)
			r.Get("/{id}", s.handleGetDataset)
			r.Get("/{id}/groundtruth", s.handleDownloadGroundTruth)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/", s.handleCreateDataset)
				r.Post("/{id}/analyze", s.handleAnalyzeDataset)
				r.Post("/{id}/mark_official", s.handleMarkOfficial)
			})
		})

		r.Route("/submissions", func(r chi.Router) {
			r.Get("/", s.handleListSubmissions)
			r.Post("/", s.handleCreateSubmission)
			r.Get("/{id}", s.handleGetSubmission)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/{id}/evaluate", s.handleEvaluateSubmission)
			})
		})

		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/", s.handleLeaderboard)
			r.Get("/history", s.handleLeaderboardHistory)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
