package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"toy-exchange-go/internal/config"
	"toy-exchange-go/internal/market"
	"toy-exchange-go/internal/trader"
)

// TickReporter reports the progress of the rate fluctuation loop.
type TickReporter interface {
	Stats() market.TickStats
}

// APIServer provides an HTTP interface for the exchange.
type APIServer struct {
	server    *http.Server
	handler   *Handler
	logger    *zap.Logger
	ticks     TickReporter
	limiter   *rate.Limiter
	uuid      string
	startTime time.Time
}

// NewAPIServer creates a new APIServer.
func NewAPIServer(cfg *config.Server, engine *trader.Engine, rates *market.RateTable, ticks TickReporter, logger *zap.Logger) *APIServer {
	s := &APIServer{
		handler:   NewHandler(engine, rates, logger),
		logger:    logger.Named("api-server"),
		ticks:     ticks,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		uuid:      uuid.NewString(),
		startTime: time.Now(),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes builds the router. It is exported for tests.
func (s *APIServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.healthHandler)
	r.Get("/status", s.statusHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.logRequests)

		r.Get("/rates", s.handler.Rates)
		r.Post("/currencies", s.handler.AddCurrency)

		r.Post("/users", s.handler.Register)
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/cash", s.handler.Cash)
			r.Get("/portfolio", s.handler.Portfolio)
			r.Get("/operations", s.handler.Operations)
			r.Post("/buy", s.handler.Buy)
			r.Post("/sell", s.handler.Sell)
		})
	})
	return r
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr), zap.String("uuid", s.uuid))
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// rateLimit rejects requests beyond the configured rate with 429.
func (s *APIServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Handled request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		UUID           string `json:"uuid"`
		StartTime      string `json:"start_time"`
		Uptime         string `json:"uptime"`
		Ticks          int64  `json:"ticks"`
		LastTick       string `json:"last_tick,omitempty"`
		LastMultiplier string `json:"last_multiplier,omitempty"`
	}{
		UUID:      s.uuid,
		StartTime: s.startTime.Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).String(),
	}
	if s.ticks != nil {
		stats := s.ticks.Stats()
		status.Ticks = stats.Ticks
		if stats.Ticks > 0 {
			status.LastTick = stats.LastTick.Format(time.RFC3339)
			status.LastMultiplier = stats.LastMultiplier.String()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
