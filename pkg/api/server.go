// Package api serves the admin HTTP surface: health and prometheus
// metrics. It is optional and bound to a separate listener from the RPC
// adapter.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/pkg/storage"
)

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
}

// New builds the admin server. metricsHandler may be nil when metrics are
// disabled; the route is simply absent.
func New(listen string, store *storage.Store, metricsHandler http.Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"epoch":    store.Epoch(),
			"data_dir": store.DataDir(),
		})
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              listen,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Serve blocks until the context is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Admin server shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("Admin server listening", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
