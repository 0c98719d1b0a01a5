package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/bizmap/internal/core/api"
	"github.com/mohammed-shakir/bizmap/internal/core/config"
	"github.com/mohammed-shakir/bizmap/internal/core/health"
	middleware "github.com/mohammed-shakir/bizmap/internal/core/middleware"
)

// NewRouter wires middlewares, probes and the catalog API.
func NewRouter(logger *slog.Logger, h *api.Handler, ready ...health.Check) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, ready...))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	h.Routes(r)
	return r
}

// Run serves handler until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, cfg, logger, handler)
}

func Serve(ctx context.Context, ln net.Listener, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	readTimeout, writeTimeout := cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
