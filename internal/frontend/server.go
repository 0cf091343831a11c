// Package frontend serves the HTTP API: engine status, scan initiation,
// and a health probe.
package frontend

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/engine"
	"github.com/mailsift/mailsift/internal/logger"
)

type Server struct {
	cfg        *config.Config
	engine     *engine.Engine
	httpServer *http.Server
}

func NewServer(cfg *config.Config, eng *engine.Engine) *Server {
	return &Server{cfg: cfg, engine: eng}
}

// Serve starts the HTTP server and blocks until ctx is done, then shuts
// down gracefully.
func (srv *Server) Serve(ctx context.Context) error {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             srv.cfg.Global.LogFormat == "json",
		Concise:          true,
		MessageFieldName: "msg",
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(withRecoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", srv.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", srv.handleStatus)
		r.Post("/scans", srv.handleStartScan)
	})

	addr := net.JoinHostPort(srv.cfg.Server.Host, strconv.Itoa(srv.cfg.Server.Port))
	srv.httpServer = &http.Server{
		Handler:           r,
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Server is starting", "addr", addr)
		if err := srv.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv.httpServer.SetKeepAlivesEnabled(false)
	if err := srv.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Failed to shutdown server", "err", err)
		return err
	}
	logger.Info(ctx, "Server shutdown complete")
	return nil
}

// withRecoverer is adapted from the `recoverer` middleware from the
// `chi` package.
func withRecoverer(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logger.Error(r.Context(), "Recovered from panic", "panic", rvr, "stack", string(debug.Stack()))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
