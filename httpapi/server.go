// Package httpapi exposes the operator console as a JSON API.
package httpapi

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/console"
)

const maxBodySize = 64 * 1024

// Server serves the console API.
type Server struct {
	console *console.Console
	logger  orderops.Logger
	router  chi.Router
}

// New builds the router for c.
func New(c *console.Console) *Server {
	s := &Server{
		console: c,
		logger:  orderops.WithLoggerFields(c.Logger(), map[string]any{"component": "httpapi"}),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLog)

	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Get("/", s.getOrder)
		r.Get("/trail", s.getTrail)
		r.Post("/actions/{action}", s.runAction)
		r.Post("/reject", s.reject)
	})
	r.Get("/rejection/reasons", s.reasons)
	r.Get("/busy", s.busy)
	if m := c.Metrics(); m != nil {
		r.Handle("/metrics", m.Handler())
	}

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("console api listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s %d %s request_id=%s",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), chimw.GetReqID(r.Context()))
	})
}
