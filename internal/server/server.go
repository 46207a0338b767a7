// File: internal/server/server.go
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/inspectbridge/internal/config"
)

// Server exposes a Service over HTTP and websocket.
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	service  Service
	handlers *Handlers
	router   chi.Router
}

// New builds the router for service. Nothing listens until Serve is called.
func New(cfg config.ServerConfig, service Service, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger.Named("server"),
		service: service,
	}
	s.handlers = NewHandlers(s.logger, service)
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// The websocket route stays outside the request logger so the hijacked
	// connection is not wrapped.
	r.Get("/v1/ws", s.handleWebSocket())

	r.Group(func(r chi.Router) {
		r.Use(requestLogger(s.logger))
		s.handlers.RegisterRoutes(r)
		if s.cfg.EnableMetrics {
			r.Handle("/metrics", promhttp.Handler())
		}
	})
	return r
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down gracefully
// within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening.", zap.String("address", ln.Addr().String()))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("API server shutdown error.", zap.Error(err))
		return err
	}
	<-errCh
	s.logger.Info("API server stopped.")
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// requestLogger logs each request through zap once it completes.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("Served request.",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
