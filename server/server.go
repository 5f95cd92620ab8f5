package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/dualstore/internal/profile"
	"github.com/hrygo/dualstore/server/internal/observability"
	"github.com/hrygo/dualstore/server/middleware"
	apiv1 "github.com/hrygo/dualstore/server/router/api/v1"
	"github.com/hrygo/dualstore/store/backend"
)

const rateLimiterPruneInterval = time.Minute

// Server is the HTTP front of the persistence backend.
type Server struct {
	Profile *profile.Profile
	Backend backend.Backend

	echoServer  *echo.Echo
	rateLimiter *middleware.RateLimiter
}

// NewServer wires the routes and middleware. metrics may be nil, in which case /metrics is
// not served.
func NewServer(_ context.Context, profile *profile.Profile, backend backend.Backend, metrics *backend.Metrics) (*Server, error) {
	if profile == nil || backend == nil {
		return nil, errors.New("profile and backend are required")
	}

	s := &Server{
		Profile:     profile,
		Backend:     backend,
		rateLimiter: middleware.NewRateLimiter(0, 0),
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomw.Recover())
	echoServer.Use(observability.RequestLogger(slog.Default()))
	echoServer.Use(s.rateLimiter.Middleware())
	echoServer.Use(requestTimeout(profile.RequestTimeout))
	s.echoServer = echoServer

	apiv1.NewAPIV1Service(profile, backend).RegisterRoutes(echoServer)
	if metrics != nil {
		echoServer.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	return s, nil
}

// Handler returns the HTTP handler, for tests and for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start serves until Shutdown is called or the listener fails. ctx bounds the background
// maintenance started alongside the listener.
func (s *Server) Start(ctx context.Context) error {
	address := net.JoinHostPort(s.Profile.Addr, strconv.Itoa(s.Profile.Port))
	go s.pruneRateLimiter(ctx)

	slog.Info("server started", slog.String("address", address), slog.String("mode", string(s.Backend.Mode())))
	if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server stopped")
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and closes the backend.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("server shutting down")

	var shutdownErr error
	if err := s.echoServer.Shutdown(ctx); err != nil {
		shutdownErr = errors.Wrap(err, "failed to shutdown echo server")
	}
	if err := s.Backend.Close(); err != nil {
		slog.Error("failed to close backend", slog.String("error", err.Error()))
		if shutdownErr == nil {
			shutdownErr = errors.Wrap(err, "failed to close backend")
		}
	}

	slog.Info("server stopped properly")
	return shutdownErr
}

func (s *Server) pruneRateLimiter(ctx context.Context) {
	ticker := time.NewTicker(rateLimiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.rateLimiter.Prune(); n > 0 {
				slog.Debug("pruned idle rate limiters", slog.Int("count", n))
			}
		}
	}
}

// requestTimeout bounds every request, backend calls included, by d.
func requestTimeout(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if d <= 0 {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
