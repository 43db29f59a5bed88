// Package api serves the robot and arm HTTP endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/dockyard/internal/arm"
	"github.com/zulandar/dockyard/internal/fleet"
	"github.com/zulandar/dockyard/internal/metrics"
)

// ServiceName is reported by the health endpoints.
const ServiceName = "dockyard"

const defaultShutdownTimeout = 5 * time.Second

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Host            string
	Port            int
	Fleet           *fleet.Service
	Arm             *arm.Service
	Metrics         *metrics.Metrics // nil disables /metrics
	Logger          zerolog.Logger
	ShutdownTimeout time.Duration
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Fleet == nil {
		return nil, fmt.Errorf("api: fleet service is required")
	}
	if opts.Arm == nil {
		return nil, fmt.Errorf("api: arm service is required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(observe(opts.Metrics, opts.Logger))

	registerRoutes(router, opts)
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8000
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		opts.Logger.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	opts.Logger.Info().Msg("api stopped")
	return nil
}
