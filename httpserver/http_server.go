/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/tollgate/tollgate/httpserver/middleware"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/service"
)

const (
	networkTCP  = "tcp"
	networkUnix = "unix"
)

// systemEndpoints are served by the gateway itself and are not observed by the request metrics.
var systemEndpoints = []string{"/metrics", "/healthz"}

// HTTPRequestMetricsOpts represents options of the HTTP request metrics.
type HTTPRequestMetricsOpts struct {
	Namespace       string
	DurationBuckets []float64
	ConstLabels     prometheus.Labels
}

// Opts represents options for creating HTTPServer.
type Opts struct {
	// RootMiddlewares are applied to every request after the default ones (request ID, logging, recovery, metrics).
	RootMiddlewares []func(http.Handler) http.Handler
	// ErrorDomain is used for error responses.
	ErrorDomain string
	// HealthCheck or HealthCheckContext (if set) serves /healthz.
	HealthCheck        HealthCheck
	HealthCheckContext HealthCheckContext
	// MetricsHandler serves /metrics instead of the default Prometheus handler.
	MetricsHandler     http.Handler
	HTTPRequestMetrics HTTPRequestMetricsOpts
	// Admission checks every request that is passed to Upstream.
	Admission     middleware.AdmissionChecker
	AdmissionOpts middleware.AdmissionOpts
	// Upstream serves admitted requests, usually it's a proxy created by NewUpstreamProxy.
	Upstream http.Handler
	// Debug enables the rate limit debug endpoints.
	Debug *DebugOpts
	// Listener, if set, is used instead of listening on the configured address.
	Listener net.Listener
}

func (opts Opts) routerOpts() RouterOpts {
	return RouterOpts{
		RootMiddlewares:    opts.RootMiddlewares,
		ErrorDomain:        opts.ErrorDomain,
		HealthCheck:        opts.HealthCheck,
		HealthCheckContext: opts.HealthCheckContext,
		MetricsHandler:     opts.MetricsHandler,
		Admission:          opts.Admission,
		AdmissionOpts:      opts.AdmissionOpts,
		Upstream:           opts.Upstream,
		Debug:              opts.Debug,
	}
}

// HTTPServer is the gateway HTTP server. It serves the system endpoints and passes
// the rest of the requests through the admission middleware to the upstream.
// HTTPServer implements service.Unit and service.MetricsRegisterer.
type HTTPServer struct {
	URL             string
	HTTPServer      *http.Server
	UnixSocketPath  string
	TLS             TLSConfig
	HTTPRouter      chi.Router
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	listener    net.Listener
	port        atomic.Int32
	serveDone   atomic.Value // chan struct{}
	httpMetrics *middleware.HTTPRequestPrometheusMetrics
}

var _ service.Unit = (*HTTPServer)(nil)
var _ service.MetricsRegisterer = (*HTTPServer)(nil)

// New creates a new HTTPServer.
func New(cfg *Config, logger log.FieldLogger, opts Opts) (*HTTPServer, error) { //nolint // hugeParam: opts is heavy, it's ok in this case.
	if opts.Upstream != nil && opts.Admission == nil {
		logger.Warn("admission checker is not set, all requests will be passed to upstream")
	}

	httpMetrics := middleware.NewHTTPRequestPrometheusMetricsWithOpts(middleware.HTTPRequestPrometheusMetricsOpts{
		Namespace:       opts.HTTPRequestMetrics.Namespace,
		DurationBuckets: opts.HTTPRequestMetrics.DurationBuckets,
		ConstLabels:     opts.HTTPRequestMetrics.ConstLabels,
	})
	router := chi.NewRouter()
	applyDefaultMiddlewaresToRouter(router, cfg, logger, opts, httpMetrics)
	configureRouter(router, logger, opts.routerOpts())

	scheme, host := "http", cfg.Address
	if cfg.TLS.Enabled {
		scheme = "https"
	}
	if cfg.UnixSocketPath != "" {
		host = "localhost" // Host is ignored when dialing the unix socket.
	}

	return &HTTPServer{
		URL: scheme + "://" + host,
		HTTPServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			WriteTimeout:      time.Duration(cfg.Timeouts.Write),
			ReadTimeout:       time.Duration(cfg.Timeouts.Read),
			ReadHeaderTimeout: time.Duration(cfg.Timeouts.ReadHeader),
			IdleTimeout:       time.Duration(cfg.Timeouts.Idle),
		},
		UnixSocketPath:  cfg.UnixSocketPath,
		TLS:             cfg.TLS,
		HTTPRouter:      router,
		Logger:          logger,
		ShutdownTimeout: time.Duration(cfg.Timeouts.Shutdown),
		listener:        opts.Listener,
		httpMetrics:     httpMetrics,
	}, nil
}

// Start listens and serves requests until the server is stopped.
// It blocks, so it's supposed to be called in a separate goroutine.
func (s *HTTPServer) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.serveDone.Store(done)

	network, addr := s.NetworkAndAddr()
	logger := s.Logger.With(
		log.String("network", network),
		log.String("address", addr),
		log.Bool("tls", s.TLS.Enabled),
		log.Duration("shutdown_timeout", s.ShutdownTimeout),
	)
	fail := func(msg string, err error) {
		logger.Error(msg, log.Error(err))
		fatalError <- err
	}

	if s.listener == nil {
		if network == networkUnix {
			if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
				fail("failed to remove stale unix socket", fmt.Errorf("remove unix socket file %q: %w", addr, err))
				return
			}
		}
		ln, err := net.Listen(network, addr)
		if err != nil {
			fail("failed to listen", err)
			return
		}
		s.listener = ln
	}
	if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		s.port.Store(int32(tcpAddr.Port)) //nolint:gosec // TCP port fits int32
	}

	logger.Info("gateway HTTP server is listening", log.Int("port", s.GetPort()))

	var err error
	if s.TLS.Enabled {
		err = s.HTTPServer.ServeTLS(s.listener, s.TLS.Certificate, s.TLS.Key)
	} else {
		err = s.HTTPServer.Serve(s.listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info("gateway HTTP server closed")
		return
	}
	fail("gateway HTTP server failed", err)
}

// Stop stops the server. Graceful stop waits for in-flight requests up to ShutdownTimeout.
func (s *HTTPServer) Stop(gracefully bool) error {
	if gracefully {
		ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()
		s.Logger.Info("shutting down gateway HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
		if err := s.HTTPServer.Shutdown(ctx); err != nil {
			s.Logger.Error("gateway HTTP server shutdown failed", log.Error(err))
			return err
		}
	} else {
		s.Logger.Info("closing gateway HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("gateway HTTP server closing failed", log.Error(err))
			return err
		}
	}
	if done, ok := s.serveDone.Load().(chan struct{}); ok {
		<-done
	}
	return nil
}

// MustRegisterMetrics registers the HTTP request metrics.
func (s *HTTPServer) MustRegisterMetrics() {
	s.httpMetrics.MustRegister()
}

// UnregisterMetrics unregisters the HTTP request metrics.
func (s *HTTPServer) UnregisterMetrics() {
	s.httpMetrics.Unregister()
}

// NetworkAndAddr returns "unix" and the socket path if the unix socket is configured, or "tcp" and the address.
func (s *HTTPServer) NetworkAndAddr() (network string, addr string) {
	if s.UnixSocketPath != "" {
		return networkUnix, s.UnixSocketPath
	}
	return networkTCP, s.HTTPServer.Addr
}

// GetPort returns the TCP port the server listens on. It is known only after the server is started.
func (s *HTTPServer) GetPort() int {
	return int(s.port.Load())
}
