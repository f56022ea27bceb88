/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tollgate/tollgate/httpserver"
	"github.com/tollgate/tollgate/internal/libinfo"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/service"
)

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the HTTP gateway. Every request is checked against the rate limits of its identity
and endpoint, admitted requests are proxied to the upstream, rejected ones are answered with 429.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadAppConfig(rootOpts.configPath)
			if err != nil {
				return err
			}
			logger, closeLogger := log.NewLogger(cfg.Log)
			defer closeLogger()
			return runGateway(cmd.Context(), cfg, logger)
		},
	}
}

func runGateway(ctx context.Context, cfg *AppConfig, logger log.FieldLogger) error {
	logger.Info("starting tollgate", log.String("version", libinfo.GetVersion()),
		log.String("store", string(cfg.Store.Type)), log.String("upstream", cfg.Gateway.Upstream))

	unit, closeFn, err := newGatewayUnit(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create gateway", log.Error(err))
		return err
	}
	defer func() {
		if closeErr := closeFn(); closeErr != nil {
			logger.Error("failed to release gateway resources", log.Error(closeErr))
		}
	}()
	return service.New(logger, unit).StartContext(ctx)
}

// newGatewayUnit wires the admission components, the HTTP server and the background workers into one unit.
func newGatewayUnit(
	ctx context.Context, cfg *AppConfig, logger log.FieldLogger,
) (unit service.Unit, closeFn func() error, err error) {
	upstreamURL, err := httpserver.ParseUpstreamURL(cfg.Gateway.Upstream)
	if err != nil {
		return nil, nil, err
	}

	adm, err := newAdmission(ctx, cfg, logger, admissionOpts{WithMetrics: true, WithBackground: true})
	if err != nil {
		return nil, nil, err
	}

	healthComponents := map[httpserver.HealthCheckComponentName]httpserver.Pinger{"store": adm.store}
	if adm.redis != nil {
		healthComponents["stats"] = httpserver.PingerFunc(func(ctx context.Context) error {
			return adm.redis.Ping(ctx).Err()
		})
	}

	errDomain := cfg.Gateway.ErrorDomain
	serverOpts := httpserver.Opts{
		ErrorDomain:        errDomain,
		HealthCheckContext: httpserver.NewPingHealthCheck(healthComponents, logger),
		HTTPRequestMetrics: httpserver.HTTPRequestMetricsOpts{
			Namespace:   metricsNamespace,
			ConstLabels: libinfo.AddPrometheusVersionLabel(nil),
		},
		Admission:     adm.manager,
		AdmissionOpts: cfg.Gateway.Admission.AdmissionOpts(),
		Upstream: httpserver.NewUpstreamProxy(upstreamURL, httpserver.UpstreamProxyOpts{
			ErrorDomain:       errDomain,
			TrustForwardedFor: cfg.Gateway.Admission.TrustForwardedFor,
			Logger:            logger,
		}),
	}
	if cfg.Gateway.DebugRoutes {
		serverOpts.Debug = &httpserver.DebugOpts{Inspector: adm.manager, Invalidator: adm.resolver, ErrorDomain: errDomain}
	}

	httpServer, err := httpserver.New(cfg.Server, logger, serverOpts)
	if err != nil {
		_ = adm.Close()
		return nil, nil, fmt.Errorf("create http server: %w", err)
	}

	units := append([]service.Unit{httpServer}, adm.workerUnits(cfg, logger)...)
	return service.NewCompositeUnit(units...), adm.Close, nil
}
