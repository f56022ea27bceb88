/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tollgate/tollgate/httpserver/middleware"
	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/ratelimit"
)

type checkOptions struct {
	identity string
	class    string
	address  string
	method   string
	path     string
	count    int
	inspect  bool
}

type checkDecision struct {
	N            int              `json:"n"`
	Allowed      bool             `json:"allowed"`
	LimitType    limits.LimitType `json:"limitType"`
	Limit        int              `json:"limit"`
	Remaining    int              `json:"remaining"`
	ResetAfterMs int64            `json:"resetAfterMs"`
	Degraded     bool             `json:"degraded,omitempty"`
	Endpoint     string           `json:"endpoint,omitempty"`
}

type checkLimits struct {
	RPM         int    `json:"rpm"`
	RPH         int    `json:"rph"`
	Burst       int    `json:"burst"`
	BurstWindow string `json:"burstWindow"`
}

type checkWindows struct {
	SubjectKey string                  `json:"subjectKey"`
	Limits     checkLimits             `json:"limits"`
	Degraded   bool                    `json:"degraded,omitempty"`
	Windows    []ratelimit.WindowState `json:"windows"`
}

func newCheckCommand(rootOpts *rootOptions) *cobra.Command {
	opts := checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate simulated requests against the configured rules",
		Long: `Evaluate one or more simulated requests against the rules of the configured store
and print the admission decisions as JSON lines. Windows live in memory of this command only,
so the decisions are not affected by a running gateway.`,
		Example: `  tollgate check -c gateway.yaml --identity alice --path /api/search --count 12
  tollgate check -c gateway.yaml --address 203.0.113.7 --method POST --path /login --inspect`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.identity == "" && opts.address == "" {
				return fmt.Errorf("either --identity or --address is required")
			}
			if opts.count < 1 {
				return fmt.Errorf("--count should be positive")
			}
			cfg, err := loadAppConfig(rootOpts.configPath)
			if err != nil {
				return err
			}
			return runCheck(cmd, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.identity, "identity", "", "authenticated identity of the request")
	cmd.Flags().StringVar(&opts.class, "class", "", "identity class (the configured default class if empty)")
	cmd.Flags().StringVar(&opts.address, "address", "", "client address keying anonymous requests")
	cmd.Flags().StringVar(&opts.method, "method", http.MethodGet, "HTTP method of the request")
	cmd.Flags().StringVar(&opts.path, "path", "/", "path of the request")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "number of requests to evaluate")
	cmd.Flags().BoolVar(&opts.inspect, "inspect", false, "print the effective limits and window counts after the last request")
	return cmd
}

func runCheck(cmd *cobra.Command, cfg *AppConfig, opts checkOptions) error {
	// Only errors are of interest, decisions go to stdout.
	logCfg := *cfg.Log
	logCfg.Level = log.LevelError
	logger, closeLogger := log.NewLogger(&logCfg)
	defer closeLogger()

	adm, err := newAdmission(cmd.Context(), cfg, logger, admissionOpts{})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := adm.Close(); closeErr != nil {
			logger.Error("failed to release admission components", log.Error(closeErr))
		}
	}()

	req := ratelimit.Request{
		Identity: opts.identity,
		Class:    opts.class,
		Address:  middleware.NormalizeAddress(opts.address),
		Method:   opts.method,
		Path:     opts.path,
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for i := 1; i <= opts.count; i++ {
		d := adm.manager.Check(cmd.Context(), req)
		if err = enc.Encode(checkDecision{
			N:            i,
			Allowed:      d.Allowed,
			LimitType:    d.LimitType,
			Limit:        d.Limit,
			Remaining:    d.Remaining,
			ResetAfterMs: d.ResetAfter.Milliseconds(),
			Degraded:     d.Degraded,
			Endpoint:     d.Endpoint,
		}); err != nil {
			return err
		}
	}
	if !opts.inspect {
		return nil
	}
	eff, windows := adm.manager.Inspect(cmd.Context(), req)
	return enc.Encode(checkWindows{
		SubjectKey: eff.Subject.Key(),
		Limits: checkLimits{
			RPM:         eff.RPM,
			RPH:         eff.RPH,
			Burst:       eff.Burst,
			BurstWindow: eff.BurstWindow.String(),
		},
		Degraded: eff.Degraded,
		Windows:  windows,
	})
}
