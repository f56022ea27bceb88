/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package cli implements the tollgate command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

// NewRootCommand creates the tollgate root command with all subcommands.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tollgate",
		Short: "Admission control gateway with per-identity sliding window rate limits",
		Long: `tollgate sits in front of an upstream API and admits or rejects every request
according to the per-minute, per-hour and burst limits of the caller's identity, class and endpoint.

Configuration is read from the file passed with --config and from TOLLGATE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the configuration file (YAML or JSON)")
	cmd.AddCommand(
		newServeCommand(opts),
		newCheckCommand(opts),
		newRulesCommand(opts),
		newVersionCommand(),
	)
	return cmd
}
