/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tollgate/tollgate/limits/store"
	"github.com/tollgate/tollgate/log"
)

func newRulesCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage rate limit rules",
	}
	cmd.AddCommand(newRulesImportCommand(rootOpts), newRulesValidateCommand())
	return cmd
}

func newRulesImportCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the rules of the configured store with the rules from a YAML file",
		Long: `Replace the rules of the configured store with the rules from a YAML file.
Entities without an id get a generated one. Only sqlite and postgres stores may be written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAppConfig(rootOpts.configPath)
			if err != nil {
				return err
			}
			if cfg.Store.Type != store.TypeSQLite && cfg.Store.Type != store.TypePostgres {
				return fmt.Errorf("rules cannot be imported into %s store", cfg.Store.Type)
			}
			rules, err := store.ReadRuleSetFile(args[0])
			if err != nil {
				return err
			}

			logger, closeLogger := log.NewLogger(cfg.Log)
			defer closeLogger()

			backend, err := store.Open(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
			}
			defer func() {
				if closeErr := backend.Close(); closeErr != nil {
					logger.Error("failed to close store", log.Error(closeErr))
				}
			}()
			writer, ok := backend.(store.Writer)
			if !ok {
				return fmt.Errorf("rules cannot be imported into %s store", cfg.Store.Type)
			}
			if err = writer.Import(cmd.Context(), rules); err != nil {
				return fmt.Errorf("import rules: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d configs, %d overrides, %d endpoint rules\n",
				len(rules.Configs), len(rules.Overrides), len(rules.Endpoints))
			return err
		},
	}
}

func newRulesValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a YAML rules file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := store.ReadRuleSetFile(args[0])
			if err != nil {
				return err
			}
			store.AssignIDs(&rules)
			if err = rules.Validate(); err != nil {
				return fmt.Errorf("invalid rules: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d configs, %d overrides, %d endpoint rules are valid\n",
				args[0], len(rules.Configs), len(rules.Overrides), len(rules.Endpoints))
			return err
		},
	}
}
