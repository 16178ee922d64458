// Package cli holds the cobra commands of the risk-core binary.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"risk-core/pkg/config"
	"risk-core/pkg/i18n"
	"risk-core/pkg/logging"
)

// rootConfig is filled once before any subcommand runs.
type rootConfig struct {
	cfg      *config.Config
	log      zerolog.Logger
	logLevel string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rc := &rootConfig{}

	cmd := &cobra.Command{
		Use:           "risk-core",
		Short:         "Risk-gated signal admission and trade ledger",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if rc.logLevel != "" {
				cfg.LogLevel = rc.logLevel
			}
			rc.cfg = cfg
			rc.log = logging.New(cfg.LogLevel)
			i18n.SetLanguage(i18n.Language(cfg.Language))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&rc.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(rc),
		newReplayCmd(rc),
		newAuditCmd(rc),
		newTokenCmd(rc),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
