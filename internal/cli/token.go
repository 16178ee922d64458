package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"risk-core/internal/api"
)

func newTokenCmd(rc *rootConfig) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin JWT signed with ADMIN_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rc.cfg.AdminJWTSecret == "" {
				return errors.New("ADMIN_JWT_SECRET is not set")
			}
			token, err := api.GenerateToken(subject, rc.cfg.AdminJWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
