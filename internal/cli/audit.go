package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"risk-core/internal/audit"
)

func newAuditCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the risk audit log",
	}
	cmd.AddCommand(newAuditTailCmd(rc))
	return cmd
}

func newAuditTailCmd(rc *rootConfig) *cobra.Command {
	var (
		n    int
		path string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the last N gate transitions as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = rc.cfg.AuditLogPath
			}
			evts, err := audit.ReadTail(path, n)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, evt := range evts {
				if err := enc.Encode(evt); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", audit.DefaultRecent, "number of events")
	cmd.Flags().StringVar(&path, "file", "", "audit log path (default AUDIT_LOG_PATH)")
	return cmd
}
