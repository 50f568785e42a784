package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"sunset/internal/config"
	"sunset/internal/domain"
	"sunset/internal/store"
	"sunset/pkg/sunset"
)

var (
	auditLimit  int
	auditOutput string
	auditLocal  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the closure audit trail",
	Long: `Query and export the append-only closure audit trail.

Subcommands:
  list    - Print the audit events of an account
  export  - Write the audit events of an account to a Parquet file

Examples:
  sunset-cli audit list ACCOUNT_ID --limit 10
  sunset-cli audit export ACCOUNT_ID -o audit.parquet --local`,
}

var auditListCmd = &cobra.Command{
	Use:   "list <account-id>",
	Short: "Print the audit events of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := loadEvents(cmd, args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTIME\tSTEP\tSTATUS\tPCT\tACTION\tMESSAGE")
		for _, ev := range events {
			msg := ev.Message
			if ev.Error != "" {
				msg = ev.Error
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
				ev.ID, ev.CreatedAt.Format(time.RFC3339), ev.Step, ev.Status, ev.ProgressPct, ev.Action, msg)
		}
		return tw.Flush()
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export <account-id>",
	Short: "Write the audit events of an account to a Parquet file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := loadEvents(cmd, args[0])
		if err != nil {
			return err
		}
		if err := store.ExportParquet(auditOutput, events); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d events to %s\n", len(events), auditOutput)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd, auditExportCmd)

	auditCmd.PersistentFlags().IntVarP(&auditLimit, "limit", "n", 0, "only the most recent N events (0 = all)")
	auditCmd.PersistentFlags().BoolVar(&auditLocal, "local", false, "read the audit store named in the server config instead of the API")
	auditExportCmd.Flags().StringVarP(&auditOutput, "output", "o", "audit.parquet", "output Parquet file")
}

// loadEvents reads the trail from the server, or from the configured store
// directly with --local.
func loadEvents(cmd *cobra.Command, accountID string) ([]domain.ClosureEvent, error) {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if auditLocal {
		cfg, err := config.Load(config.Path())
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		st, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.SQLitePath, store.PostgresConfig{
			DSN:      cfg.Storage.PostgresDSN,
			MaxConns: 1,
		})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		return st.ListClosureEvents(ctx, accountID, auditLimit)
	}

	remote, err := newClient().Audit(ctx, accountID, auditLimit)
	if err != nil {
		return nil, err
	}
	return fromAPI(remote), nil
}

func fromAPI(in []sunset.AuditEvent) []domain.ClosureEvent {
	out := make([]domain.ClosureEvent, 0, len(in))
	for _, ev := range in {
		out = append(out, domain.ClosureEvent{
			ID:                     ev.ID,
			AccountID:              ev.AccountID,
			ConfirmationNumber:     ev.ConfirmationNumber,
			Status:                 ev.Status,
			Step:                   domain.ClosureStep(ev.Step),
			ProgressPct:            ev.ProgressPct,
			Action:                 ev.Action,
			Message:                ev.Message,
			Error:                  ev.Error,
			TransferRelationshipID: ev.TransferRelationshipID,
			EstimatedCompletion:    ev.EstimatedCompletion,
			CreatedAt:              ev.CreatedAt,
		})
	}
	return out
}
