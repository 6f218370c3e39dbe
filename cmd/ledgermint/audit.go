package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log",
		Long: `Show recent lifecycle operations: activations, suggestion decisions,
cleanups, reverts, and imports.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := store.GetAuditEntries(ctx, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				slog.Info("Audit log is empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "WHEN\tKIND\tDETAIL")
			for _, entry := range entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
					entry.CreatedAt.Format("2006-01-02 15:04"),
					entry.Kind,
					truncateString(entry.Detail, 70))
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int("limit", 50, "Maximum entries to display")
	return cmd
}
