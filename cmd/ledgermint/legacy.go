package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ledgermint/ledgermint/internal/cli"
	"github.com/ledgermint/ledgermint/internal/legacy"
)

func legacyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "legacy",
		Short: "Inspect and import legacy rule formats",
		Long: `Legacy keyword and tag rules keep working without migration: the bridge
translates them into canonical rules on every evaluation. Materialize
performs the optional one-time import into a real rule set.`,
	}

	cmd.AddCommand(legacyListCmd())
	cmd.AddCommand(legacyMaterializeCmd())

	return cmd
}

func legacyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bridged legacy rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			bridged, err := legacy.NewBridge(store).BridgedRules(ctx)
			if err != nil {
				return err
			}
			if len(bridged) == 0 {
				slog.Info("No legacy rules found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tTIER\tORIGIN")
			for _, rule := range bridged {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
					truncateString(rule.Name, 40), rule.Tier, rule.Origin)
			}
			return w.Flush()
		},
	}
}

func legacyMaterializeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "materialize",
		Short: "Import legacy rules into a real rule set",
		Long: `Create a draft "legacy_default" rule set containing every bridged legacy
rule as a first-class rule. The bridge keeps working either way.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			set, imported, err := legacy.NewBridge(store).Materialize(ctx)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Materialized %d legacy rules into set %q (%d)", imported, set.Name, set.ID)))
			return nil
		},
	}
}
