package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ledgermint/ledgermint/internal/cli"
	"github.com/ledgermint/ledgermint/internal/ruleset"
)

func rulesetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rulesets",
		Aliases: []string{"ruleset", "sets"},
		Short:   "Manage rule sets and their lifecycle",
		Long: `Manage rule sets: create drafts, shadow-compare them against the active
set, activate atomically, extract protected rules, and clean up dead or
shadowed rules.`,
	}

	cmd.AddCommand(rulesetsListCmd())
	cmd.AddCommand(rulesetsCreateCmd())
	cmd.AddCommand(rulesetsActivateCmd())
	cmd.AddCommand(rulesetsShadowCmd())
	cmd.AddCommand(rulesetsExtractCmd())
	cmd.AddCommand(rulesetsCleanupCmd())

	return cmd
}

func initManager(cmd *cobra.Command) (*ruleset.Manager, func(), error) {
	engine, store, cleanup, err := initEngine(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return ruleset.NewManager(store, engine), cleanup, nil
}

func rulesetsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rule sets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			sets, err := store.GetRuleSets(ctx)
			if err != nil {
				return err
			}
			if len(sets) == 0 {
				slog.Info("No rule sets found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATE\tVERSION\tCLONED FROM\tACTIVATED")
			_, _ = fmt.Fprintln(w, "──\t────\t─────\t───────\t───────────\t─────────")

			for _, set := range sets {
				clonedFrom := "-"
				if set.ClonedFrom != nil {
					clonedFrom = fmt.Sprintf("%d", *set.ClonedFrom)
				}
				activated := "-"
				if set.ActivatedAt != nil {
					activated = set.ActivatedAt.Format("2006-01-02 15:04")
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
					set.ID, truncateString(set.Name, 30), set.State,
					set.Version, clonedFrom, activated)
			}
			return w.Flush()
		},
	}
}

func rulesetsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a draft rule set",
		Long:  `Create a new draft rule set, optionally cloned from an existing one.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cleanup, err := initManager(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			var cloneFrom *int64
			if cmd.Flags().Changed("clone") {
				id, _ := cmd.Flags().GetInt64("clone")
				cloneFrom = &id
			}

			set, err := manager.Create(cmd.Context(), args[0], cloneFrom)
			if err != nil {
				return err
			}

			slog.Info("✓ Rule set created", "id", set.ID, "name", set.Name, "state", set.State)
			return nil
		},
	}

	cmd.Flags().Int64("clone", 0, "Clone rules from this rule set ID")
	return cmd
}

func rulesetsActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <id>",
		Short: "Activate a draft rule set",
		Long: `Atomically swap the active rule set: the current active set is superseded
and the target becomes active. Superseded sets are kept for rollback.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			manager, cleanup, err := initManager(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := manager.Activate(cmd.Context(), id); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Rule set %d is now active", id)))
			return nil
		},
	}
}

func rulesetsShadowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shadow <candidate-id>",
		Short: "Shadow-compare a candidate rule set against the active one",
		Long: `Evaluate both the active and the candidate rule set over the full
transaction population without committing anything, and report exactly which
transactions would change and how.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			manager, cleanup, err := initManager(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := manager.ShadowCompare(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatTitle(fmt.Sprintf("Shadow compare: set %d vs active set %d",
				report.CandidateSetID, report.ActiveSetID)))
			fmt.Printf("Population: %d transactions, %d with differing outcomes\n\n",
				report.Population, len(report.Diffs))

			if len(report.FieldCounts) > 0 {
				fmt.Println(cli.StyleInfo("Changes by field:"))
				for field, count := range report.FieldCounts {
					fmt.Printf("  %s: %d\n", field, count)
				}
				fmt.Println()
			}

			limit, _ := cmd.Flags().GetInt("limit")
			shown := 0
			for _, diff := range report.Diffs {
				if shown >= limit {
					fmt.Printf("... and %d more\n", len(report.Diffs)-shown)
					break
				}
				fmt.Printf("%s (%s)\n", diff.TxnID, truncateString(diff.Description, 50))
				for _, change := range diff.Changes {
					fmt.Printf("  %s: %s → %s\n", change.Field, change.From, change.To)
				}
				shown++
			}

			if len(report.RulesOnlyActive) > 0 {
				fmt.Printf("\nRules effective only in the active set: %s\n", joinIDs(report.RulesOnlyActive))
			}
			if len(report.RulesOnlyCandidate) > 0 {
				fmt.Printf("Rules effective only in the candidate set: %s\n", joinIDs(report.RulesOnlyCandidate))
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 20, "Maximum per-transaction diffs to display")
	return cmd
}

func rulesetsExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract-protected <set-id>",
		Short: "Promote stable generated rules to the protected tier",
		Long: `Promote generated rules with high use counts and few human overrides into
protected_core, so bulk cleanup and regeneration leave them alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			manager, cleanup, err := initManager(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			minUse, _ := cmd.Flags().GetInt("min-use")
			maxOverride, _ := cmd.Flags().GetInt("max-override")

			promoted, err := manager.ExtractProtected(cmd.Context(), id, ruleset.ExtractProtectedParams{
				MinUseCount:      minUse,
				MaxOverrideCount: maxOverride,
			})
			if err != nil {
				return err
			}

			if len(promoted) == 0 {
				slog.Info("No rules met the protection thresholds")
				return nil
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Promoted %d rules to protected_core: %s", len(promoted), joinIDs(promoted))))
			return nil
		},
	}

	cmd.Flags().Int("min-use", ruleset.DefaultExtractParams.MinUseCount, "Minimum use count")
	cmd.Flags().Int("max-override", ruleset.DefaultExtractParams.MaxOverrideCount, "Maximum override count")
	return cmd
}

func rulesetsCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup <set-id>",
		Short: "Identify and remove dead or shadowed rules",
		Long: `Preview dead rules (matching nothing) and shadowed rules (always
intercepted by a higher-ranked rule), then optionally remove them. Apply
always operates on a preview from the same invocation; protected tiers are
never removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			manager, cleanup, err := initManager(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := manager.CleanupPreview(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatTitle(fmt.Sprintf("Cleanup preview for rule set %d", id)))
			fmt.Printf("Population: %d transactions\n\n", report.Population)

			if len(report.Candidates) == 0 {
				fmt.Println(cli.StyleInfo("No dead or shadowed rules found"))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tREASON\tDETAIL\tPROTECTED")
			for _, candidate := range report.Candidates {
				protected := ""
				if candidate.Protected {
					protected = "yes (kept)"
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					candidate.RuleID, truncateString(candidate.Name, 30),
					candidate.Reason, candidate.Detail, protected)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if len(report.Universal) > 0 {
				fmt.Println(cli.FormatWarning(fmt.Sprintf(
					"Rules with no conditions match everything and are never auto-removed: %s",
					joinIDs(report.Universal))))
			}

			apply, _ := cmd.Flags().GetBool("apply")
			if !apply {
				fmt.Println(cli.StyleSubtle("Re-run with --apply to remove these rules"))
				return nil
			}

			force, _ := cmd.Flags().GetBool("force")
			if !force {
				ok, err := cli.NewPrompter(nil, nil).Confirm(cmd.Context(), "Remove these rules?")
				if err != nil {
					return err
				}
				if !ok {
					slog.Info("Cleanup canceled")
					return nil
				}
			}

			result, err := manager.CleanupApply(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Removed %d rules, skipped %d protected", len(result.Removed), len(result.Skipped))))
			return nil
		},
	}

	cmd.Flags().Bool("apply", false, "Remove the previewed rules")
	cmd.Flags().BoolP("force", "f", false, "Skip confirmation prompt")
	return cmd
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
