package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgermint/ledgermint/internal/cli"
	"github.com/ledgermint/ledgermint/internal/learn"
	"github.com/ledgermint/ledgermint/internal/model"
)

func learnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Mine categorization history for rule suggestions",
		Long: `Mine human-categorized transactions for merchant patterns that
consistently map to one category, and manage the resulting suggestion inbox.
Suggestions never become rules without explicit acceptance.`,
	}

	cmd.AddCommand(learnRunCmd())
	cmd.AddCommand(learnListCmd())
	cmd.AddCommand(learnAcceptCmd())
	cmd.AddCommand(learnRejectCmd())
	cmd.AddCommand(learnRevertCmd())

	return cmd
}

func learnRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a mining pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			params := learn.DefaultParams
			if cmd.Flags().Changed("min-samples") {
				params.MinSamples, _ = cmd.Flags().GetInt("min-samples")
			}
			if cmd.Flags().Changed("min-consistency") {
				params.MinConsistency, _ = cmd.Flags().GetFloat64("min-consistency")
			}
			if cmd.Flags().Changed("max-suggestions") {
				params.MaxSuggestions, _ = cmd.Flags().GetInt("max-suggestions")
			}
			if since, _ := cmd.Flags().GetString("since"); since != "" {
				parsed, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid since date: %s", since)
				}
				params.Since = &parsed
			}

			miner := learn.NewMiner(store)
			suggestions, err := miner.Learn(ctx, params)
			if err != nil {
				return err
			}

			if len(suggestions) == 0 {
				slog.Info("No new patterns found")
				return nil
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Mined %d suggestions (run %s)", len(suggestions), suggestions[0].RunID)))
			printSuggestions(suggestions)
			return nil
		},
	}

	cmd.Flags().Int("min-samples", learn.DefaultParams.MinSamples, "Minimum transactions sharing a pattern")
	cmd.Flags().Float64("min-consistency", learn.DefaultParams.MinConsistency, "Minimum dominant-category share")
	cmd.Flags().Int("max-suggestions", learn.DefaultParams.MaxSuggestions, "Maximum suggestions per run")
	cmd.Flags().String("since", "", "Only consider transactions on or after this date (YYYY-MM-DD)")
	return cmd
}

func learnListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending suggestions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			state, _ := cmd.Flags().GetString("state")
			suggestions, err := store.GetSuggestions(ctx, model.SuggestionState(state))
			if err != nil {
				return err
			}

			if len(suggestions) == 0 {
				slog.Info("No suggestions found", "state", state)
				return nil
			}
			printSuggestions(suggestions)
			return nil
		},
	}

	cmd.Flags().String("state", string(model.SuggestionPending), "Filter by state (pending, accepted, rejected)")
	return cmd
}

func learnAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <id>...",
		Short: "Accept suggestions as learned rules",
		Long: `Materialize the selected pending suggestions as learned-tier rules in the
active rule set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			created, err := learn.NewMiner(store).Apply(cmd.Context(), ids)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created %d rules", len(created))))
			for _, rule := range created {
				slog.Info("rule created", "id", rule.ID, "name", rule.Name)
			}
			return nil
		},
	}
}

func learnRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <id>...",
		Short: "Reject suggestions",
		Long:  `Discard pending suggestions. Only the audit log records they existed.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := learn.NewMiner(store).Reject(cmd.Context(), ids); err != nil {
				return err
			}

			slog.Info("Suggestions rejected", "count", len(ids))
			return nil
		},
	}
}

func learnRevertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revert <run-id>",
		Short: "Revert every rule a learn run created",
		Long: `Remove all rules materialized from a learn run, identified by its run id.
Rules promoted to a protected tier since acceptance are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			removed, err := learn.NewMiner(store).Revert(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Reverted %d rules from run %s", len(removed), args[0])))
			return nil
		},
	}
}

func printSuggestions(suggestions []model.LearnedSuggestion) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPATTERN\tCATEGORY\tCONFIDENCE\tSAMPLES\tCONSISTENCY\tORIGIN")
	_, _ = fmt.Fprintln(w, "──\t───────\t────────\t──────────\t───────\t───────────\t──────")

	for _, s := range suggestions {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%.0f%%\t%d\t%.0f%%\t%s\n",
			s.ID,
			truncateString(s.MerchantPattern, 35),
			s.CategoryID,
			s.Confidence*100,
			s.SampleCount,
			s.ConsistencyRatio*100,
			s.Origin)
	}
	_ = w.Flush()
}
