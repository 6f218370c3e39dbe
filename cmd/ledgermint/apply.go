package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ledgermint/ledgermint/internal/cli"
	"github.com/ledgermint/ledgermint/internal/rules"
	"github.com/ledgermint/ledgermint/internal/service"
)

func applyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the active rule set to stored transactions",
		Long: `Evaluate the active rule set over transactions matching the filter and
commit the resulting changes. Re-running over the same transactions produces
no additional changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			engine, _, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			filter, err := filterFromFlags(cmd)
			if err != nil {
				return err
			}

			policy := rules.PolicyRespectManual
			if overwrite, _ := cmd.Flags().GetBool("overwrite-manual"); overwrite {
				policy = rules.PolicyOverwriteAll
			}

			var bar *progressbar.ProgressBar
			opts := rules.BatchOptions{
				Policy: policy,
				Progress: func(done, total int) {
					if bar == nil {
						bar = newApplyBar(total)
					}
					_ = bar.Set(done)
				},
			}

			result, err := engine.ApplyBatch(ctx, filter, opts)
			if err != nil {
				return fmt.Errorf("batch apply failed: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Applied rules to %d transactions: %d matched, %d updated, %d errored",
				result.Total, result.Matched, result.Updated, result.Errored)))
			if result.Errored > 0 {
				slog.Warn("some transactions failed to update", "count", result.Errored)
			}
			return nil
		},
	}

	cmd.Flags().String("from", "", "Only transactions on or after this date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Only transactions on or before this date (YYYY-MM-DD)")
	cmd.Flags().StringSlice("accounts", nil, "Only transactions in these accounts")
	cmd.Flags().Bool("uncategorized", false, "Only transactions without a category")
	cmd.Flags().Bool("overwrite-manual", false, "Overwrite human-assigned categories")
	return cmd
}

func newApplyBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Applying rules...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(os.Stderr); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

// filterFromFlags builds the shared transaction filter used by apply and
// learn.
func filterFromFlags(cmd *cobra.Command) (service.TransactionFilter, error) {
	var filter service.TransactionFilter

	if from, _ := cmd.Flags().GetString("from"); from != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			return filter, fmt.Errorf("invalid from date: %s", from)
		}
		filter.StartDate = &parsed
	}
	if to, _ := cmd.Flags().GetString("to"); to != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			return filter, fmt.Errorf("invalid to date: %s", to)
		}
		filter.EndDate = &parsed
	}
	if accounts, _ := cmd.Flags().GetStringSlice("accounts"); len(accounts) > 0 {
		filter.AccountIDs = accounts
	}
	if uncategorized, _ := cmd.Flags().GetBool("uncategorized"); uncategorized {
		filter.Uncategorized = true
	}

	return filter, nil
}
