package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ledgermint/ledgermint/internal/cli"
	"github.com/ledgermint/ledgermint/internal/model"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"rule"},
		Short:   "Manage classification rules",
		Long: `Manage classification rules: conditions on description, merchant, amount,
sign, account and date, paired with category, tag, merchant, income and
exclusion actions.`,
	}

	// Subcommands
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesShowCmd())
	cmd.AddCommand(rulesCreateCmd())
	cmd.AddCommand(rulesDeleteCmd())
	cmd.AddCommand(rulesPreviewCmd())

	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules in a rule set",
		Long:  `List all rules of a rule set in evaluation order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			engine, store, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			setID, _ := cmd.Flags().GetInt64("set")
			var set *model.RuleSet
			if setID > 0 {
				set, err = store.GetRuleSet(ctx, setID)
			} else {
				set, err = store.GetActiveRuleSet(ctx)
			}
			if err != nil {
				return err
			}

			ordered, err := engine.OrderedRules(ctx, set)
			if err != nil {
				return err
			}
			if len(ordered) == 0 {
				slog.Info("No rules found", "set", set.Name)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tTIER\tPRIORITY\tSPEC\tSOURCE\tSTOP\tUSE COUNT")
			_, _ = fmt.Fprintln(w, "──\t────\t────\t────────\t────\t──────\t────\t─────────")

			for i := range ordered {
				r := &ordered[i].Rule
				stop := ""
				if r.StopProcessing {
					stop = "yes"
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%d\n",
					r.ID,
					truncateString(r.Name, 30),
					r.Tier,
					r.Priority,
					r.Specificity(),
					r.Source,
					stop,
					r.UseCount)
			}

			return w.Flush()
		},
	}

	cmd.Flags().Int64P("set", "s", 0, "Rule set ID (default: active set)")
	return cmd
}

func rulesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show rule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rule, err := store.GetRule(ctx, id)
			if err != nil {
				return err
			}

			slog.Info("Rule Details:")
			slog.Info("  ID", "id", rule.ID)
			slog.Info("  Name", "name", rule.Name)
			slog.Info("  Rule Set", "set", rule.RuleSetID)
			slog.Info("  Tier", "tier", rule.Tier)
			slog.Info("  Priority", "priority", rule.Priority)
			slog.Info("  Specificity", "score", rule.Specificity())
			slog.Info("  Source", "source", rule.Source)
			slog.Info("  Enabled", "enabled", rule.Enabled)
			slog.Info("  Stop Processing", "stop", rule.StopProcessing)

			if c := rule.Conditions.Description; c != nil {
				slog.Info("  Description Condition", "operator", c.Operator, "value", c.Value, "semantics", c.Semantics)
			}
			if c := rule.Conditions.Merchant; c != nil {
				slog.Info("  Merchant Condition", "operator", c.Operator, "value", c.Value, "semantics", c.Semantics)
			}
			if a := rule.Conditions.Amount; a != nil {
				slog.Info("  Amount Condition", "condition", formatAmountCondition(a))
			}
			if rule.Conditions.Sign != "" && rule.Conditions.Sign != model.SignAny {
				slog.Info("  Sign Condition", "sign", rule.Conditions.Sign)
			}
			if len(rule.Conditions.AccountIDs) > 0 {
				slog.Info("  Account Condition", "accounts", strings.Join(rule.Conditions.AccountIDs, ","))
			}

			if act := rule.Actions.Category; act != nil {
				if act.CategoryID != nil {
					slog.Info("  Category Action", "category_id", *act.CategoryID)
				} else {
					slog.Info("  Category Action", "category_id", "clear")
				}
			}
			if act := rule.Actions.Tags; act != nil {
				slog.Info("  Tag Action", "mode", act.Mode, "values", strings.Join(act.Values, ","))
			}
			if act := rule.Actions.Merchant; act != nil && act.Name != nil {
				slog.Info("  Merchant Action", "name", *act.Name)
			}
			if rule.Actions.Income != nil {
				slog.Info("  Income Action", "income", *rule.Actions.Income)
			}
			if rule.Actions.Exclude != nil {
				slog.Info("  Exclude Action", "exclude", *rule.Actions.Exclude)
			}

			slog.Info("  Use Count", "count", rule.UseCount)
			slog.Info("  Override Count", "count", rule.OverrideCount)
			slog.Info("  Created", "date", rule.CreatedAt.Format("2006-01-02 15:04:05"))

			return nil
		},
	}
}

func rulesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule",
		Long:  `Create a new classification rule in a draft or active rule set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rule, err := ruleFromFlags(cmd)
			if err != nil {
				return err
			}

			if rule.RuleSetID == 0 {
				set, err := store.GetActiveRuleSet(ctx)
				if err != nil {
					return err
				}
				rule.RuleSetID = set.ID
			}

			if err := store.CreateRule(ctx, rule); err != nil {
				return fmt.Errorf("failed to create rule: %w", err)
			}

			slog.Info("✓ Rule created successfully",
				"id", rule.ID,
				"name", rule.Name,
				"tier", rule.Tier)
			return nil
		},
	}

	addRuleFlags(cmd)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		slog.Error("failed to mark flag as required", "error", err)
	}
	return cmd
}

func rulesDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			force, _ := cmd.Flags().GetBool("force")
			if !force {
				ok, err := cli.NewPrompter(nil, nil).Confirm(ctx,
					fmt.Sprintf("About to delete %d rules. Continue?", len(ids)))
				if err != nil {
					return err
				}
				if !ok {
					slog.Info("Deletion canceled")
					return nil
				}
			}

			if err := store.DeleteRules(ctx, ids); err != nil {
				return fmt.Errorf("failed to delete rules: %w", err)
			}

			slog.Info("Rules deleted successfully", "count", len(ids))
			return nil
		},
	}

	cmd.Flags().BoolP("force", "f", false, "Skip confirmation prompt")
	return cmd
}

func rulesPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview a candidate rule against stored transactions",
		Long: `Run a candidate rule's conditions over the transaction population without
applying any actions, and show the match count plus sample matches.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			engine, _, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rule, err := ruleFromFlags(cmd)
			if err != nil {
				return err
			}
			samples, _ := cmd.Flags().GetInt("samples")

			result, err := engine.Preview(ctx, rule, samples)
			if err != nil {
				return err
			}

			slog.Info("Preview complete",
				"matched", result.MatchCount,
				"scanned", result.Scanned)

			if len(result.Samples) == 0 {
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "DATE\tDESCRIPTION\tMERCHANT\tAMOUNT")
			for _, txn := range result.Samples {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n",
					txn.Date.Format("2006-01-02"),
					truncateString(txn.Description, 40),
					truncateString(txn.MerchantName, 25),
					txn.Amount)
			}
			return w.Flush()
		},
	}

	addRuleFlags(cmd)
	cmd.Flags().Int("samples", 10, "Maximum sample matches to display")
	return cmd
}

// addRuleFlags registers the shared condition and action flags used by create
// and preview.
func addRuleFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("name", "n", "", "Name for the rule")
	cmd.Flags().Int64P("set", "s", 0, "Rule set ID (default: active set)")

	// Conditions
	cmd.Flags().String("description", "", "Description condition value")
	cmd.Flags().String("description-op", "contains", "Description operator (contains, equals, starts_with, regex)")
	cmd.Flags().String("merchant", "", "Merchant condition value")
	cmd.Flags().String("merchant-op", "equals", "Merchant operator (contains, equals, starts_with, regex)")
	cmd.Flags().Bool("case-sensitive", false, "Case-sensitive text matching")
	cmd.Flags().Bool("normalized", false, "Match against normalized (folded) text")
	cmd.Flags().Float64("amount", 0, "Exact amount condition")
	cmd.Flags().Float64("amount-min", 0, "Minimum amount for range condition")
	cmd.Flags().Float64("amount-max", 0, "Maximum amount for range condition")
	cmd.Flags().String("sign", "", "Sign condition (income, expense)")
	cmd.Flags().StringSlice("accounts", nil, "Account ID allow-list")

	// Actions
	cmd.Flags().Int64("category", 0, "Category ID to assign")
	cmd.Flags().StringSlice("tags", nil, "Tag values")
	cmd.Flags().String("tag-mode", "append", "Tag mode (append, replace, remove)")
	cmd.Flags().String("set-merchant", "", "Merchant name to set")
	cmd.Flags().String("income", "", "Income override (true, false)")
	cmd.Flags().String("exclude", "", "Exclude from totals (true, false)")

	// Behavior
	cmd.Flags().IntP("priority", "p", 0, "Priority (higher evaluates first within a tier)")
	cmd.Flags().String("tier", string(model.TierGeneratedCurated), "Tier (manual_fix, protected_core, generated_curated)")
	cmd.Flags().Bool("stop", false, "Stop processing after this rule matches")
}

// ruleFromFlags assembles a rule from the shared flag set.
func ruleFromFlags(cmd *cobra.Command) (*model.Rule, error) {
	name, _ := cmd.Flags().GetString("name")
	setID, _ := cmd.Flags().GetInt64("set")
	priority, _ := cmd.Flags().GetInt("priority")
	tier, _ := cmd.Flags().GetString("tier")
	stop, _ := cmd.Flags().GetBool("stop")

	rule := &model.Rule{
		Name:           name,
		RuleSetID:      setID,
		Priority:       priority,
		Tier:           model.RuleTier(tier),
		Source:         model.SourceManual,
		Enabled:        true,
		StopProcessing: stop,
	}

	semantics := model.SemanticsLiteral
	if normalized, _ := cmd.Flags().GetBool("normalized"); normalized {
		semantics = model.SemanticsNormalized
	}
	caseSensitive, _ := cmd.Flags().GetBool("case-sensitive")

	if value, _ := cmd.Flags().GetString("description"); value != "" {
		op, _ := cmd.Flags().GetString("description-op")
		rule.Conditions.Description = &model.TextCondition{
			Operator:      model.TextOperator(op),
			Value:         value,
			Semantics:     semantics,
			CaseSensitive: caseSensitive,
		}
	}
	if value, _ := cmd.Flags().GetString("merchant"); value != "" {
		op, _ := cmd.Flags().GetString("merchant-op")
		rule.Conditions.Merchant = &model.TextCondition{
			Operator:      model.TextOperator(op),
			Value:         value,
			Semantics:     semantics,
			CaseSensitive: caseSensitive,
		}
	}

	amount, _ := cmd.Flags().GetFloat64("amount")
	amountMin, _ := cmd.Flags().GetFloat64("amount-min")
	amountMax, _ := cmd.Flags().GetFloat64("amount-max")
	switch {
	case cmd.Flags().Changed("amount"):
		rule.Conditions.Amount = &model.AmountCondition{Exact: &amount}
	case cmd.Flags().Changed("amount-min") || cmd.Flags().Changed("amount-max"):
		cond := &model.AmountCondition{}
		if cmd.Flags().Changed("amount-min") {
			cond.Min = &amountMin
		}
		if cmd.Flags().Changed("amount-max") {
			cond.Max = &amountMax
		}
		rule.Conditions.Amount = cond
	}

	if sign, _ := cmd.Flags().GetString("sign"); sign != "" {
		rule.Conditions.Sign = model.SignCondition(sign)
	}
	if accounts, _ := cmd.Flags().GetStringSlice("accounts"); len(accounts) > 0 {
		rule.Conditions.AccountIDs = accounts
	}

	if cmd.Flags().Changed("category") {
		categoryID, _ := cmd.Flags().GetInt64("category")
		rule.Actions.Category = &model.CategoryAction{CategoryID: &categoryID}
	}
	if tags, _ := cmd.Flags().GetStringSlice("tags"); len(tags) > 0 {
		mode, _ := cmd.Flags().GetString("tag-mode")
		rule.Actions.Tags = &model.TagAction{Mode: model.TagMode(mode), Values: tags}
	}
	if merchant, _ := cmd.Flags().GetString("set-merchant"); merchant != "" {
		rule.Actions.Merchant = &model.MerchantAction{Name: &merchant}
	}
	if err := boolFlag(cmd, "income", &rule.Actions.Income); err != nil {
		return nil, err
	}
	if err := boolFlag(cmd, "exclude", &rule.Actions.Exclude); err != nil {
		return nil, err
	}

	return rule, nil
}

func boolFlag(cmd *cobra.Command, name string, target **bool) error {
	value, _ := cmd.Flags().GetString(name)
	switch value {
	case "":
		return nil
	case "true":
		v := true
		*target = &v
	case "false":
		v := false
		*target = &v
	default:
		return fmt.Errorf("invalid %s value: %s (valid: true, false)", name, value)
	}
	return nil
}

func formatAmountCondition(a *model.AmountCondition) string {
	switch {
	case a.Exact != nil:
		return fmt.Sprintf("= %.2f", *a.Exact)
	case a.Min != nil && a.Max != nil:
		return fmt.Sprintf("%.2f - %.2f", *a.Min, *a.Max)
	case a.Min != nil:
		return fmt.Sprintf("≥ %.2f", *a.Min)
	case a.Max != nil:
		return fmt.Sprintf("≤ %.2f", *a.Max)
	}
	return "any"
}
