package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "categories",
		Aliases: []string{"category", "cats"},
		Short:   "Manage transaction categories",
	}

	cmd.AddCommand(categoriesListCmd())
	cmd.AddCommand(categoriesAddCmd())

	return cmd
}

func categoriesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			categories, err := store.GetCategories(ctx)
			if err != nil {
				return err
			}
			if len(categories) == 0 {
				slog.Info("No categories found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tINCOME")
			for _, c := range categories {
				income := ""
				if c.IsIncome {
					income = "yes"
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, c.Name, income)
			}
			return w.Flush()
		},
	}
}

func categoriesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			isIncome, _ := cmd.Flags().GetBool("income")
			category, err := store.CreateCategory(ctx, args[0], isIncome)
			if err != nil {
				return err
			}

			slog.Info("✓ Category created", "id", category.ID, "name", category.Name)
			return nil
		},
	}

	cmd.Flags().Bool("income", false, "Mark as an income category")
	return cmd
}
