package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"budgetbuddy/internal/cli/output"
	"budgetbuddy/internal/core"
)

func (r *runner) categoriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "categories",
		Aliases: []string{"category", "cat"},
		Short:   "Manage income and expense categories",
	}
	cmd.AddCommand(
		r.listCategoriesCommand(),
		r.addCategoryCommand(),
		r.updateCategoryCommand(),
		r.deleteCategoryCommand(),
	)
	return cmd
}

func (r *runner) listCategoriesCommand() *cobra.Command {
	return protected(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List categories",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cats, err := r.app.Budget.ListCategories(cmd.Context())
			if err != nil {
				return err
			}
			if len(cats) == 0 {
				r.printer.Info("No categories yet.")
				return nil
			}
			t := output.NewTable(r.printer.Out(), "ID", "Name", "Type")
			for _, c := range cats {
				t.AddRow(c.ID.String(), c.Name, string(c.Type))
			}
			return t.Render()
		},
	}, "/categories")
}

func (r *runner) addCategoryCommand() *cobra.Command {
	var name, typ string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := r.app.Budget.CreateCategory(cmd.Context(), categoryInput(name, typ))
			if err != nil {
				return err
			}
			r.printer.Success("Category %q saved (id %s).", c.Name, c.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "category name")
	cmd.Flags().StringVar(&typ, "type", "", "income or expense")
	return protected(cmd, "/add-category")
}

func (r *runner) updateCategoryCommand() *cobra.Command {
	var name, typ string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename a category or change its type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := core.ID(args[0])
			current, err := r.app.Budget.Category(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("name") {
				name = current.Name
			}
			if !cmd.Flags().Changed("type") {
				typ = string(current.Type)
			}
			c, err := r.app.Budget.UpdateCategory(cmd.Context(), id, categoryInput(name, typ))
			if err != nil {
				return err
			}
			r.printer.Success("Category %q saved.", c.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&typ, "type", "", "new type: income or expense")
	return protected(cmd, "/update-category/:id")
}

func (r *runner) deleteCategoryCommand() *cobra.Command {
	return protected(&cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a category",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.app.Budget.DeleteCategory(cmd.Context(), core.ID(args[0])); err != nil {
				return err
			}
			r.printer.Success("Category deleted.")
			return nil
		},
	}, "/categories")
}

func categoryInput(name, typ string) core.CategoryInput {
	return core.CategoryInput{Name: name, Type: core.TransactionType(strings.ToLower(strings.TrimSpace(typ)))}
}
