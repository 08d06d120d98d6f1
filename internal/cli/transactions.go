package cli

import (
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"budgetbuddy/internal/cli/output"
	"budgetbuddy/internal/core"
)

// filterFlags are the list filters shared by list and export.
type filterFlags struct {
	start, end, typ, category string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "last date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.typ, "type", "", "income or expense")
	cmd.Flags().StringVar(&f.category, "category", "", "category id")
}

func (f *filterFlags) filter() (core.TransactionFilter, error) {
	return core.ParseFilter(url.Values{
		"startDate":  {f.start},
		"endDate":    {f.end},
		"type":       {f.typ},
		"categoryId": {f.category},
	})
}

// transactionFlags are the fields of add and update.
type transactionFlags struct {
	typ, amount, category, date, description string
}

func (f *transactionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.typ, "type", "", "income or expense")
	cmd.Flags().StringVar(&f.amount, "amount", "", "positive amount, e.g. 12.50")
	cmd.Flags().StringVar(&f.category, "category", "", "category id")
	cmd.Flags().StringVar(&f.date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.description, "description", "", "optional note")
}

func (f *transactionFlags) input() (core.TransactionInput, error) {
	return core.ParseTransactionInput(f.typ, f.amount, f.category, f.date, f.description)
}

func (r *runner) transactionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"transaction", "tx"},
		Short:   "Manage income and expense transactions",
	}
	cmd.AddCommand(
		r.listTransactionsCommand(),
		r.getTransactionCommand(),
		r.addTransactionCommand(),
		r.updateTransactionCommand(),
		r.deleteTransactionCommand(),
	)
	return cmd
}

func (r *runner) listTransactionsCommand() *cobra.Command {
	var flags filterFlags
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List transactions, optionally filtered",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cats, err := r.app.Budget.ListCategories(ctx)
			if err != nil {
				return err
			}
			txs, err := r.app.Budget.ListTransactions(ctx, filter)
			if err != nil {
				return err
			}
			if len(txs) == 0 {
				r.printer.Info("No transactions found.")
				return nil
			}
			return r.transactionTable(txs, cats)
		},
	}
	flags.register(cmd)
	return protected(cmd, "/transactions")
}

func (r *runner) getTransactionCommand() *cobra.Command {
	return protected(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tx, err := r.app.Budget.GetTransaction(ctx, core.ID(args[0]))
			if err != nil {
				return err
			}
			// names are a nicety, a failed category list does not fail the command
			cats, _ := r.app.Budget.ListCategories(ctx)
			return r.transactionTable([]core.Transaction{tx}, cats)
		},
	}, "/update-transaction/:id")
}

func (r *runner) addTransactionCommand() *cobra.Command {
	var flags transactionFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.date == "" {
				flags.date = core.Date{Time: time.Now()}.String()
			}
			in, err := flags.input()
			if err != nil {
				return err
			}
			tx, err := r.app.Budget.CreateTransaction(cmd.Context(), in)
			if err != nil {
				return err
			}
			r.printer.Success("Transaction saved (id %s).", tx.ID)
			return nil
		},
	}
	flags.register(cmd)
	return protected(cmd, "/add-transaction")
}

func (r *runner) updateTransactionCommand() *cobra.Command {
	var flags transactionFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a transaction; omitted fields keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := core.ID(args[0])
			current, err := r.app.Budget.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			changed := cmd.Flags().Changed
			if !changed("type") {
				flags.typ = string(current.Type)
			}
			if !changed("amount") {
				flags.amount = current.Amount.Decimal()
			}
			if !changed("category") {
				flags.category = current.CategoryID.String()
			}
			if !changed("date") {
				flags.date = current.Date.String()
			}
			if !changed("description") {
				flags.description = current.Description
			}

			in, err := flags.input()
			if err != nil {
				return err
			}
			if _, err := r.app.Budget.UpdateTransaction(ctx, id, in); err != nil {
				return err
			}
			r.printer.Success("Transaction saved.")
			return nil
		},
	}
	flags.register(cmd)
	return protected(cmd, "/update-transaction/:id")
}

func (r *runner) deleteTransactionCommand() *cobra.Command {
	return protected(&cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a transaction",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.app.Budget.DeleteTransaction(cmd.Context(), core.ID(args[0])); err != nil {
				return err
			}
			r.printer.Success("Transaction deleted.")
			return nil
		},
	}, "/transactions")
}

func (r *runner) transactionTable(txs []core.Transaction, cats []core.Category) error {
	names := make(map[core.ID]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}
	t := output.NewTable(r.printer.Out(), "ID", "Date", "Type", "Category", "Amount", "Description")
	for _, tx := range txs {
		name := tx.Category
		if name == "" {
			name = names[tx.CategoryID]
		}
		if name == "" {
			name = "Uncategorized"
		}
		t.AddRow(tx.ID.String(), tx.Date.String(), string(tx.Type), name,
			r.printer.Money(tx.Amount.Cents, tx.Type), tx.Description)
	}
	return t.Render()
}
