package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"budgetbuddy/internal/api"
	"budgetbuddy/internal/cli/output"
	"budgetbuddy/internal/core"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/services"
)

func (r *runner) dashboardCommand() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Income, expense and balance over all transactions",
		Long: `Show income, expense and balance over all transactions.

With --watch the dashboard stays open and is redrawn when the data changes:
on every --interval and, when AMQP_URL is set, as soon as another
budgetbuddy instance writes a category or transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !watch {
				d, err := r.app.Budget.Dashboard(cmd.Context())
				if err != nil {
					return err
				}
				return r.printDashboard(d)
			}
			if interval < 0 {
				return usageError{fmt.Errorf("invalid --interval %v: must not be negative", interval)}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			listener := r.app.Listener()
			if listener != nil {
				go func() {
					if err := listener.Run(ctx); err != nil {
						r.app.Logger.Warn("Invalidation listener stopped", log.FieldError, err)
					}
				}()
			} else if interval == 0 {
				r.printer.Warning("Neither --interval nor AMQP_URL is set, the dashboard will not refresh.")
			}

			w := &dashboardWatcher{
				budget:   r.app.Budget,
				cache:    r.app.Cache,
				interval: interval,
				draw: func(d services.Dashboard) error {
					r.printer.Info("Updated %s", time.Now().Format("15:04:05"))
					return r.printDashboard(d)
				},
				failed: func(err error) {
					r.printer.Error("%s", api.Message(err))
				},
			}
			return w.Run(ctx)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep the dashboard open and redraw it on changes")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "with --watch, reload this often (0 disables polling)")
	return protected(cmd, "/dashboard")
}

func (r *runner) printDashboard(d services.Dashboard) error {
	p := r.printer
	s := d.Summary

	p.Header("Summary")
	t := output.NewTable(p.Out(), "Income", "Expense", "Balance", "Income share")
	t.AddRow(
		p.Money(s.Income.Cents, core.Income),
		p.Money(s.Expense.Cents, core.Expense),
		output.FormatMoney(s.Balance()),
		strconv.Itoa(s.IncomeShare())+"%",
	)
	if err := t.Render(); err != nil {
		return err
	}

	if len(s.ByCategory) == 0 {
		p.Info("No transactions yet.")
		return nil
	}
	p.Header("By category")
	t = output.NewTable(p.Out(), "Category", "Type", "Amount")
	for _, c := range s.ByCategory {
		t.AddRow(c.Name, string(c.Type), p.Money(c.Amount.Cents, c.Type))
	}
	if err := t.Render(); err != nil {
		return err
	}

	p.Header("Recent transactions")
	return r.transactionTable(d.Recent, d.Categories)
}
