package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"budgetbuddy/internal/cli/output"
	"budgetbuddy/internal/sheets"
	gsheet "budgetbuddy/internal/sheets/google"
	"budgetbuddy/internal/sheets/memory"
)

func (r *runner) exportCommand() *cobra.Command {
	var (
		flags  filterFlags
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Append transactions to the configured Google Sheet",
		Long: `Append the filtered transactions to the Google Sheet named by
GOOGLE_SPREADSHEET_ID and GOOGLE_SHEET_NAME, authenticating with the service
account in GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON.

With --dry-run the rows are printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			filter, err := flags.filter()
			if err != nil {
				return err
			}

			var exporter sheets.TransactionExporter
			preview := memory.New()
			if dryRun {
				exporter = preview
			} else {
				cfg := r.app.Config
				if err := cfg.ValidateExport(); err != nil {
					return fmt.Errorf("%w: %w", errConfig, err)
				}
				exporter, err = gsheet.New(ctx, gsheet.Config{
					SpreadsheetID:   cfg.GoogleSpreadsheetID,
					SheetName:       cfg.GoogleSheetName,
					CredentialsJSON: cfg.GoogleServiceAccountJSON,
					CredentialsFile: cfg.GoogleServiceAccountFile,
				}, r.app.Logger)
				if err != nil {
					return err
				}
			}

			cats, err := r.app.Budget.ListCategories(ctx)
			if err != nil {
				return err
			}
			txs, err := r.app.Budget.ListTransactions(ctx, filter)
			if err != nil {
				return err
			}

			n, err := exporter.Export(ctx, sheets.Rows(txs, cats))
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			if rows := preview.Rows(); dryRun && len(rows) > 0 {
				t := output.NewTable(r.printer.Out(), rows[0]...)
				for _, row := range rows[1:] {
					t.AddRow(row...)
				}
				if err := t.Render(); err != nil {
					return err
				}
			}
			r.printer.Success("Exported %d transactions.", n)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the rows instead of writing them")
	return protected(cmd, "/transactions")
}
