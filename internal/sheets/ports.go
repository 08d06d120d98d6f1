// Package sheets exports transactions to a spreadsheet.
package sheets

import (
	"context"

	"budgetbuddy/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionExporter appends rows after the existing content and
	// returns the number of data rows written.
	TransactionExporter interface {
		Export(ctx context.Context, rows [][]string) (int, error)
	}
)

// Header is the first row of an exported sheet.
var Header = []string{"Date", "Type", "Category", "Description", "Amount"}

// Rows renders transactions as sheet rows. Category names are resolved
// through categories when a transaction only carries the id.
func Rows(txs []core.Transaction, categories []core.Category) [][]string {
	names := make(map[core.ID]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	rows := make([][]string, 0, len(txs))
	for _, t := range txs {
		category := t.Category
		if category == "" {
			category = names[t.CategoryID]
		}
		rows = append(rows, []string{
			t.Date.String(),
			string(t.Type),
			category,
			t.Description,
			t.Amount.Decimal(),
		})
	}
	return rows
}
