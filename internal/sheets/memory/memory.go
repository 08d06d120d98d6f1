package memory

import (
	"context"
	"sync"

	"budgetbuddy/internal/sheets"
)

// Exporter keeps exported rows in memory, header included.
type Exporter struct {
	mu   sync.Mutex
	rows [][]string
}

var _ sheets.TransactionExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{}
}

// Export appends rows, writing the header first when the sheet is empty.
func (e *Exporter) Export(_ context.Context, rows [][]string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rows) == 0 && len(rows) > 0 {
		e.rows = append(e.rows, append([]string(nil), sheets.Header...))
	}
	for _, r := range rows {
		e.rows = append(e.rows, append([]string(nil), r...))
	}
	return len(rows), nil
}

// Rows returns a copy of everything exported so far.
func (e *Exporter) Rows() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.rows))
	for i, r := range e.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
