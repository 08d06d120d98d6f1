package core

import "sort"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Type   TransactionType
	Amount Money
}

// Summary is the income/expense split over a list of transactions.
type Summary struct {
	Income     Money
	Expense    Money
	ByCategory []CategoryAmount
}

// Balance is income minus expense, in cents.
func (s Summary) Balance() int64 {
	return s.Income.Cents - s.Expense.Cents
}

// IncomeShare returns the income percentage of the total volume (0-100).
func (s Summary) IncomeShare() int {
	total := s.Income.Cents + s.Expense.Cents
	if total == 0 {
		return 0
	}
	return int((s.Income.Cents*100 + total/2) / total)
}

// Summarize sums transactions by type and by category. Categories are
// resolved through names when the transaction only carries an id; anything
// unresolved lands in "Uncategorized". Rows are sorted by descending amount.
func Summarize(txs []Transaction, categories []Category) Summary {
	names := make(map[ID]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	var s Summary
	type bucket struct {
		name string
		typ  TransactionType
	}
	sums := map[bucket]int64{}
	for _, t := range txs {
		switch t.Type {
		case Income:
			s.Income.Cents += t.Amount.Cents
		case Expense:
			s.Expense.Cents += t.Amount.Cents
		default:
			continue
		}
		name := t.Category
		if name == "" {
			name = names[t.CategoryID]
		}
		if name == "" {
			name = "Uncategorized"
		}
		sums[bucket{name: name, typ: t.Type}] += t.Amount.Cents
	}

	for b, cents := range sums {
		s.ByCategory = append(s.ByCategory, CategoryAmount{Name: b.name, Type: b.typ, Amount: Money{Cents: cents}})
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		a, b := s.ByCategory[i], s.ByCategory[j]
		if a.Amount.Cents != b.Amount.Cents {
			return a.Amount.Cents > b.Amount.Cents
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Type < b.Type
	})
	return s
}
