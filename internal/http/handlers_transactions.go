package http

import (
	"net/http"
	"time"

	"budgetbuddy/internal/cache"
	"budgetbuddy/internal/core"
	"budgetbuddy/internal/services"
)

// transactionsView is the data of the transactions page.
type transactionsView struct {
	Categories   []core.Category
	Transactions []core.Transaction
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	p := s.newPage(r, "Transactions")
	p.Form = queryValues(q, filterFields...)

	filter, ferr := parseFilter(q)
	keys := []cache.Key{services.CategoriesKey()}
	if ferr == nil {
		keys = append(keys, services.TransactionsKey(filter))
	}
	if err := s.retry(r, keys...); err != nil {
		s.loadFailed(w, r, "transactions.html", p, err)
		return
	}

	cats, err := s.budget.ListCategories(ctx)
	if err != nil {
		s.loadFailed(w, r, "transactions.html", p, err)
		return
	}
	view := transactionsView{Categories: cats}
	p.Data = view
	if ferr != nil {
		s.formFailed(w, r, "transactions.html", p, ferr)
		return
	}

	txs, err := s.budget.ListTransactions(ctx, filter)
	if err != nil {
		s.loadFailed(w, r, "transactions.html", p, err)
		return
	}
	view.Transactions = txs
	p.Data = view
	s.render(w, r, http.StatusOK, "transactions.html", p)
}

// transactionFormPage prepares the add/update form with the category list.
// A load failure is shown above the form, which stays usable.
func (s *Server) transactionFormPage(r *http.Request, title string) *page {
	p := s.newPage(r, title)
	cats, err := s.loadFormCategories(r)
	if err != nil {
		p.LoadError = "Categories could not be loaded: " + userMessage(err)
		p.Retryable = true
	}
	p.Data = cats
	return p
}

func (s *Server) loadFormCategories(r *http.Request) ([]core.Category, error) {
	if err := s.retry(r, services.CategoriesKey()); err != nil {
		return nil, err
	}
	return s.budget.ListCategories(r.Context())
}

func (s *Server) handleAddTransactionPage(w http.ResponseWriter, r *http.Request) {
	p := s.transactionFormPage(r, "Add Transaction")
	p.Form["date"] = core.Date{Time: time.Now()}.String()
	s.render(w, r, http.StatusOK, "transaction_form.html", p)
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(w, r)
	if err != nil {
		BadRequestError("Invalid request format").Write(w, r)
		return
	}
	p := s.transactionFormPage(r, "Add Transaction")
	p.Form = form.Values(transactionFields...)

	in, err := parseTransaction(form)
	if err == nil {
		_, err = s.budget.CreateTransaction(r.Context(), in)
	}
	if err != nil {
		s.formFailed(w, r, "transaction_form.html", p, err)
		return
	}
	redirect(w, r, "/transactions?notice=transaction-saved")
}

func (s *Server) handleUpdateTransactionPage(w http.ResponseWriter, r *http.Request) {
	p := s.transactionFormPage(r, "Update Transaction")
	id := core.ID(r.PathValue("id"))
	if err := s.retry(r, services.TransactionKey(id)); err != nil {
		s.loadFailed(w, r, "error.html", p, err)
		return
	}
	tx, err := s.budget.GetTransaction(r.Context(), id)
	if err != nil {
		s.loadFailed(w, r, "error.html", p, err)
		return
	}
	p.Form = map[string]string{
		"type":        string(tx.Type),
		"amount":      tx.Amount.Decimal(),
		"categoryId":  tx.CategoryID.String(),
		"date":        tx.Date.String(),
		"description": tx.Description,
	}
	s.render(w, r, http.StatusOK, "transaction_form.html", p)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(w, r)
	if err != nil {
		BadRequestError("Invalid request format").Write(w, r)
		return
	}
	p := s.transactionFormPage(r, "Update Transaction")
	p.Form = form.Values(transactionFields...)

	id := core.ID(r.PathValue("id"))
	in, err := parseTransaction(form)
	if err == nil {
		_, err = s.budget.UpdateTransaction(r.Context(), id, in)
	}
	if err != nil {
		s.formFailed(w, r, "transaction_form.html", p, err)
		return
	}
	redirect(w, r, "/transactions?notice=transaction-saved")
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := core.ID(r.PathValue("id"))
	if err := s.budget.DeleteTransaction(r.Context(), id); err != nil {
		p := s.newPage(r, "Transactions")
		p.Path, p.Query = "/transactions", nil
		view := transactionsView{}
		if cats, lerr := s.budget.ListCategories(r.Context()); lerr == nil {
			view.Categories = cats
		}
		if txs, lerr := s.budget.ListTransactions(r.Context(), core.TransactionFilter{}); lerr == nil {
			view.Transactions = txs
		}
		p.Data = view
		s.formFailed(w, r, "transactions.html", p, err)
		return
	}
	redirect(w, r, "/transactions?notice=transaction-deleted")
}
