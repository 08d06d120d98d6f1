package http

import (
	"net/http"

	"budgetbuddy/internal/core"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/services"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := s.newPage(r, "Dashboard")

	if err := s.retry(r, services.CategoriesKey(), services.TransactionsKey(core.TransactionFilter{})); err != nil {
		s.loadFailed(w, r, "dashboard.html", p, err)
		return
	}

	d, err := s.budget.Dashboard(ctx)
	if err != nil {
		s.loadFailed(w, r, "dashboard.html", p, err)
		return
	}
	p.Data = d
	log.FromContext(ctx).DebugContext(ctx, "Dashboard rendered",
		log.FieldCount, len(d.Transactions))
	s.render(w, r, http.StatusOK, "dashboard.html", p)
}
