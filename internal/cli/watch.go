package cli

import (
	"context"
	"errors"
	"time"

	"budgetbuddy/internal/cache"
	"budgetbuddy/internal/core"
	"budgetbuddy/internal/services"
)

// dashboardWatcher keeps the dashboard lists observed and redraws when they
// are invalidated, either by the invalidation listener after a write in
// another instance or by the poll interval. Observed entries are never
// garbage collected.
type dashboardWatcher struct {
	budget   *services.BudgetService
	cache    *cache.Cache
	interval time.Duration
	draw     func(services.Dashboard) error
	failed   func(error)

	drawn time.Time
}

func (w *dashboardWatcher) keys() []cache.Key {
	return []cache.Key{services.CategoriesKey(), services.TransactionsKey(core.TransactionFilter{})}
}

// Run draws once and then waits for invalidations until ctx is done. Failed
// loads are reported and retried on the next invalidation; an expired
// session ends the watch.
func (w *dashboardWatcher) Run(ctx context.Context) error {
	keys := w.keys()
	cats, stopCats := w.cache.Subscribe(keys[0])
	defer stopCats()
	txs, stopTxs := w.cache.Subscribe(keys[1])
	defer stopTxs()

	if err := w.redraw(ctx); err != nil {
		return err
	}

	var tick <-chan time.Time
	if w.interval > 0 {
		t := time.NewTicker(w.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		var e cache.Entry
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			w.cache.InvalidateResources(services.ResourceCategories, services.ResourceTransactions)
			continue
		case e = <-cats:
		case e = <-txs:
		}
		if !e.Stale {
			continue
		}
		if err := w.redraw(ctx); err != nil {
			return err
		}
	}
}

func (w *dashboardWatcher) redraw(ctx context.Context) error {
	if w.current() {
		return nil
	}
	d, err := w.budget.Dashboard(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, services.ErrSessionExpired):
		return err
	default:
		w.failed(err)
		return nil
	}
	for _, k := range w.keys() {
		if e, ok := w.cache.Peek(k); ok && e.UpdatedAt.After(w.drawn) {
			w.drawn = e.UpdatedAt
		}
	}
	return w.draw(d)
}

// current reports whether the last drawing already shows the cached lists,
// so queued notifications of one refresh draw once.
func (w *dashboardWatcher) current() bool {
	if w.drawn.IsZero() {
		return false
	}
	for _, k := range w.keys() {
		e, ok := w.cache.Peek(k)
		if !ok || !e.Fresh() || e.UpdatedAt.After(w.drawn) {
			return false
		}
	}
	return true
}
