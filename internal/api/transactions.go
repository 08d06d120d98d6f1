package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"budgetbuddy/internal/core"
)

func (c *Client) CreateTransaction(ctx context.Context, in core.TransactionInput) (core.Transaction, error) {
	var out core.Transaction
	if err := c.do(ctx, http.MethodPost, "/transactions/create", nil, true, in, &out); err != nil {
		return core.Transaction{}, err
	}
	if out.ID.IsZero() {
		return core.Transaction{}, fmt.Errorf("%w: created transaction without id", core.ErrMalformedPayload)
	}
	return out, nil
}

// ListTransactions returns the transactions matching filter; a zero filter
// lists everything.
func (c *Client) ListTransactions(ctx context.Context, filter core.TransactionFilter) ([]core.Transaction, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/transactions/lists", filter.Values(), true, nil, &raw); err != nil {
		return nil, err
	}
	txs, err := decodeList[core.Transaction](raw)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if tx.ID.IsZero() {
			return nil, fmt.Errorf("%w: transaction without id", core.ErrMalformedPayload)
		}
	}
	return txs, nil
}

func (c *Client) GetTransaction(ctx context.Context, id core.ID) (core.Transaction, error) {
	path, err := idPath("/transactions/", id)
	if err != nil {
		return core.Transaction{}, err
	}
	var out core.Transaction
	if err := c.do(ctx, http.MethodGet, path, nil, true, nil, &out); err != nil {
		return core.Transaction{}, err
	}
	if out.ID.IsZero() {
		return core.Transaction{}, fmt.Errorf("%w: transaction without id", core.ErrMalformedPayload)
	}
	return out, nil
}

func (c *Client) UpdateTransaction(ctx context.Context, id core.ID, in core.TransactionInput) (core.Transaction, error) {
	path, err := idPath("/transactions/update/", id)
	if err != nil {
		return core.Transaction{}, err
	}
	var out core.Transaction
	if err := c.do(ctx, http.MethodPut, path, nil, true, in, &out); err != nil {
		return core.Transaction{}, err
	}
	if out.ID.IsZero() {
		out = core.Transaction{
			ID:          id,
			Type:        in.Type,
			CategoryID:  in.CategoryID,
			Date:        in.Date,
			Description: in.Description,
			Amount:      in.Amount,
		}
	}
	return out, nil
}

func (c *Client) DeleteTransaction(ctx context.Context, id core.ID) error {
	path, err := idPath("/transactions/delete/", id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, true, nil, nil)
}
