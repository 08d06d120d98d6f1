package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"budgetbuddy/internal/core"
)

func (c *Client) CreateCategory(ctx context.Context, in core.CategoryInput) (core.Category, error) {
	var out core.Category
	if err := c.do(ctx, http.MethodPost, "/categories/create", nil, true, in, &out); err != nil {
		return core.Category{}, err
	}
	if out.ID.IsZero() {
		return core.Category{}, fmt.Errorf("%w: created category without id", core.ErrMalformedPayload)
	}
	return out, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]core.Category, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/categories/lists", nil, true, nil, &raw); err != nil {
		return nil, err
	}
	cats, err := decodeList[core.Category](raw)
	if err != nil {
		return nil, err
	}
	for _, cat := range cats {
		if cat.ID.IsZero() {
			return nil, fmt.Errorf("%w: category %q without id", core.ErrMalformedPayload, cat.Name)
		}
	}
	return cats, nil
}

func (c *Client) UpdateCategory(ctx context.Context, id core.ID, in core.CategoryInput) (core.Category, error) {
	path, err := idPath("/categories/update/", id)
	if err != nil {
		return core.Category{}, err
	}
	var out core.Category
	if err := c.do(ctx, http.MethodPut, path, nil, true, in, &out); err != nil {
		return core.Category{}, err
	}
	if out.ID.IsZero() {
		out = core.Category{ID: id, Name: in.Name, Type: in.Type}
	}
	return out, nil
}

func (c *Client) DeleteCategory(ctx context.Context, id core.ID) error {
	path, err := idPath("/categories/delete/", id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, true, nil, nil)
}
