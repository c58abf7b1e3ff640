package api

import (
	"context"
	"net/http"

	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

func (c *Client) CreatePurchase(ctx context.Context, req commerce.PurchaseRequest) (*commerce.Purchase, error) {
	var out commerce.Purchase
	err := c.do(ctx, call{
		op:          "purchase.create",
		method:      http.MethodPost,
		path:        "/purchases",
		body:        req,
		out:         &out,
		mutating:    true,
		requireData: true,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBatchPurchase is all-or-nothing on the server side.
func (c *Client) CreateBatchPurchase(ctx context.Context, req commerce.BatchPurchaseRequest) ([]commerce.Purchase, error) {
	var out []commerce.Purchase
	err := c.do(ctx, call{
		op:          "purchase.batch",
		method:      http.MethodPost,
		path:        "/purchases/batch",
		body:        req,
		out:         &out,
		mutating:    true,
		requireData: true,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListPurchases(ctx context.Context) ([]commerce.Purchase, error) {
	out := make([]commerce.Purchase, 0)
	if err := c.do(ctx, call{op: "purchase.list", method: http.MethodGet, path: "/purchases", out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}
