package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

type projectRef struct {
	ProjectID int64 `json:"project_id"`
}

func (c *Client) GetCart(ctx context.Context) (*commerce.Cart, error) {
	var out commerce.Cart
	if err := c.do(ctx, call{op: "cart.get", method: http.MethodGet, path: "/cart", out: &out}); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = make([]commerce.CartItem, 0)
	}
	return &out, nil
}

func (c *Client) AddToCart(ctx context.Context, projectID int64) error {
	return c.do(ctx, call{
		op:       "cart.add",
		method:   http.MethodPost,
		path:     "/cart",
		body:     projectRef{ProjectID: projectID},
		mutating: true,
	})
}

func (c *Client) RemoveFromCart(ctx context.Context, projectID int64) error {
	return c.do(ctx, call{
		op:       "cart.remove",
		method:   http.MethodDelete,
		path:     fmt.Sprintf("/cart/%d", projectID),
		mutating: true,
	})
}

func (c *Client) ClearCart(ctx context.Context) error {
	return c.do(ctx, call{op: "cart.clear", method: http.MethodDelete, path: "/cart", mutating: true})
}
