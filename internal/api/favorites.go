package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

func (c *Client) ListFavorites(ctx context.Context) ([]commerce.Favorite, error) {
	out := make([]commerce.Favorite, 0)
	if err := c.do(ctx, call{op: "favorites.list", method: http.MethodGet, path: "/favorites", out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddFavorite(ctx context.Context, projectID int64) error {
	return c.do(ctx, call{
		op:       "favorites.add",
		method:   http.MethodPost,
		path:     "/favorites",
		body:     projectRef{ProjectID: projectID},
		mutating: true,
	})
}

func (c *Client) RemoveFavorite(ctx context.Context, projectID int64) error {
	return c.do(ctx, call{
		op:       "favorites.remove",
		method:   http.MethodDelete,
		path:     fmt.Sprintf("/favorites/%d", projectID),
		mutating: true,
	})
}
