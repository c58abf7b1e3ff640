package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

func (c *Client) ListNotifications(ctx context.Context) ([]commerce.Notification, error) {
	out := make([]commerce.Notification, 0)
	if err := c.do(ctx, call{op: "notifications.list", method: http.MethodGet, path: "/notifications", out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

// UnreadCount accepts either {"count": n} or a bare number as data.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var raw json.RawMessage
	if err := c.do(ctx, call{op: "notifications.unread_count", method: http.MethodGet, path: "/notifications/unread-count", out: &raw}); err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var wrapped struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return 0, &commerce.Error{Kind: commerce.KindServer, Op: "notifications.unread_count", Message: "malformed unread count", Err: err}
	}
	return wrapped.Count, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.do(ctx, call{
		op:       "notifications.mark_read",
		method:   http.MethodPatch,
		path:     fmt.Sprintf("/notifications/%d/read", id),
		mutating: true,
	})
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, call{
		op:       "notifications.mark_all_read",
		method:   http.MethodPatch,
		path:     "/notifications/read-all",
		mutating: true,
	})
}
