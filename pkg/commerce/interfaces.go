// --- File: pkg/commerce/interfaces.go ---
package commerce

import (
	"context"
)

// TokenSource supplies the bearer token attached to every Commerce API call.
// ok is false when nobody is signed in.
type TokenSource interface {
	Token() (token string, ok bool)
}

// IdentityProvider is the leaf collaborator the caches are bound to.
type IdentityProvider interface {
	TokenSource

	// CurrentUser returns the signed-in user, if any.
	CurrentUser() (User, bool)

	// OnUserChanged calls fn with the current state, then on every sign-in and
	// sign-out. signedIn is false on sign-out. The returned func removes the listener.
	OnUserChanged(fn func(user User, signedIn bool)) (unsubscribe func())
}

// PurchaseAPI is the subset of the Commerce API used by the purchase orchestrator.
type PurchaseAPI interface {
	CreatePurchase(ctx context.Context, req PurchaseRequest) (*Purchase, error)
	CreateBatchPurchase(ctx context.Context, req BatchPurchaseRequest) ([]Purchase, error)
	ListPurchases(ctx context.Context) ([]Purchase, error)
}

// CartAPI is the subset of the Commerce API used by the cart synchronizer.
type CartAPI interface {
	GetCart(ctx context.Context) (*Cart, error)
	AddToCart(ctx context.Context, projectID int64) error
	RemoveFromCart(ctx context.Context, projectID int64) error
	ClearCart(ctx context.Context) error
}

// FavoritesAPI is the subset of the Commerce API used by the favorites tracker.
type FavoritesAPI interface {
	ListFavorites(ctx context.Context) ([]Favorite, error)
	AddFavorite(ctx context.Context, projectID int64) error
	RemoveFavorite(ctx context.Context, projectID int64) error
}

// NotificationAPI is the subset of the Commerce API used by the notification poller.
type NotificationAPI interface {
	ListNotifications(ctx context.Context) ([]Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
}
