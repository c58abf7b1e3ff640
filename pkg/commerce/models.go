// --- File: pkg/commerce/models.go ---
// Package commerce contains the public domain models and interfaces shared by the
// marketplace state components and the Commerce API client.
package commerce

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "PENDING"
	PurchaseStatusCompleted PurchaseStatus = "COMPLETED"
	PurchaseStatusFailed    PurchaseStatus = "FAILED"
	PurchaseStatusRefunded  PurchaseStatus = "REFUNDED"
)

// IsTerminal reports whether no further transition is possible for this attempt.
func (s PurchaseStatus) IsTerminal() bool {
	switch s {
	case PurchaseStatusCompleted, PurchaseStatusFailed, PurchaseStatusRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodYape PaymentMethod = "YAPE"
	PaymentMethodPlin PaymentMethod = "PLIN"
	PaymentMethodCard PaymentMethod = "CARD"
)

// Purchase is one payment attempt for one project. A retry is a new Purchase.
type Purchase struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	ProjectID     int64           `json:"project_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        PurchaseStatus  `json:"status"`
	TransactionID string          `json:"transaction_id"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// PurchaseRequest is the client intent for a single purchase.
type PurchaseRequest struct {
	ProjectID     int64           `json:"project_id"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// BatchItem is one line of a batch purchase. The payment method is shared.
type BatchItem struct {
	ProjectID int64           `json:"project_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

type BatchPurchaseRequest struct {
	Items         []BatchItem   `json:"items"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

// ProjectSnapshot is the server's denormalized view of a listing and its seller.
// It cannot be rebuilt client-side.
type ProjectSnapshot struct {
	Title      string          `json:"title"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	CoverImage string          `json:"cover_image,omitempty"`
	SellerID   int64           `json:"seller_id"`
	SellerName string          `json:"seller_name"`
}

// CartItem is unique per (UserID, ProjectID).
type CartItem struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	ProjectID int64           `json:"project_id"`
	Project   ProjectSnapshot `json:"project"`
	AddedAt   time.Time       `json:"added_at"`
}

// Cart is a single server response: items, count and total always travel together.
type Cart struct {
	Items []CartItem      `json:"items"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// FavoriteEntry is a pure membership relation.
type FavoriteEntry struct {
	UserID    int64 `json:"user_id"`
	ProjectID int64 `json:"project_id"`
}

// Favorite is the detailed list row returned by the favorites listing.
type Favorite struct {
	FavoriteEntry
	Project   ProjectSnapshot `json:"project"`
	CreatedAt time.Time       `json:"created_at"`
}

// Notification is append-only on the server; the client only flips Read.
type Notification struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Read      bool            `json:"read"`
	ReadAt    *time.Time      `json:"read_at,omitempty"`
	ExtraData json.RawMessage `json:"extra_data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// User is the identity the caches are bound to.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}
