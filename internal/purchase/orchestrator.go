// --- File: internal/purchase/orchestrator.go ---
// Package purchase submits purchases, guards against duplicate in-flight attempts
// and mirrors the user's completed purchases.
package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/tinywideclouds/go-marketplace-state/internal/broadcast"
	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

// Snapshot is the full state pushed to subscribers.
type Snapshot struct {
	Purchases []commerce.Purchase `json:"purchases"`
	Pending   []int64             `json:"pending"`
}

// Orchestrator owns the purchase cache and the pending set for one session.
type Orchestrator struct {
	api    commerce.PurchaseAPI
	logger *slog.Logger
	hub    *broadcast.Hub[Snapshot]

	mu        sync.Mutex
	epoch     uint64
	version   uint64
	purchases []commerce.Purchase
	purchased map[int64]struct{}
	pending   map[int64]struct{}
}

func NewOrchestrator(api commerce.PurchaseAPI, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		api:       api,
		logger:    logger.With("component", "PurchaseOrchestrator"),
		hub:       broadcast.NewHub(Snapshot{Purchases: []commerce.Purchase{}, Pending: []int64{}}),
		purchases: []commerce.Purchase{},
		purchased: make(map[int64]struct{}),
		pending:   make(map[int64]struct{}),
	}
}

// Purchase submits a single purchase. A second call for a project that is still
// in flight is rejected without reaching the network.
func (o *Orchestrator) Purchase(ctx context.Context, req commerce.PurchaseRequest) (*commerce.Purchase, error) {
	const op = "purchase.create"
	if err := validateLine(op, req.ProjectID, req.Amount.IsPositive(), req.Currency); err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(req.PaymentMethod)) == "" {
		return nil, commerce.NewError(commerce.KindValidation, op, "", "payment method is required")
	}

	epoch, err := o.markPending(op, req.ProjectID)
	if err != nil {
		return nil, err
	}
	defer o.clearPending(epoch, req.ProjectID)

	p, err := o.api.CreatePurchase(ctx, req)
	if err != nil {
		o.logger.Warn("Purchase failed", "project_id", req.ProjectID, "err", err)
		return nil, err
	}
	if p.Status == commerce.PurchaseStatusFailed {
		o.logger.Warn("Purchase declined", "project_id", req.ProjectID, "transaction_id", p.TransactionID)
		return nil, commerce.NewError(commerce.KindDomainConflict, op, commerce.CodePaymentDeclined,
			fmt.Sprintf("payment declined for project %d", req.ProjectID))
	}
	o.logger.Info("Purchase accepted", "project_id", req.ProjectID, "purchase_id", p.ID, "status", p.Status)

	o.reconcileAfterMutation(ctx)
	return p, nil
}

// PurchaseBatch submits several projects in one all-or-nothing call. Every project
// is marked pending before the call and cleared afterwards, whatever the outcome.
func (o *Orchestrator) PurchaseBatch(ctx context.Context, items []commerce.BatchItem, method commerce.PaymentMethod) ([]commerce.Purchase, error) {
	const op = "purchase.batch"
	if len(items) == 0 {
		return nil, commerce.NewError(commerce.KindValidation, op, "", "batch is empty")
	}
	if strings.TrimSpace(string(method)) == "" {
		return nil, commerce.NewError(commerce.KindValidation, op, "", "payment method is required")
	}
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		if err := validateLine(op, it.ProjectID, it.Amount.IsPositive(), it.Currency); err != nil {
			return nil, err
		}
		if _, dup := seen[it.ProjectID]; dup {
			return nil, commerce.NewError(commerce.KindValidation, op, "", fmt.Sprintf("project %d appears twice in batch", it.ProjectID))
		}
		seen[it.ProjectID] = struct{}{}
		ids = append(ids, it.ProjectID)
	}

	epoch, err := o.markPending(op, ids...)
	if err != nil {
		return nil, err
	}
	defer o.clearPending(epoch, ids...)

	result, err := o.api.CreateBatchPurchase(ctx, commerce.BatchPurchaseRequest{Items: items, PaymentMethod: method})
	if err != nil {
		o.logger.Warn("Batch purchase failed", "projects", ids, "err", err)
		return nil, err
	}
	for _, p := range result {
		if p.Status == commerce.PurchaseStatusFailed {
			o.logger.Warn("Batch purchase declined", "projects", ids, "transaction_id", p.TransactionID)
			return nil, commerce.NewError(commerce.KindDomainConflict, op, commerce.CodePaymentDeclined, "payment declined for batch")
		}
	}
	o.logger.Info("Batch purchase accepted", "projects", ids, "count", len(result))

	o.reconcileAfterMutation(ctx)
	return result, nil
}

// Reconcile replaces the purchase cache with the server's full list.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	epoch := o.currentEpoch()

	list, err := o.api.ListPurchases(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		o.logger.Debug("Discarding purchase list from a previous session")
		return nil
	}
	o.purchases = append(make([]commerce.Purchase, 0, len(list)), list...)
	o.purchased = completedIndex(list)
	v, snap := o.bumpLocked()
	o.mu.Unlock()

	o.hub.Publish(v, snap)
	return nil
}

// HasPurchased reads the cache only. It may lag the server until the next Reconcile.
func (o *Orchestrator) HasPurchased(projectID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.purchased[projectID]
	return ok
}

func (o *Orchestrator) IsPending(projectID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pending[projectID]
	return ok
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	return o.hub.Subscribe(fn)
}

// Reset drops all session state. Responses to requests issued before Reset are discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.epoch++
	o.purchases = []commerce.Purchase{}
	o.purchased = make(map[int64]struct{})
	o.pending = make(map[int64]struct{})
	v, snap := o.bumpLocked()
	o.mu.Unlock()

	o.hub.Publish(v, snap)
}

// reconcileAfterMutation refreshes the cache once the mutation is acknowledged.
// The mutation already succeeded, so a failed reload is logged, not returned.
func (o *Orchestrator) reconcileAfterMutation(ctx context.Context) {
	if err := o.Reconcile(ctx); err != nil {
		o.logger.Warn("Reconcile after purchase failed; cache may lag until next reconcile", "err", err)
	}
}

// markPending atomically checks and inserts ids, returning the session epoch they
// belong to.
func (o *Orchestrator) markPending(op string, ids ...int64) (uint64, error) {
	o.mu.Lock()
	for _, id := range ids {
		if _, busy := o.pending[id]; busy {
			o.mu.Unlock()
			return 0, commerce.NewError(commerce.KindDomainConflict, op, commerce.CodePurchaseInFlight,
				fmt.Sprintf("purchase for project %d already in progress", id))
		}
	}
	for _, id := range ids {
		o.pending[id] = struct{}{}
	}
	epoch := o.epoch
	v, snap := o.bumpLocked()
	o.mu.Unlock()

	o.hub.Publish(v, snap)
	return epoch, nil
}

// clearPending is a no-op once the session that marked ids has been reset.
func (o *Orchestrator) clearPending(epoch uint64, ids ...int64) {
	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return
	}
	for _, id := range ids {
		delete(o.pending, id)
	}
	v, snap := o.bumpLocked()
	o.mu.Unlock()

	o.hub.Publish(v, snap)
}

func (o *Orchestrator) currentEpoch() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch
}

func (o *Orchestrator) bumpLocked() (uint64, Snapshot) {
	o.version++
	return o.version, o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	pending := make([]int64, 0, len(o.pending))
	for id := range o.pending {
		pending = append(pending, id)
	}
	slices.Sort(pending)
	return Snapshot{
		Purchases: append(make([]commerce.Purchase, 0, len(o.purchases)), o.purchases...),
		Pending:   pending,
	}
}

func completedIndex(list []commerce.Purchase) map[int64]struct{} {
	idx := make(map[int64]struct{}, len(list))
	for _, p := range list {
		if p.Status == commerce.PurchaseStatusCompleted {
			idx[p.ProjectID] = struct{}{}
		}
	}
	return idx
}

func validateLine(op string, projectID int64, positiveAmount bool, currency string) error {
	if projectID <= 0 {
		return commerce.InvalidProjectID(op, projectID)
	}
	if !positiveAmount {
		return commerce.NewError(commerce.KindValidation, op, "", "amount must be positive")
	}
	if strings.TrimSpace(currency) == "" {
		return commerce.NewError(commerce.KindValidation, op, "", "currency is required")
	}
	return nil
}
