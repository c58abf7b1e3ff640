// Package cart mirrors the server-side cart.
package cart

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tinywideclouds/go-marketplace-state/internal/broadcast"
	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

// Snapshot is one cart response as seen by subscribers. Count and Total always
// come from the same response as Items.
type Snapshot struct {
	Items []commerce.CartItem `json:"items"`
	Count int                 `json:"count"`
	Total decimal.Decimal     `json:"total"`
}

func emptySnapshot() Snapshot {
	return Snapshot{Items: []commerce.CartItem{}, Total: decimal.Zero}
}

// Synchronizer keeps a wholesale-replaced mirror of the cart.
type Synchronizer struct {
	api    commerce.CartAPI
	logger *slog.Logger
	hub    *broadcast.Hub[Snapshot]

	mu       sync.Mutex
	epoch    uint64
	version  uint64
	mirror   Snapshot
	projects map[int64]struct{}
}

func NewSynchronizer(api commerce.CartAPI, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		api:      api,
		logger:   logger.With("component", "CartSynchronizer"),
		hub:      broadcast.NewHub(emptySnapshot()),
		mirror:   emptySnapshot(),
		projects: make(map[int64]struct{}),
	}
}

// Load fetches the cart and replaces the mirror. On failure the mirror is reset
// to empty and the error returned.
func (s *Synchronizer) Load(ctx context.Context) error {
	epoch := s.currentEpoch()

	c, err := s.api.GetCart(ctx)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("Discarding cart response from a previous session")
		return nil
	}
	if err != nil {
		s.replaceLocked(emptySnapshot())
	} else {
		s.replaceLocked(Snapshot{
			Items: append(make([]commerce.CartItem, 0, len(c.Items)), c.Items...),
			Count: c.Count,
			Total: c.Total,
		})
	}
	v, snap := s.bumpLocked()
	s.mu.Unlock()

	s.hub.Publish(v, snap)
	if err != nil {
		s.logger.Warn("Cart load failed; mirror cleared", "err", err)
		return err
	}
	return nil
}

// Add puts projectID in the cart and reloads. A failed call leaves the mirror untouched.
func (s *Synchronizer) Add(ctx context.Context, projectID int64) error {
	if projectID <= 0 {
		return commerce.InvalidProjectID("cart.add", projectID)
	}
	if err := s.api.AddToCart(ctx, projectID); err != nil {
		s.logger.Warn("Add to cart failed", "project_id", projectID, "err", err)
		return err
	}
	s.reloadAfterMutation(ctx)
	return nil
}

func (s *Synchronizer) Remove(ctx context.Context, projectID int64) error {
	if projectID <= 0 {
		return commerce.InvalidProjectID("cart.remove", projectID)
	}
	if err := s.api.RemoveFromCart(ctx, projectID); err != nil {
		s.logger.Warn("Remove from cart failed", "project_id", projectID, "err", err)
		return err
	}
	s.reloadAfterMutation(ctx)
	return nil
}

// Clear empties the cart. The mirror is reset directly on success, without a reload.
func (s *Synchronizer) Clear(ctx context.Context) error {
	epoch := s.currentEpoch()
	if err := s.api.ClearCart(ctx); err != nil {
		s.logger.Warn("Clear cart failed", "err", err)
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	s.replaceLocked(emptySnapshot())
	v, snap := s.bumpLocked()
	s.mu.Unlock()

	s.hub.Publish(v, snap)
	return nil
}

func (s *Synchronizer) IsInCart(projectID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.projects[projectID]
	return ok
}

func (s *Synchronizer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror.Count
}

func (s *Synchronizer) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror.Total
}

func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	return s.hub.Subscribe(fn)
}

// Reset empties the mirror and invalidates in-flight loads.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.epoch++
	s.replaceLocked(emptySnapshot())
	v, snap := s.bumpLocked()
	s.mu.Unlock()

	s.hub.Publish(v, snap)
}

func (s *Synchronizer) reloadAfterMutation(ctx context.Context) {
	if err := s.Load(ctx); err != nil {
		s.logger.Warn("Cart reload after mutation failed", "err", err)
	}
}

func (s *Synchronizer) replaceLocked(snap Snapshot) {
	s.mirror = snap
	s.projects = make(map[int64]struct{}, len(snap.Items))
	for _, it := range snap.Items {
		s.projects[it.ProjectID] = struct{}{}
	}
}

func (s *Synchronizer) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *Synchronizer) bumpLocked() (uint64, Snapshot) {
	s.version++
	return s.version, s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	return Snapshot{
		Items: append(make([]commerce.CartItem, 0, len(s.mirror.Items)), s.mirror.Items...),
		Count: s.mirror.Count,
		Total: s.mirror.Total,
	}
}
