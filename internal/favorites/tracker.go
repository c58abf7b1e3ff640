// Package favorites tracks which projects the signed-in user has favorited.
package favorites

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-marketplace-state/internal/broadcast"
	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

// Snapshot carries the detailed list. Membership can be derived from it but
// may briefly lead it after a confirmed Add whose reload has not landed yet.
type Snapshot struct {
	Favorites  []commerce.Favorite `json:"favorites"`
	ProjectIDs []int64             `json:"project_ids"`
}

// Tracker holds the favorites list and a membership set. The set is only ever
// changed by a server-confirmed mutation or a wholesale Load.
type Tracker struct {
	api    commerce.FavoritesAPI
	logger *slog.Logger
	hub    *broadcast.Hub[Snapshot]

	mu      sync.Mutex
	epoch   uint64
	version uint64
	list    []commerce.Favorite
	members map[int64]struct{}
	order   []int64
}

func NewTracker(api commerce.FavoritesAPI, logger *slog.Logger) *Tracker {
	return &Tracker{
		api:     api,
		logger:  logger.With("component", "FavoritesTracker"),
		hub:     broadcast.NewHub(Snapshot{Favorites: []commerce.Favorite{}, ProjectIDs: []int64{}}),
		list:    []commerce.Favorite{},
		members: make(map[int64]struct{}),
	}
}

// Load replaces both the detailed list and the membership set. On failure
// nothing changes.
func (t *Tracker) Load(ctx context.Context) error {
	epoch := t.currentEpoch()

	list, err := t.api.ListFavorites(ctx)
	if err != nil {
		t.logger.Warn("Favorites load failed", "err", err)
		return err
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		t.logger.Debug("Discarding favorites from a previous session")
		return nil
	}
	t.list = append(make([]commerce.Favorite, 0, len(list)), list...)
	t.members = make(map[int64]struct{}, len(list))
	t.order = t.order[:0]
	for _, f := range list {
		if _, dup := t.members[f.ProjectID]; dup {
			continue
		}
		t.members[f.ProjectID] = struct{}{}
		t.order = append(t.order, f.ProjectID)
	}
	v, snap := t.bumpLocked()
	t.mu.Unlock()

	t.hub.Publish(v, snap)
	return nil
}

// Add favorites projectID. Membership is updated only after the server confirms,
// then the detailed list is refreshed on a best-effort basis.
func (t *Tracker) Add(ctx context.Context, projectID int64) error {
	const op = "favorites.add"
	if projectID <= 0 {
		return commerce.InvalidProjectID(op, projectID)
	}
	epoch := t.currentEpoch()
	if err := t.api.AddFavorite(ctx, projectID); err != nil {
		t.logger.Warn("Add favorite failed", "project_id", projectID, "code", commerce.CodeOf(err), "err", err)
		return err
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return nil
	}
	if _, ok := t.members[projectID]; !ok {
		t.members[projectID] = struct{}{}
		t.order = append(t.order, projectID)
	}
	v, snap := t.bumpLocked()
	t.mu.Unlock()
	t.hub.Publish(v, snap)

	if err := t.Load(ctx); err != nil {
		t.logger.Warn("Favorites reload after add failed", "err", err)
	}
	return nil
}

// Remove unfavorites projectID once the server confirms.
func (t *Tracker) Remove(ctx context.Context, projectID int64) error {
	const op = "favorites.remove"
	if projectID <= 0 {
		return commerce.InvalidProjectID(op, projectID)
	}
	epoch := t.currentEpoch()
	if err := t.api.RemoveFavorite(ctx, projectID); err != nil {
		t.logger.Warn("Remove favorite failed", "project_id", projectID, "err", err)
		return err
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return nil
	}
	delete(t.members, projectID)
	t.order = without(t.order, projectID)
	kept := make([]commerce.Favorite, 0, len(t.list))
	for _, f := range t.list {
		if f.ProjectID != projectID {
			kept = append(kept, f)
		}
	}
	t.list = kept
	v, snap := t.bumpLocked()
	t.mu.Unlock()

	t.hub.Publish(v, snap)
	return nil
}

// Toggle adds or removes projectID depending on current membership and reports
// the membership after the call.
func (t *Tracker) Toggle(ctx context.Context, projectID int64) (bool, error) {
	if projectID <= 0 {
		return false, commerce.InvalidProjectID("favorites.toggle", projectID)
	}
	if t.IsFavorite(projectID) {
		if err := t.Remove(ctx, projectID); err != nil {
			return true, err
		}
		return false, nil
	}
	if err := t.Add(ctx, projectID); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tracker) IsFavorite(projectID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.members[projectID]
	return ok
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	return t.hub.Subscribe(fn)
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	t.epoch++
	t.list = []commerce.Favorite{}
	t.members = make(map[int64]struct{})
	t.order = nil
	v, snap := t.bumpLocked()
	t.mu.Unlock()

	t.hub.Publish(v, snap)
}

func (t *Tracker) currentEpoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

func (t *Tracker) bumpLocked() (uint64, Snapshot) {
	t.version++
	return t.version, t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		Favorites:  append(make([]commerce.Favorite, 0, len(t.list)), t.list...),
		ProjectIDs: append(make([]int64, 0, len(t.order)), t.order...),
	}
}

func without(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
