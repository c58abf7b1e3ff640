// Package broadcast delivers full cache snapshots to subscribers.
package broadcast

import (
	"sync"
	"sync/atomic"
)

// Hub holds the latest snapshot of one cache and pushes every newer snapshot,
// synchronously, to all current subscribers.
//
// Delivery is versioned per subscriber: a subscriber never receives a snapshot
// older than one it has already seen, whether the older one comes from a
// concurrent Publish or from its own initial delivery in Subscribe. Calls into
// one subscriber never overlap.
// Subscribers may call Subscribe or an unsubscribe func from inside a callback.
type Hub[T any] struct {
	mu      sync.Mutex
	version uint64
	latest  T
	nextID  int
	subs    map[int]*subscriber[T]
}

type subscriber[T any] struct {
	fn      func(T)
	removed atomic.Bool

	mu        sync.Mutex
	delivered bool
	last      uint64
}

// deliver calls fn unless the subscriber is gone or has seen version already.
func (s *subscriber[T]) deliver(version uint64, snapshot T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed.Load() {
		return
	}
	if s.delivered && version <= s.last {
		return
	}
	s.delivered = true
	s.last = version
	s.fn(snapshot)
}

func NewHub[T any](initial T) *Hub[T] {
	return &Hub[T]{
		latest: initial,
		subs:   make(map[int]*subscriber[T]),
	}
}

// Subscribe registers fn and immediately hands it the current snapshot, unless
// a newer one reached it first.
func (h *Hub[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	sub := &subscriber[T]{fn: fn}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	version, current := h.version, h.latest
	h.mu.Unlock()

	sub.deliver(version, current)

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.removed.Store(true)
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers snapshot if version is newer than anything published so far.
// It reports whether the snapshot was accepted.
func (h *Hub[T]) Publish(version uint64, snapshot T) bool {
	h.mu.Lock()
	if version <= h.version {
		h.mu.Unlock()
		return false
	}
	h.version = version
	h.latest = snapshot
	targets := make([]*subscriber[T], 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(version, snapshot)
	}
	return true
}

// Latest returns the last accepted snapshot.
func (h *Hub[T]) Latest() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Subscribers returns the number of registered callbacks.
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
