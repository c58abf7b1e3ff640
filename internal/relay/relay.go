// Package relay forwards component snapshots to Redis so out-of-process
// consumers see the same push stream as in-process subscribers.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	DefaultPrefix       = "marketplace"
	DefaultTTL          = 10 * time.Minute
	DefaultClearTimeout = 2 * time.Second
	publishTimeout      = 2 * time.Second
)

// Sink defines the subset of Redis commands the relay needs.
type Sink interface {
	// Publish fans payload out to channel subscribers.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Set stores the latest payload for late joiners.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// Del removes keys.
	Del(ctx context.Context, keys ...string) error
}

// Relay publishes every snapshot on "<prefix>:<component>" and keeps the most
// recent one at "<prefix>:<component>:latest" with a TTL. Writes happen in the
// background, one goroutine per component, and only the newest pending snapshot
// is written. Failures are logged and never reach the components.
type Relay struct {
	sink   Sink
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	mu         sync.Mutex
	forwarders map[string]*forwarder

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// forwarder holds the newest unwritten snapshot of one component.
type forwarder struct {
	component string
	wake      chan struct{}

	mu      sync.Mutex
	pending []byte

	// writeMu is held for the whole of a write.
	writeMu sync.Mutex
}

func (f *forwarder) offer(payload []byte) {
	f.mu.Lock()
	f.pending = payload
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *forwarder) take() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload := f.pending
	f.pending = nil
	return payload
}

func New(sink Sink, prefix string, ttl time.Duration, logger *slog.Logger) *Relay {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Relay{
		sink:       sink,
		prefix:     prefix,
		ttl:        ttl,
		logger:     logger.With("component", "SnapshotRelay"),
		forwarders: make(map[string]*forwarder),
		done:       make(chan struct{}),
	}
}

// Forward returns a subscriber callback that relays snapshots of component.
// The callback only encodes the snapshot; it never waits on Redis.
func Forward[T any](r *Relay, component string) func(T) {
	f := r.forwarder(component)

	return func(snapshot T) {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			r.logger.Error("Failed to encode snapshot", "relay_component", component, "err", err)
			return
		}
		f.offer(payload)
	}
}

func (r *Relay) Channel(component string) string {
	return fmt.Sprintf("%s:%s", r.prefix, component)
}

func (r *Relay) LatestKey(component string) string {
	return r.Channel(component) + ":latest"
}

// Clear drops the latest-snapshot keys of every forwarded component. Snapshots
// still pending are published on their channel but not stored.
func (r *Relay) Clear(ctx context.Context) error {
	r.mu.Lock()
	forwarders := make([]*forwarder, 0, len(r.forwarders))
	for _, f := range r.forwarders {
		forwarders = append(forwarders, f)
	}
	r.mu.Unlock()
	slices.SortFunc(forwarders, func(a, b *forwarder) int { return strings.Compare(a.component, b.component) })

	keys := make([]string, 0, len(forwarders))
	for _, f := range forwarders {
		f.writeMu.Lock()
		defer f.writeMu.Unlock()

		if payload := f.take(); payload != nil {
			if err := r.sink.Publish(ctx, r.Channel(f.component), payload); err != nil {
				r.logger.Warn("Failed to publish snapshot", "relay_component", f.component, "err", err)
			}
		}
		keys = append(keys, r.LatestKey(f.component))
	}

	if err := r.sink.Del(ctx, keys...); err != nil {
		r.logger.Warn("Failed to clear relayed snapshots", "err", err)
		return err
	}
	return nil
}

// Close stops the background writers after a last write of anything pending.
func (r *Relay) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *Relay) forwarder(component string) *forwarder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.forwarders[component]; ok {
		return f
	}
	f := &forwarder{component: component, wake: make(chan struct{}, 1)}
	r.forwarders[component] = f
	r.wg.Add(1)
	go r.run(f)
	return f
}

func (r *Relay) run(f *forwarder) {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			r.write(f)
			return
		case <-f.wake:
			r.write(f)
		}
	}
}

func (r *Relay) write(f *forwarder) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	payload := f.take()
	if payload == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := r.sink.Set(ctx, r.LatestKey(f.component), payload, r.ttl); err != nil {
		r.logger.Warn("Failed to store latest snapshot", "relay_component", f.component, "err", err)
	}
	if err := r.sink.Publish(ctx, r.Channel(f.component), payload); err != nil {
		r.logger.Warn("Failed to publish snapshot", "relay_component", f.component, "err", err)
	}
}
