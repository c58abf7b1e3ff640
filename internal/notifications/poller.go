// Package notifications keeps the notification list and unread counter fresh by
// polling the Commerce API on a fixed interval.
package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tinywideclouds/go-marketplace-state/internal/broadcast"
	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

const DefaultInterval = 30 * time.Second

type Snapshot struct {
	Items       []commerce.Notification `json:"items"`
	UnreadCount int                     `json:"unread_count"`
}

// pollHandle is the running poll loop. done is closed once the loop has exited.
type pollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	ticker clockwork.Ticker
}

// Poller owns the notification list, the unread counter and at most one poll loop.
type Poller struct {
	api      commerce.NotificationAPI
	logger   *slog.Logger
	hub      *broadcast.Hub[Snapshot]
	clock    clockwork.Clock
	interval time.Duration

	mu      sync.Mutex
	epoch   uint64
	version uint64
	items   []commerce.Notification
	unread  int

	pollMu sync.Mutex
	handle *pollHandle
}

type Option func(*Poller)

func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithInterval overrides DefaultInterval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func NewPoller(api commerce.NotificationAPI, logger *slog.Logger, opts ...Option) *Poller {
	p := &Poller{
		api:      api,
		logger:   logger.With("component", "NotificationPoller"),
		hub:      broadcast.NewHub(Snapshot{Items: []commerce.Notification{}}),
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
		items:    []commerce.Notification{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StartPolling begins refreshing list and counter on every tick. Any loop already
// running is stopped first, so there is never more than one ticker.
func (p *Poller) StartPolling(ctx context.Context) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	p.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	h := &pollHandle{
		cancel: cancel,
		done:   make(chan struct{}),
		ticker: p.clock.NewTicker(p.interval),
	}
	p.handle = h
	go p.loop(loopCtx, h)
	p.logger.Debug("Polling started", "interval", p.interval)
}

// Teardown stops the poll loop and waits for it to exit. Safe to call when idle.
func (p *Poller) Teardown() {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()
	p.stopLocked()
}

func (p *Poller) IsPolling() bool {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()
	if p.handle == nil {
		return false
	}
	select {
	case <-p.handle.done:
		return false
	default:
		return true
	}
}

func (p *Poller) stopLocked() {
	if p.handle == nil {
		return
	}
	p.handle.cancel()
	<-p.handle.done
	p.handle = nil
	p.logger.Debug("Polling stopped")
}

func (p *Poller) loop(ctx context.Context, h *pollHandle) {
	defer close(h.done)
	defer h.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ticker.Chan():
			p.refresh(ctx)
		}
	}
}

// refresh runs both loads; the last response to land wins.
func (p *Poller) refresh(ctx context.Context) {
	if err := p.LoadList(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("Notification poll: list failed", "err", err)
	}
	if err := p.LoadUnreadCount(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("Notification poll: unread count failed", "err", err)
	}
}

// LoadList replaces the list wholesale. Failures leave it unchanged.
func (p *Poller) LoadList(ctx context.Context) error {
	epoch := p.currentEpoch()
	list, err := p.api.ListNotifications(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return nil
	}
	p.items = append(make([]commerce.Notification, 0, len(list)), list...)
	v, snap := p.bumpLocked()
	p.mu.Unlock()

	p.hub.Publish(v, snap)
	return nil
}

// LoadUnreadCount replaces the counter with the server's value.
func (p *Poller) LoadUnreadCount(ctx context.Context) error {
	epoch := p.currentEpoch()
	n, err := p.api.UnreadCount(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return nil
	}
	p.unread = n
	v, snap := p.bumpLocked()
	p.mu.Unlock()

	p.hub.Publish(v, snap)
	return nil
}

// MarkAsRead flips the notification locally before telling the server. A failed
// server call is returned but not reverted; the next poll corrects the state.
func (p *Poller) MarkAsRead(ctx context.Context, id int64) error {
	now := p.clock.Now()

	p.mu.Lock()
	for i := range p.items {
		if p.items[i].ID != id || p.items[i].Read {
			continue
		}
		p.items[i].Read = true
		p.items[i].ReadAt = &now
		if p.unread > 0 {
			p.unread--
		}
		break
	}
	v, snap := p.bumpLocked()
	p.mu.Unlock()
	p.hub.Publish(v, snap)

	if err := p.api.MarkNotificationRead(ctx, id); err != nil {
		p.logger.Warn("Mark as read failed; local state kept until next poll", "notification_id", id, "err", err)
		return err
	}
	if err := p.LoadUnreadCount(ctx); err != nil {
		p.logger.Warn("Unread count reload failed", "err", err)
	}
	return nil
}

// MarkAllAsRead flips every notification and zeroes the counter before the
// server call, with the same no-rollback rule as MarkAsRead.
func (p *Poller) MarkAllAsRead(ctx context.Context) error {
	now := p.clock.Now()

	p.mu.Lock()
	for i := range p.items {
		if !p.items[i].Read {
			p.items[i].Read = true
			p.items[i].ReadAt = &now
		}
	}
	p.unread = 0
	v, snap := p.bumpLocked()
	p.mu.Unlock()
	p.hub.Publish(v, snap)

	if err := p.api.MarkAllNotificationsRead(ctx); err != nil {
		p.logger.Warn("Mark all as read failed; local state kept until next poll", "err", err)
		return err
	}
	if err := p.LoadUnreadCount(ctx); err != nil {
		p.logger.Warn("Unread count reload failed", "err", err)
	}
	return nil
}

func (p *Poller) UnreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unread
}

func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Poller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	return p.hub.Subscribe(fn)
}

// Reset clears list and counter. It does not stop polling; callers pair it with Teardown.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.epoch++
	p.items = []commerce.Notification{}
	p.unread = 0
	v, snap := p.bumpLocked()
	p.mu.Unlock()

	p.hub.Publish(v, snap)
}

func (p *Poller) currentEpoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

func (p *Poller) bumpLocked() (uint64, Snapshot) {
	p.version++
	return p.version, p.snapshotLocked()
}

func (p *Poller) snapshotLocked() Snapshot {
	return Snapshot{
		Items:       append(make([]commerce.Notification, 0, len(p.items)), p.items...),
		UnreadCount: p.unread,
	}
}
