// Package marketplace binds the four state components to the signed-in user.
package marketplace

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-marketplace-state/internal/cart"
	"github.com/tinywideclouds/go-marketplace-state/internal/favorites"
	"github.com/tinywideclouds/go-marketplace-state/internal/notifications"
	"github.com/tinywideclouds/go-marketplace-state/internal/purchase"
	"github.com/tinywideclouds/go-marketplace-state/internal/relay"
	"github.com/tinywideclouds/go-marketplace-state/marketplace/config"
	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

// CommerceAPI is everything the session's components need from the Commerce API.
type CommerceAPI interface {
	commerce.PurchaseAPI
	commerce.CartAPI
	commerce.FavoritesAPI
	commerce.NotificationAPI
}

// Session owns one instance of each component. Components never talk to each
// other; the session only reacts to identity changes on their behalf.
type Session struct {
	Purchases     *purchase.Orchestrator
	Cart          *cart.Synchronizer
	Favorites     *favorites.Tracker
	Notifications *notifications.Poller

	idp    commerce.IdentityProvider
	relay  *relay.Relay
	logger *slog.Logger

	mu          sync.Mutex
	baseCtx     context.Context
	cancelLoad  context.CancelFunc
	activeUser  string
	active      bool
	unsubscribe []func()
	loads       sync.WaitGroup
}

type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock drives the notification poller from c.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New assembles the session. rel may be nil.
func New(cfg *config.Config, api CommerceAPI, idp commerce.IdentityProvider, rel *relay.Relay, logger *slog.Logger, opts ...Option) *Session {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Session{
		Purchases: purchase.NewOrchestrator(api, logger),
		Cart:      cart.NewSynchronizer(api, logger),
		Favorites: favorites.NewTracker(api, logger),
		Notifications: notifications.NewPoller(api, logger,
			notifications.WithClock(o.clock),
			notifications.WithInterval(cfg.PollInterval),
		),
		idp:     idp,
		relay:   rel,
		logger:  logger.With("component", "Session"),
		baseCtx: context.Background(),
	}
}

// Start wires the relay and begins following the identity provider. The current
// identity state is handled before Start returns; loads then run in the background.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.baseCtx = ctx
	s.unsubscribe = []func(){}
	s.mu.Unlock()

	var subs []func()
	if s.relay != nil {
		subs = append(subs,
			s.Purchases.Subscribe(relay.Forward[purchase.Snapshot](s.relay, "purchases")),
			s.Cart.Subscribe(relay.Forward[cart.Snapshot](s.relay, "cart")),
			s.Favorites.Subscribe(relay.Forward[favorites.Snapshot](s.relay, "favorites")),
			s.Notifications.Subscribe(relay.Forward[notifications.Snapshot](s.relay, "notifications")),
		)
	}
	subs = append(subs, s.idp.OnUserChanged(s.onUserChanged))

	s.mu.Lock()
	s.unsubscribe = subs
	s.mu.Unlock()

	s.logger.Info("Session started")
	return nil
}

// Shutdown stops following identity, cancels outstanding loads and stops polling.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	subs := s.unsubscribe
	s.unsubscribe = nil
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		s.loads.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Shutdown timed out waiting for session loads")
		return ctx.Err()
	}

	s.Notifications.Teardown()
	s.logger.Info("Session shut down")
	return nil
}

// Active reports whether the caches are bound to a signed-in user.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) onUserChanged(user commerce.User, signedIn bool) {
	if !signedIn {
		s.deactivate()
		return
	}

	s.mu.Lock()
	sameUser := s.active && s.activeUser == user.ID
	s.mu.Unlock()
	if sameUser {
		s.logger.Debug("Token refreshed for current user", "user_id", user.ID)
		return
	}

	s.deactivate()
	s.activate(user)
}

// activate starts the login loads. Polling begins once they finish, unless the
// user signed out in the meantime.
func (s *Session) activate(user commerce.User) {
	s.mu.Lock()
	loadCtx, cancel := context.WithCancel(s.baseCtx)
	s.cancelLoad = cancel
	s.activeUser = user.ID
	s.active = true
	s.loads.Add(1)
	s.mu.Unlock()

	s.logger.Info("Binding caches to user", "user_id", user.ID)

	go func() {
		defer s.loads.Done()

		var g errgroup.Group
		g.Go(func() error { return s.Purchases.Reconcile(loadCtx) })
		g.Go(func() error { return s.Cart.Load(loadCtx) })
		g.Go(func() error { return s.Favorites.Load(loadCtx) })
		g.Go(func() error { return s.Notifications.LoadList(loadCtx) })
		g.Go(func() error { return s.Notifications.LoadUnreadCount(loadCtx) })
		if err := g.Wait(); err != nil && loadCtx.Err() == nil {
			s.logger.Warn("Initial load incomplete; polling will reconcile", "user_id", user.ID, "err", err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if loadCtx.Err() != nil {
			return
		}
		s.Notifications.StartPolling(loadCtx)
	}()
}

// deactivate stops polling and empties every cache.
func (s *Session) deactivate() {
	s.mu.Lock()
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	wasActive := s.active
	user := s.activeUser
	s.active = false
	s.activeUser = ""
	s.Notifications.Teardown()
	s.mu.Unlock()

	s.Purchases.Reset()
	s.Cart.Reset()
	s.Favorites.Reset()
	s.Notifications.Reset()

	if s.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), relay.DefaultClearTimeout)
		defer cancel()
		_ = s.relay.Clear(ctx)
	}
	if wasActive {
		s.logger.Info("Caches cleared on sign-out", "user_id", user)
	}
}
