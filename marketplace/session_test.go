package marketplace_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-marketplace-state/internal/identity"
	"github.com/tinywideclouds/go-marketplace-state/internal/relay"
	"github.com/tinywideclouds/go-marketplace-state/marketplace"
	"github.com/tinywideclouds/go-marketplace-state/marketplace/config"
	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockCommerceAPI struct {
	mock.Mock
}

func (m *mockCommerceAPI) CreatePurchase(ctx context.Context, req commerce.PurchaseRequest) (*commerce.Purchase, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*commerce.Purchase), args.Error(1)
}

func (m *mockCommerceAPI) CreateBatchPurchase(ctx context.Context, req commerce.BatchPurchaseRequest) ([]commerce.Purchase, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]commerce.Purchase), args.Error(1)
}

func (m *mockCommerceAPI) ListPurchases(ctx context.Context) ([]commerce.Purchase, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]commerce.Purchase), args.Error(1)
}

func (m *mockCommerceAPI) GetCart(ctx context.Context) (*commerce.Cart, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*commerce.Cart), args.Error(1)
}

func (m *mockCommerceAPI) AddToCart(ctx context.Context, projectID int64) error {
	return m.Called(ctx, projectID).Error(0)
}

func (m *mockCommerceAPI) RemoveFromCart(ctx context.Context, projectID int64) error {
	return m.Called(ctx, projectID).Error(0)
}

func (m *mockCommerceAPI) ClearCart(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCommerceAPI) ListFavorites(ctx context.Context) ([]commerce.Favorite, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]commerce.Favorite), args.Error(1)
}

func (m *mockCommerceAPI) AddFavorite(ctx context.Context, projectID int64) error {
	return m.Called(ctx, projectID).Error(0)
}

func (m *mockCommerceAPI) RemoveFavorite(ctx context.Context, projectID int64) error {
	return m.Called(ctx, projectID).Error(0)
}

func (m *mockCommerceAPI) ListNotifications(ctx context.Context) ([]commerce.Notification, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]commerce.Notification), args.Error(1)
}

func (m *mockCommerceAPI) UnreadCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockCommerceAPI) MarkNotificationRead(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockCommerceAPI) MarkAllNotificationsRead(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// --- Helpers ---

func expectInitialLoads(api *mockCommerceAPI) {
	api.On("ListPurchases", mock.Anything).Return([]commerce.Purchase{
		{ID: 1, ProjectID: 7, Amount: decimal.NewFromInt(45), Currency: "PEN", Status: commerce.PurchaseStatusCompleted},
	}, nil)
	api.On("GetCart", mock.Anything).Return(&commerce.Cart{
		Items: []commerce.CartItem{{ID: 1, ProjectID: 3}},
		Count: 1,
		Total: decimal.NewFromInt(20),
	}, nil)
	api.On("ListFavorites", mock.Anything).Return([]commerce.Favorite{
		{FavoriteEntry: commerce.FavoriteEntry{UserID: 1, ProjectID: 9}},
	}, nil)
	api.On("ListNotifications", mock.Anything).Return([]commerce.Notification{{ID: 1}, {ID: 2}}, nil)
	api.On("UnreadCount", mock.Anything).Return(2, nil)
}

func signedToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return token
}

func newSession(t *testing.T, api *mockCommerceAPI, rel *relay.Relay) (*marketplace.Session, *identity.Provider) {
	t.Helper()
	idp := identity.NewProvider(newTestLogger())
	cfg := &config.Config{PollInterval: time.Minute}
	s := marketplace.New(cfg, api, idp, rel, newTestLogger(), marketplace.WithClock(clockwork.NewFakeClock()))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, idp
}

// --- Tests ---

func TestSession_LoginLoadsEverythingThenPolls(t *testing.T) {
	api := new(mockCommerceAPI)
	expectInitialLoads(api)
	s, idp := newSession(t, api, nil)

	assert.False(t, s.Active())
	require.NoError(t, idp.SignIn(signedToken(t, "1")))

	require.Eventually(t, s.Notifications.IsPolling, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Active())
	assert.True(t, s.Purchases.HasPurchased(7))
	assert.True(t, s.Cart.IsInCart(3))
	assert.True(t, s.Favorites.IsFavorite(9))
	assert.Equal(t, 2, s.Notifications.UnreadCount())
}

func TestSession_LogoutClearsAndStopsPolling(t *testing.T) {
	api := new(mockCommerceAPI)
	expectInitialLoads(api)
	s, idp := newSession(t, api, nil)

	require.NoError(t, idp.SignIn(signedToken(t, "1")))
	require.Eventually(t, s.Notifications.IsPolling, 2*time.Second, 5*time.Millisecond)

	idp.SignOut()

	assert.False(t, s.Active())
	assert.False(t, s.Notifications.IsPolling())
	assert.False(t, s.Purchases.HasPurchased(7))
	assert.Equal(t, 0, s.Cart.Count())
	assert.False(t, s.Favorites.IsFavorite(9))
	assert.Empty(t, s.Notifications.Snapshot().Items)
	assert.Equal(t, 0, s.Notifications.UnreadCount())
}

func TestSession_TokenRefreshKeepsCaches(t *testing.T) {
	api := new(mockCommerceAPI)
	expectInitialLoads(api)
	s, idp := newSession(t, api, nil)

	require.NoError(t, idp.SignIn(signedToken(t, "1")))
	require.Eventually(t, s.Notifications.IsPolling, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, idp.SignIn(signedToken(t, "1")))

	assert.True(t, s.Purchases.HasPurchased(7))
	assert.True(t, s.Notifications.IsPolling())
	api.AssertNumberOfCalls(t, "ListPurchases", 1)
}

func TestSession_RelaysSnapshotsAndClearsOnLogout(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := relay.NewRedisClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()
	rel := relay.New(client, "test", time.Minute, newTestLogger())
	defer rel.Close()

	api := new(mockCommerceAPI)
	expectInitialLoads(api)
	s, idp := newSession(t, api, rel)

	require.NoError(t, idp.SignIn(signedToken(t, "1")))
	require.Eventually(t, s.Notifications.IsPolling, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		cartJSON, err := mr.Get("test:cart:latest")
		return err == nil && strings.Contains(cartJSON, `"count":1`)
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return mr.Exists("test:purchases:latest") }, 2*time.Second, 5*time.Millisecond)

	idp.SignOut()

	assert.False(t, mr.Exists("test:cart:latest"))
	assert.False(t, mr.Exists("test:purchases:latest"))
}

func TestSession_TokenExpiryClearsAndStopsPolling(t *testing.T) {
	api := new(mockCommerceAPI)
	expectInitialLoads(api)

	identityClock := clockwork.NewFakeClockAt(time.Now())
	idp := identity.NewProvider(newTestLogger(), identity.WithClock(identityClock))
	cfg := &config.Config{PollInterval: time.Minute}
	s := marketplace.New(cfg, api, idp, nil, newTestLogger(), marketplace.WithClock(clockwork.NewFakeClock()))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	require.NoError(t, idp.SignIn(signedToken(t, "1")))
	require.Eventually(t, s.Notifications.IsPolling, 2*time.Second, 5*time.Millisecond)

	identityClock.Advance(2 * time.Hour)

	require.Eventually(t, func() bool {
		return !s.Active() && !s.Purchases.HasPurchased(7) && s.Cart.Count() == 0 && !s.Favorites.IsFavorite(9)
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, s.Notifications.IsPolling())
}

func TestSession_ShutdownStopsFollowingIdentity(t *testing.T) {
	api := new(mockCommerceAPI)
	s, idp := newSession(t, api, nil)

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, idp.SignIn(signedToken(t, "1")))

	assert.False(t, s.Active())
	api.AssertNotCalled(t, "ListPurchases", mock.Anything)
}

func TestSession_StartTwiceFails(t *testing.T) {
	s, _ := newSession(t, new(mockCommerceAPI), nil)
	assert.Error(t, s.Start(context.Background()))
}
