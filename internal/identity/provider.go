// Package identity is an in-memory identity provider backed by a bearer JWT.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/tinywideclouds/go-marketplace-state/internal/broadcast"
	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

type tokenClaims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Change is one sign-in or sign-out.
type Change struct {
	User     commerce.User
	SignedIn bool
}

// Provider holds the current bearer token and the user it identifies.
// Without a signing key the token is only decoded; the Commerce API is what verifies it.
type Provider struct {
	logger     *slog.Logger
	clock      clockwork.Clock
	signingKey []byte
	hub        *broadcast.Hub[Change]

	mu        sync.Mutex
	version   uint64
	token     string
	user      commerce.User
	expiresAt time.Time
	signedIn  bool
	expiry    clockwork.Timer
}

type Option func(*Provider)

func WithClock(c clockwork.Clock) Option {
	return func(p *Provider) { p.clock = c }
}

// WithSigningKey makes SignIn verify HS256 signatures with key.
func WithSigningKey(key []byte) Option {
	return func(p *Provider) { p.signingKey = key }
}

func NewProvider(logger *slog.Logger, opts ...Option) *Provider {
	p := &Provider{
		logger: logger.With("component", "IdentityProvider"),
		clock:  clockwork.NewRealClock(),
		hub:    broadcast.NewHub(Change{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignIn accepts a bearer token, with or without the "Bearer " prefix, and
// announces the user it carries.
func (p *Provider) SignIn(raw string) error {
	const op = "identity.signin"
	raw = strings.TrimSpace(raw)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return commerce.NewError(commerce.KindAuthenticationRequired, op, "", "empty token")
	}

	claims, err := p.parse(raw)
	if err != nil {
		return &commerce.Error{Kind: commerce.KindAuthenticationRequired, Op: op, Message: "invalid token", Err: err}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return commerce.NewError(commerce.KindAuthenticationRequired, op, "", "token has no subject")
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
		if !p.clock.Now().Before(expiresAt) {
			return commerce.NewError(commerce.KindAuthenticationRequired, op, "", "token expired")
		}
	}

	user := commerce.User{ID: claims.Subject, Name: claims.Name, Email: claims.Email}

	p.mu.Lock()
	p.stopExpiryLocked()
	p.token = raw
	p.user = user
	p.expiresAt = expiresAt
	p.signedIn = true
	if !expiresAt.IsZero() {
		p.expiry = p.clock.AfterFunc(expiresAt.Sub(p.clock.Now()), func() { p.expire(raw) })
	}
	p.version++
	v := p.version
	p.mu.Unlock()

	p.logger.Info("User signed in", "user_id", user.ID)
	p.hub.Publish(v, Change{User: user, SignedIn: true})
	return nil
}

// SignOut forgets the token. It is a no-op when nobody is signed in.
func (p *Provider) SignOut() {
	p.mu.Lock()
	if !p.signedIn {
		p.mu.Unlock()
		return
	}
	user, v := p.clearLocked()
	p.mu.Unlock()

	p.logger.Info("User signed out", "user_id", user.ID)
	p.hub.Publish(v, Change{User: user, SignedIn: false})
}

// expire signs out when raw, the token the timer was armed for, is still current.
func (p *Provider) expire(raw string) {
	p.mu.Lock()
	if !p.signedIn || p.token != raw {
		p.mu.Unlock()
		return
	}
	p.expiry = nil // already fired
	user, v := p.clearLocked()
	p.mu.Unlock()

	p.logger.Info("Token expired; user signed out", "user_id", user.ID)
	p.hub.Publish(v, Change{User: user, SignedIn: false})
}

func (p *Provider) clearLocked() (commerce.User, uint64) {
	p.stopExpiryLocked()
	user := p.user
	p.token = ""
	p.user = commerce.User{}
	p.expiresAt = time.Time{}
	p.signedIn = false
	p.version++
	return user, p.version
}

func (p *Provider) stopExpiryLocked() {
	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
}

// Token reports no token once the current one has expired.
func (p *Provider) Token() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.activeLocked() {
		return "", false
	}
	return p.token, true
}

func (p *Provider) CurrentUser() (commerce.User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.activeLocked() {
		return commerce.User{}, false
	}
	return p.user, true
}

// OnUserChanged calls fn with the current state right away and then on every change.
func (p *Provider) OnUserChanged(fn func(user commerce.User, signedIn bool)) (unsubscribe func()) {
	return p.hub.Subscribe(func(c Change) { fn(c.User, c.SignedIn) })
}

func (p *Provider) activeLocked() bool {
	if !p.signedIn {
		return false
	}
	return p.expiresAt.IsZero() || p.clock.Now().Before(p.expiresAt)
}

func (p *Provider) parse(raw string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	if len(p.signingKey) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return nil, err
		}
		return claims, nil
	}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithTimeFunc(p.clock.Now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token not valid")
	}
	return claims, nil
}
