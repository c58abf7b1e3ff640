// --- File: internal/api/client.go ---
// Package api is the HTTP+JSON client for the Commerce API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

const (
	maxResponseBytes       = 4 << 20
	defaultReadRetryDelay  = 250 * time.Millisecond
	idempotencyKeyHeader   = "Idempotency-Key"
	readRetries            = 1
	contentTypeApplication = "application/json"
)

// Client talks to the Commerce API. It satisfies commerce.PurchaseAPI, CartAPI,
// FavoritesAPI and NotificationAPI.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	tokens         commerce.TokenSource
	readRetryDelay time.Duration
	logger         *slog.Logger
}

type Option func(*Client)

// WithReadRetryDelay sets the pause before the single retry of a read call.
func WithReadRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.readRetryDelay = d
		}
	}
}

func NewClient(httpClient *http.Client, baseURL string, tokens commerce.TokenSource, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(15 * time.Second)
	}
	c := &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokens:         tokens,
		readRetryDelay: defaultReadRetryDelay,
		logger:         logger.With("component", "CommerceClient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the wrapper every Commerce API response uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
	Code    string          `json:"code,omitempty"`
}

// call describes one request.
type call struct {
	op       string
	method   string
	path     string
	body     any
	out      any
	mutating bool

	// requireData rejects a successful response without data.
	requireData bool
}

// do runs c, retrying once on network or server failures unless it mutates.
func (c *Client) do(ctx context.Context, cl call) error {
	token, ok := c.tokens.Token()
	if !ok || strings.TrimSpace(token) == "" {
		return commerce.NewError(commerce.KindAuthenticationRequired, cl.op, "", "no bearer token")
	}

	var payload []byte
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return &commerce.Error{Kind: commerce.KindValidation, Op: cl.op, Message: "encode request", Err: err}
		}
		payload = b
	}

	if cl.mutating {
		// Mutations are never retried.
		return c.attempt(ctx, cl, token, payload, uuid.NewString())
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := c.attempt(ctx, cl, token, payload, "")
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.logger.Debug("Read call failed, eligible for retry", "op", cl.op, "attempt", attempts, "err", err)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.readRetryDelay), readRetries), ctx)
	err := backoff.Retry(operation, policy)
	var ce *commerce.Error
	if err != nil && !errors.As(err, &ce) {
		// backoff surfaces the context error when ctx ends between attempts.
		return &commerce.Error{Kind: commerce.KindNetworkFailure, Op: cl.op, Err: err}
	}
	return err
}

func (c *Client) attempt(ctx context.Context, cl call, token string, payload []byte, idempotencyKey string) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return &commerce.Error{Kind: commerce.KindValidation, Op: cl.op, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", contentTypeApplication)
	if payload != nil {
		req.Header.Set("Content-Type", contentTypeApplication)
	}
	if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = "Bearer " + token
	}
	req.Header.Set("Authorization", token)
	if idempotencyKey != "" {
		req.Header.Set(idempotencyKeyHeader, idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &commerce.Error{Kind: commerce.KindNetworkFailure, Op: cl.op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &commerce.Error{Kind: commerce.KindNetworkFailure, Op: cl.op, Status: resp.StatusCode, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			return &commerce.Error{Kind: commerce.KindServer, Op: cl.op, Status: resp.StatusCode, Message: "malformed response envelope", Err: decodeErr}
		}
		if !env.Success {
			return envelopeError(commerce.KindDomainConflict, cl.op, resp.StatusCode, env)
		}
		if len(env.Data) == 0 || string(env.Data) == "null" {
			if cl.requireData {
				return &commerce.Error{Kind: commerce.KindServer, Op: cl.op, Status: resp.StatusCode, Message: "malformed response data: missing data"}
			}
			return nil
		}
		if cl.out == nil {
			return nil
		}
		if err := json.Unmarshal(env.Data, cl.out); err != nil {
			return &commerce.Error{Kind: commerce.KindServer, Op: cl.op, Status: resp.StatusCode, Message: "malformed response data", Err: err}
		}
		return nil
	}

	if decodeErr != nil {
		env = envelope{Message: strings.TrimSpace(string(raw))}
	}
	return envelopeError(kindForStatus(resp.StatusCode), cl.op, resp.StatusCode, env)
}

func kindForStatus(status int) commerce.ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return commerce.KindAuthenticationRequired
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return commerce.KindValidation
	case status == http.StatusForbidden, status == http.StatusNotFound, status == http.StatusConflict:
		return commerce.KindDomainConflict
	default:
		return commerce.KindServer
	}
}

func envelopeError(kind commerce.ErrorKind, op string, status int, env envelope) *commerce.Error {
	e := &commerce.Error{
		Kind:    kind,
		Op:      op,
		Status:  status,
		Code:    env.Code,
		Message: env.Message,
		Fields:  decodeFieldErrors(env.Errors),
	}
	if e.Message == "" && len(e.Fields) > 0 {
		e.Message = firstFieldMessage(e.Fields)
	}
	return e
}

// decodeFieldErrors accepts both {"field": ["msg"]} and ["msg"] shapes.
func decodeFieldErrors(raw json.RawMessage) map[string][]string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var byField map[string][]string
	if err := json.Unmarshal(raw, &byField); err == nil {
		return byField
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return map[string][]string{"": list}
	}
	return nil
}

func firstFieldMessage(fields map[string][]string) string {
	for field, msgs := range fields {
		if len(msgs) == 0 {
			continue
		}
		if field == "" {
			return msgs[0]
		}
		return fmt.Sprintf("%s: %s", field, msgs[0])
	}
	return ""
}

// IsRetryable reports whether a read failing with err would be retried.
func IsRetryable(err error) bool {
	var e *commerce.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == commerce.KindNetworkFailure || e.Kind == commerce.KindServer
}
