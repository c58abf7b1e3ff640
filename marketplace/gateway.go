package marketplace

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-marketplace-state/marketplace/config"
	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

// Handlers serve the session's caches and operations over HTTP.
type Handlers struct {
	session *Session
	idp     commerce.IdentityProvider
	logger  *slog.Logger

	// checkCaller is set when an auth middleware sits in front of the routes.
	checkCaller bool
}

func NewHandlers(session *Session, idp commerce.IdentityProvider, checkCaller bool, logger *slog.Logger) *Handlers {
	return &Handlers{
		session:     session,
		idp:         idp,
		logger:      logger.With("component", "GatewayHandlers"),
		checkCaller: checkCaller,
	}
}

// Gateway is the local HTTP surface a UI shell talks to.
type Gateway struct {
	*microservice.BaseServer
	logger *slog.Logger
}

// NewGateway registers the routes. authMiddleware may be nil.
func NewGateway(
	cfg *config.Config,
	session *Session,
	idp commerce.IdentityProvider,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) *Gateway {
	g := &Gateway{
		BaseServer: microservice.NewBaseServer(logger, cfg.ListenAddr),
		logger:     logger.With("component", "Gateway"),
	}
	h := NewHandlers(session, idp, authMiddleware != nil, logger)
	if authMiddleware == nil {
		authMiddleware = func(next http.Handler) http.Handler { return next }
	}

	mux := g.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("GET /api/v1/state/{component}", h.GetState)

	handle("POST /api/v1/purchases", h.Purchase)
	handle("POST /api/v1/purchases/batch", h.PurchaseBatch)

	handle("POST /api/v1/cart/{projectId}", h.AddToCart)
	handle("DELETE /api/v1/cart/{projectId}", h.RemoveFromCart)
	handle("DELETE /api/v1/cart", h.ClearCart)

	handle("POST /api/v1/favorites/{projectId}/toggle", h.ToggleFavorite)

	handle("POST /api/v1/notifications/{id}/read", h.MarkNotificationRead)
	handle("POST /api/v1/notifications/read-all", h.MarkAllNotificationsRead)

	// CORS preflight
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return g
}

func (g *Gateway) Start() error {
	g.SetReady(true)
	g.logger.Info("Gateway is now ready.")
	return g.BaseServer.Start()
}

// --- State ---

func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	switch r.PathValue("component") {
	case "purchases":
		writeJSON(w, http.StatusOK, h.session.Purchases.Snapshot())
	case "cart":
		writeJSON(w, http.StatusOK, h.session.Cart.Snapshot())
	case "favorites":
		writeJSON(w, http.StatusOK, h.session.Favorites.Snapshot())
	case "notifications":
		writeJSON(w, http.StatusOK, h.session.Notifications.Snapshot())
	default:
		response.WriteJSONError(w, http.StatusNotFound, "unknown component")
	}
}

// --- Purchases ---

func (h *Handlers) Purchase(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	var body commerce.PurchaseRequest
	if !decodeBody(w, r, &body) {
		return
	}
	p, err := h.session.Purchases.Purchase(r.Context(), body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) PurchaseBatch(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	var body commerce.BatchPurchaseRequest
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.session.Purchases.PurchaseBatch(r.Context(), body.Items, body.PaymentMethod)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// maxRequestBodyBytes caps JSON request bodies.
const maxRequestBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.WriteJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// --- Cart ---

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	h.withProjectID(w, r, func(id int64) error { return h.session.Cart.Add(r.Context(), id) })
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	h.withProjectID(w, r, func(id int64) error { return h.session.Cart.Remove(r.Context(), id) })
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if err := h.session.Cart.Clear(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Favorites ---

func (h *Handlers) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	id, ok := pathID(w, r, "projectId")
	if !ok {
		return
	}
	on, err := h.session.Favorites.Toggle(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favorite": on})
}

// --- Notifications ---

func (h *Handlers) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.session.Notifications.MarkAsRead(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if err := h.session.Notifications.MarkAllAsRead(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// authorize requires a signed-in session and, behind an auth middleware, that the
// caller is the same user the caches belong to.
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request) bool {
	user, ok := h.idp.CurrentUser()
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "not signed in")
		return false
	}
	if !h.checkCaller {
		return true
	}
	handle, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if handle != user.ID {
		h.logger.Warn("Gateway caller does not own this session", "caller", handle, "user_id", user.ID)
		response.WriteJSONError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func (h *Handlers) withProjectID(w http.ResponseWriter, r *http.Request, fn func(int64) error) {
	if !h.authorize(w, r) {
		return
	}
	id, ok := pathID(w, r, "projectId")
	if !ok {
		return
	}
	if err := fn(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var status int
	switch commerce.KindOf(err) {
	case commerce.KindAuthenticationRequired:
		status = http.StatusUnauthorized
	case commerce.KindValidation:
		status = http.StatusBadRequest
	case commerce.KindDomainConflict:
		status = http.StatusConflict
	case commerce.KindNetworkFailure, commerce.KindServer:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Gateway request failed", "err", err)
	}
	msg := err.Error()
	var ce *commerce.Error
	if errors.As(err, &ce) {
		msg = ce.Message
		if ce.Code != "" {
			msg = ce.Code + ": " + msg
		}
		if msg == "" {
			msg = ce.Kind.String()
		}
	}
	response.WriteJSONError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
