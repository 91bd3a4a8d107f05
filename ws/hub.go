package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyplanner/eventkit/pkg/audit"
	"github.com/skyplanner/eventkit/pkg/clientip"
)

// Hub is the websocket entry point: it authenticates upgrades, routes
// client messages, and fans events out inside each tenant.
type Hub struct {
	verifier  Verifier
	blacklist Blacklist
	registry  *Registry
	presence  *Presence
	upgrader  websocket.Upgrader
	log       *slog.Logger
	audit     *audit.Logger
	clock     func() time.Time
	closed    atomic.Bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBlacklist enables token revocation checks on upgrade.
func WithBlacklist(b Blacklist) HubOption {
	return func(h *Hub) { h.blacklist = b }
}

// WithHubLogger sets the hub logger.
func WithHubLogger(log *slog.Logger) HubOption {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// WithAuditLogger records connection lifecycle events to the audit log.
func WithAuditLogger(a *audit.Logger) HubOption {
	return func(h *Hub) { h.audit = a }
}

// WithHubClock overrides the time source. Used in tests.
func WithHubClock(clock func() time.Time) HubOption {
	return func(h *Hub) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithAllowedOrigins restricts upgrades to the given Origin values.
// Without it, requests that carry no Origin header are accepted and
// browser requests must be same-origin.
func WithAllowedOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// NewHub creates a Hub on top of the given registry and presence
// tracker.
func NewHub(verifier Verifier, registry *Registry, presence *Presence, opts ...HubOption) *Hub {
	h := &Hub{
		verifier: verifier,
		registry: registry,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:   slog.Default(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and runs the connection until the peer
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	claims, err := h.authenticate(r)
	if err != nil {
		h.denyUpgrade(ctx, r, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.log.DebugContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}

	userName := displayName(claims.Email, claims.UserID)
	conn := NewConn(sock, claims.UserID, claims.OrganizationID, userName, h.clock())
	sock.SetPongHandler(func(string) error {
		conn.PongReceived()
		return nil
	})

	h.registry.Register(conn)
	if h.audit != nil {
		h.audit.Log(ctx, audit.ActionConnectionOpened,
			audit.WithOrganization(strconv.FormatInt(claims.OrganizationID, 10)),
			audit.WithUser(strconv.FormatInt(claims.UserID, 10)),
			audit.WithIP(clientip.FromRequest(r)))
	}

	h.sendConnected(conn)
	h.readPump(conn, sock)
	h.teardown(context.WithoutCancel(ctx), conn)
}

func (h *Hub) authenticate(r *http.Request) (*Claims, error) {
	token, err := tokenFromRequest(r)
	if err != nil {
		return nil, err
	}
	claims, err := h.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	if h.blacklist != nil {
		revoked, err := h.blacklist.IsRevoked(r.Context(), claims.ID)
		if err != nil {
			// Revocation storage being down must not sever every live
			// session path, so the check degrades to the token expiry.
			h.log.WarnContext(r.Context(), "blacklist check failed",
				slog.Int64("user_id", claims.UserID), slog.Any("error", err))
		} else if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

func (h *Hub) denyUpgrade(ctx context.Context, r *http.Request, err error) {
	h.log.InfoContext(ctx, "websocket upgrade denied", slog.Any("error", err))
	if h.audit != nil {
		h.audit.LogFailure(ctx, audit.ActionUpgradeDenied, err.Error(),
			audit.WithIP(clientip.FromRequest(r)))
	}
}

// sendConnected pushes the handshake: who the session belongs to plus
// every claim currently held in the tenant.
func (h *Hub) sendConnected(conn *Conn) {
	claims := h.presence.Snapshot(conn.OrganizationID)
	presence := make([]claimData, 0, len(claims))
	for _, c := range claims {
		presence = append(presence, c.data())
	}
	msg := Outbound{
		Type:    TypeConnected,
		Message: "Connected",
		Data: connectedData{
			UserID:   conn.UserID,
			UserName: conn.UserName,
			Initials: Initials(conn.UserName),
			Presence: presence,
		},
	}
	if err := conn.Send(mustMarshal(msg)); err != nil {
		h.log.Debug("handshake write failed", slog.Any("error", err))
	}
}

// readPump consumes client frames until the socket errors out. Frames
// over the rate limit and frames that fail to decode are dropped without
// feedback, matching what a hostile or buggy client deserves.
func (h *Hub) readPump(conn *Conn, sock *websocket.Conn) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		now := h.clock()
		if !conn.allowMessage(now) {
			continue
		}
		msg, err := Decode(data)
		if err != nil {
			continue
		}
		h.handle(conn, msg, now)
	}
}

func (h *Hub) handle(conn *Conn, msg *Inbound, now time.Time) {
	orgID := conn.OrganizationID
	switch msg.Type {
	case TypePing:
		if err := conn.Send(mustMarshal(Outbound{Type: TypePong})); err != nil {
			h.log.Debug("pong write failed", slog.Any("error", err))
		}

	case TypeClaimCustomer:
		name := msg.UserName
		if name == "" {
			name = conn.UserName
		}
		claim, changed := h.presence.Claim(orgID, Claim{
			KundeID:   msg.KundeID,
			UserID:    conn.UserID,
			UserName:  name,
			Initials:  Initials(name),
			SessionID: conn.SessionID,
			ClaimedAt: now,
		})
		if !changed {
			// The holder re-claimed with identical attributes; observers
			// already render this state.
			return
		}
		h.registry.Broadcast(orgID, envelope(TypeCustomerClaimed, claim.data()), 0)

	case TypeReleaseCustomer:
		if err := h.presence.Release(orgID, msg.KundeID, conn.UserID); err != nil {
			// Not the owner; the claim stands and the sender gets nothing.
			return
		}
		h.registry.Broadcast(orgID, envelope(TypeCustomerReleased, releaseData{
			KundeID: msg.KundeID,
			UserID:  conn.UserID,
		}), 0)

	case TypeTypingStart, TypeTypingStop:
		outType := TypeTyping
		if msg.Type == TypeTypingStop {
			outType = TypeTypingStop
		}
		h.registry.Broadcast(orgID, envelope(outType, typingData{
			ConversationID: msg.ConversationID,
			UserID:         conn.UserID,
			UserName:       conn.UserName,
		}), conn.UserID)
	}
}

// teardown runs once the read pump exits: drop the connection, release
// its claims so customers are not stuck locked to a dead session, and
// tell the tenant the user went offline.
func (h *Hub) teardown(ctx context.Context, conn *Conn) {
	conn.CloseWith(websocket.CloseNormalClosure, "")
	h.registry.Unregister(conn)

	for _, kundeID := range h.presence.ReleaseAll(conn.OrganizationID, conn.UserID) {
		h.registry.Broadcast(conn.OrganizationID, envelope(TypeCustomerReleased, releaseData{
			KundeID: kundeID,
			UserID:  conn.UserID,
		}), 0)
	}
	if !h.registry.UserOnline(conn.OrganizationID, conn.UserID) {
		h.registry.Broadcast(conn.OrganizationID, envelope(TypeUserOffline, offlineData{
			UserID:   conn.UserID,
			UserName: conn.UserName,
		}), conn.UserID)
	}
	if h.audit != nil {
		h.audit.Log(ctx, audit.ActionConnectionClosed,
			audit.WithOrganization(strconv.FormatInt(conn.OrganizationID, 10)),
			audit.WithUser(strconv.FormatInt(conn.UserID, 10)))
	}
}

// Broadcast pushes an application event as a {type, data} envelope to
// every connection in the tenant, serializing once. A non-zero
// excludeUserID skips that user's connections. Returns ErrHubClosed
// after Shutdown.
func (h *Hub) Broadcast(orgID int64, msgType string, data any, excludeUserID int64) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	payload, err := json.Marshal(Outbound{Type: msgType, Data: data})
	if err != nil {
		return fmt.Errorf("marshal broadcast payload: %w", err)
	}
	h.registry.Broadcast(orgID, payload, excludeUserID)
	return nil
}

// SendToUser pushes a {type, data} envelope to every connection one
// user has in the tenant. Returns ErrHubClosed after Shutdown.
func (h *Hub) SendToUser(orgID, userID int64, msgType string, data any) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	payload, err := json.Marshal(Outbound{Type: msgType, Data: data})
	if err != nil {
		return fmt.Errorf("marshal user payload: %w", err)
	}
	h.registry.SendToUser(orgID, userID, payload)
	return nil
}

// Shutdown refuses new upgrades and closes every live connection with a
// going-away frame.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.closed.Store(true)
	done := make(chan struct{})
	go func() {
		h.registry.CloseAll(websocket.CloseGoingAway, "Server shutting down")
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
