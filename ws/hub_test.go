package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyplanner/eventkit/pkg/logger"
	"github.com/skyplanner/eventkit/ws"
)

const testSigningSecret = "hub-test-signing-secret"

func signToken(t *testing.T, userID, orgID int64, email, jti string) string {
	t.Helper()
	claims := &ws.Claims{
		UserID:         userID,
		OrganizationID: orgID,
		Email:          email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningSecret))
	require.NoError(t, err)
	return signed
}

func newHubServer(t *testing.T, opts ...ws.HubOption) (*ws.Hub, *httptest.Server) {
	t.Helper()
	verifier, err := ws.NewTokenVerifier(testSigningSecret)
	require.NoError(t, err)

	registry := ws.NewRegistry(ws.WithPingInterval(0), ws.WithRegistryLogger(logger.Noop()))
	hub := ws.NewHub(verifier, registry, ws.NewPresence(),
		append([]ws.HubOption{ws.WithHubLogger(logger.Noop())}, opts...)...)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialHub(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Cookie", ws.CookieName+"="+token)
	conn, resp, err := websocket.DefaultDialer.Dial(
		strings.Replace(srv.URL, "http", "ws", 1), header)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestHubRejectsUnauthenticated(t *testing.T) {
	t.Parallel()

	_, srv := newHubServer(t)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Cookie", ws.CookieName+"=not.a.token")
	_, dialResp, err := websocket.DefaultDialer.Dial(strings.Replace(srv.URL, "http", "ws", 1), header)
	require.Error(t, err)
	require.NotNil(t, dialResp)
	defer dialResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, dialResp.StatusCode)
}

type fakeBlacklist struct{ revoked map[string]bool }

func (f fakeBlacklist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	return f.revoked[tokenID], nil
}

func TestHubRejectsRevokedToken(t *testing.T) {
	t.Parallel()

	_, srv := newHubServer(t, ws.WithBlacklist(fakeBlacklist{revoked: map[string]bool{"dead": true}}))

	header := http.Header{}
	header.Set("Cookie", ws.CookieName+"="+signToken(t, 7, 1, "kari@example.com", "dead"))
	_, resp, err := websocket.DefaultDialer.Dial(strings.Replace(srv.URL, "http", "ws", 1), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A token with a different ID still connects.
	conn := dialHub(t, srv, signToken(t, 7, 1, "kari@example.com", "alive"))
	assert.Equal(t, ws.TypeConnected, readEnvelope(t, conn)["type"])
}

// envelopeData unwraps the data object every server push carries.
func envelopeData(t *testing.T, env map[string]any) map[string]any {
	t.Helper()
	data, ok := env["data"].(map[string]any)
	require.True(t, ok, "push %v must carry a data object", env)
	return data
}

func TestHubConnectedHandshake(t *testing.T) {
	t.Parallel()

	_, srv := newHubServer(t)
	conn := dialHub(t, srv, signToken(t, 7, 1, "kari@example.com", "jti-1"))

	env := readEnvelope(t, conn)
	assert.Equal(t, ws.TypeConnected, env["type"])
	data := envelopeData(t, env)
	assert.Equal(t, float64(7), data["userId"])
	assert.Equal(t, "kari", data["userName"])
	assert.Equal(t, "KA", data["initials"])
	assert.Empty(t, data["presence"])
}

func TestHubClaimReleaseFlow(t *testing.T) {
	t.Parallel()

	_, srv := newHubServer(t)
	kari := dialHub(t, srv, signToken(t, 7, 1, "kari.nordmann@example.com", "jti-kari"))
	ola := dialHub(t, srv, signToken(t, 8, 1, "ola@example.com", "jti-ola"))
	outsider := dialHub(t, srv, signToken(t, 9, 2, "per@example.com", "jti-per"))
	readEnvelope(t, kari)
	readEnvelope(t, ola)
	readEnvelope(t, outsider)

	sendJSON(t, kari, map[string]any{"type": ws.TypeClaimCustomer, "kundeId": 42})

	for _, conn := range []*websocket.Conn{kari, ola} {
		env := readEnvelope(t, conn)
		require.Equal(t, ws.TypeCustomerClaimed, env["type"])
		data := envelopeData(t, env)
		assert.Equal(t, float64(42), data["kundeId"])
		assert.Equal(t, float64(7), data["userId"])
		assert.Equal(t, "kari.nordmann", data["userName"])
		assert.Equal(t, "KN", data["initials"])
		assert.NotEmpty(t, data["claimedAt"])
	}

	// The other tenant saw nothing: its next frame is the pong for its
	// own ping, not the claim.
	sendJSON(t, outsider, map[string]any{"type": ws.TypePing})
	assert.Equal(t, ws.TypePong, readEnvelope(t, outsider)["type"])

	// A non-owner release is silently ignored.
	sendJSON(t, ola, map[string]any{"type": ws.TypeReleaseCustomer, "kundeId": 42})
	sendJSON(t, ola, map[string]any{"type": ws.TypePing})
	assert.Equal(t, ws.TypePong, readEnvelope(t, ola)["type"])

	// The owner's release reaches the whole tenant and names the
	// releasing user.
	sendJSON(t, kari, map[string]any{"type": ws.TypeReleaseCustomer, "kundeId": 42})
	for _, conn := range []*websocket.Conn{kari, ola} {
		env := readEnvelope(t, conn)
		assert.Equal(t, ws.TypeCustomerReleased, env["type"])
		data := envelopeData(t, env)
		assert.Equal(t, float64(42), data["kundeId"])
		assert.Equal(t, float64(7), data["userId"])
	}
}

func TestHubHandshakeIncludesExistingClaims(t *testing.T) {
	t.Parallel()

	_, srv := newHubServer(t)
	kari := dialHub(t, srv, signToken(t, 7, 1, "kari@example.com", "jti-kari"))
	readEnvelope(t, kari)
	sendJSON(t, kari, map[string]any{"type": ws.TypeClaimCustomer, "kundeId": 42})
	readEnvelope(t, kari)

	late := dialHub(t, srv, signToken(t, 8, 1, "ola@example.com", "jti-ola"))
	env := readEnvelope(t, late)
	require.Equal(t, ws.TypeConnected, env["type"])
	presence := envelopeData(t, env)["presence"].([]any)
	require.Len(t, presence, 1)
	entry := presence[0].(map[string]any)
	assert.Equal(t, float64(42), entry["kundeId"])
	assert.Equal(t, float64(7), entry["userId"])
	assert.Equal(t, "kari", entry["userName"])
}

func TestHubTypingBroadcastExcludesSender(t *testing.T) {
	t.Parallel()

	_, srv := newHubServer(t)
	kari := dialHub(t, srv, signToken(t, 7, 1, "kari@example.com", "jti-kari"))
	ola := dialHub(t, srv, signToken(t, 8, 1, "ola@example.com", "jti-ola"))
	readEnvelope(t, kari)
	readEnvelope(t, ola)

	sendJSON(t, kari, map[string]any{"type": ws.TypeTypingStart, "conversationId": 5})

	// The inbound chat_typing_start fans out as chat_typing.
	env := readEnvelope(t, ola)
	assert.Equal(t, ws.TypeTyping, env["type"])
	data := envelopeData(t, env)
	assert.Equal(t, float64(5), data["conversationId"])
	assert.Equal(t, float64(7), data["userId"])
	assert.Equal(t, "kari", data["userName"])

	sendJSON(t, kari, map[string]any{"type": ws.TypeTypingStop, "conversationId": 5})
	env = readEnvelope(t, ola)
	assert.Equal(t, ws.TypeTypingStop, env["type"])

	// The sender never hears its own typing echo.
	sendJSON(t, kari, map[string]any{"type": ws.TypePing})
	assert.Equal(t, ws.TypePong, readEnvelope(t, kari)["type"])
}

func TestHubIdempotentClaimBroadcastsOnce(t *testing.T) {
	t.Parallel()

	_, srv := newHubServer(t)
	kari := dialHub(t, srv, signToken(t, 7, 1, "kari@example.com", "jti-kari"))
	ola := dialHub(t, srv, signToken(t, 8, 1, "ola@example.com", "jti-ola"))
	readEnvelope(t, kari)
	readEnvelope(t, ola)

	sendJSON(t, kari, map[string]any{"type": ws.TypeClaimCustomer, "kundeId": 42})
	sendJSON(t, kari, map[string]any{"type": ws.TypeClaimCustomer, "kundeId": 42})

	require.Equal(t, ws.TypeCustomerClaimed, readEnvelope(t, ola)["type"])

	// The identical re-claim is a no-op: the observer's next frame is
	// the pong for its own ping, not a second customer_claimed.
	sendJSON(t, ola, map[string]any{"type": ws.TypePing})
	assert.Equal(t, ws.TypePong, readEnvelope(t, ola)["type"])

	// Re-claiming under a new name is a real change and fans out again.
	sendJSON(t, kari, map[string]any{"type": ws.TypeClaimCustomer, "kundeId": 42, "userName": "Kari Nordmann"})
	env := readEnvelope(t, ola)
	require.Equal(t, ws.TypeCustomerClaimed, env["type"])
	assert.Equal(t, "Kari Nordmann", envelopeData(t, env)["userName"])
}

func TestHubApplicationBroadcast(t *testing.T) {
	t.Parallel()

	hub, srv := newHubServer(t)
	kari := dialHub(t, srv, signToken(t, 7, 1, "kari@example.com", "jti-kari"))
	ola := dialHub(t, srv, signToken(t, 8, 1, "ola@example.com", "jti-ola"))
	outsider := dialHub(t, srv, signToken(t, 9, 2, "per@example.com", "jti-per"))
	readEnvelope(t, kari)
	readEnvelope(t, ola)
	readEnvelope(t, outsider)

	require.NoError(t, hub.Broadcast(1, "kunde_created", map[string]any{"id": 99}, 0))
	for _, conn := range []*websocket.Conn{kari, ola} {
		env := readEnvelope(t, conn)
		require.Equal(t, "kunde_created", env["type"])
		assert.Equal(t, float64(99), envelopeData(t, env)["id"])
	}

	// The other tenant saw nothing.
	sendJSON(t, outsider, map[string]any{"type": ws.TypePing})
	assert.Equal(t, ws.TypePong, readEnvelope(t, outsider)["type"])

	// Excluding a user suppresses the event on their connections only.
	require.NoError(t, hub.Broadcast(1, "kunde_updated", map[string]any{"id": 99}, 7))
	assert.Equal(t, "kunde_updated", readEnvelope(t, ola)["type"])
	sendJSON(t, kari, map[string]any{"type": ws.TypePing})
	assert.Equal(t, ws.TypePong, readEnvelope(t, kari)["type"])
}

func TestHubSendToUser(t *testing.T) {
	t.Parallel()

	hub, srv := newHubServer(t)
	kari := dialHub(t, srv, signToken(t, 7, 1, "kari@example.com", "jti-kari"))
	ola := dialHub(t, srv, signToken(t, 8, 1, "ola@example.com", "jti-ola"))
	readEnvelope(t, kari)
	readEnvelope(t, ola)

	require.NoError(t, hub.SendToUser(1, 7, "sync_completed", map[string]any{"routes": 3}))
	env := readEnvelope(t, kari)
	require.Equal(t, "sync_completed", env["type"])
	assert.Equal(t, float64(3), envelopeData(t, env)["routes"])

	// The other user's socket stays quiet.
	sendJSON(t, ola, map[string]any{"type": ws.TypePing})
	assert.Equal(t, ws.TypePong, readEnvelope(t, ola)["type"])
}

func TestHubDisconnectReleasesClaims(t *testing.T) {
	t.Parallel()

	_, srv := newHubServer(t)
	kari := dialHub(t, srv, signToken(t, 7, 1, "kari@example.com", "jti-kari"))
	ola := dialHub(t, srv, signToken(t, 8, 1, "ola@example.com", "jti-ola"))
	readEnvelope(t, kari)
	readEnvelope(t, ola)

	sendJSON(t, kari, map[string]any{"type": ws.TypeClaimCustomer, "kundeId": 42})
	readEnvelope(t, kari)
	readEnvelope(t, ola)

	require.NoError(t, kari.Close())

	// The dead session's claim is released, then the tenant learns the
	// user went offline.
	released := readEnvelope(t, ola)
	assert.Equal(t, ws.TypeCustomerReleased, released["type"])
	releasedData := envelopeData(t, released)
	assert.Equal(t, float64(42), releasedData["kundeId"])
	assert.Equal(t, float64(7), releasedData["userId"])

	offline := readEnvelope(t, ola)
	assert.Equal(t, ws.TypeUserOffline, offline["type"])
	offlineData := envelopeData(t, offline)
	assert.Equal(t, float64(7), offlineData["userId"])
	assert.Equal(t, "kari", offlineData["userName"])
}

func TestHubRateLimitDropsExcess(t *testing.T) {
	t.Parallel()

	_, srv := newHubServer(t)
	conn := dialHub(t, srv, signToken(t, 7, 1, "kari@example.com", "jti-1"))
	readEnvelope(t, conn)

	for i := 0; i < 12; i++ {
		sendJSON(t, conn, map[string]any{"type": ws.TypePing})
	}

	pongs := 0
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var env map[string]any
		require.NoError(t, json.Unmarshal(data, &env))
		if env["type"] == ws.TypePong {
			pongs++
		}
	}
	assert.Equal(t, 10, pongs, "only the burst limit of pings may be answered")
}

func TestHubShutdown(t *testing.T) {
	t.Parallel()

	hub, srv := newHubServer(t)
	conn := dialHub(t, srv, signToken(t, 7, 1, "kari@example.com", "jti-1"))
	readEnvelope(t, conn)

	require.NoError(t, hub.Shutdown(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "Server shutting down", closeErr.Text)

	// New upgrades are refused once shutdown started.
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Application pushes report the closed hub instead of going nowhere.
	assert.ErrorIs(t, hub.Broadcast(1, "kunde_created", nil, 0), ws.ErrHubClosed)
	assert.ErrorIs(t, hub.SendToUser(1, 7, "kunde_created", nil), ws.ErrHubClosed)
}
