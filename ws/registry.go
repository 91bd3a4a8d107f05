package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// heartbeatInterval is how often each connection is pinged. A
	// connection that has not ponged since the previous tick is dropped,
	// bounding dead-peer detection to two intervals.
	heartbeatInterval = 30 * time.Second
	maxMissedPongs    = 1
)

// Registry holds the live connections grouped by tenant and runs the
// per-connection heartbeat.
type Registry struct {
	mu      sync.RWMutex
	tenants map[int64]map[*Conn]struct{}

	pingInterval time.Duration
	log          *slog.Logger
	wg           sync.WaitGroup
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPingInterval overrides the heartbeat interval. Zero disables the
// heartbeat entirely. Used in tests.
func WithPingInterval(d time.Duration) RegistryOption {
	return func(r *Registry) { r.pingInterval = d }
}

// WithRegistryLogger sets the logger for heartbeat drops.
func WithRegistryLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tenants:      make(map[int64]map[*Conn]struct{}),
		pingInterval: heartbeatInterval,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds the connection to its tenant set and starts its
// heartbeat.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	set, ok := r.tenants[c.OrganizationID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.tenants[c.OrganizationID] = set
	}
	set[c] = struct{}{}
	r.mu.Unlock()

	if r.pingInterval > 0 {
		r.wg.Add(1)
		go r.heartbeat(c)
	}
}

// Unregister removes the connection. Empty tenant sets are deleted so
// the map does not accumulate dead tenants.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.tenants[c.OrganizationID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.tenants, c.OrganizationID)
	}
}

// Broadcast sends data to every connection in the tenant. A non-zero
// excludeUserID skips every connection of that user, typically the
// sender avoiding its own echo. Connections that fail to write are left
// for their read pumps to reap.
func (r *Registry) Broadcast(orgID int64, data []byte, excludeUserID int64) {
	for _, c := range r.snapshot(orgID) {
		if excludeUserID != 0 && c.UserID == excludeUserID {
			continue
		}
		if err := c.Send(data); err != nil {
			r.log.Debug("broadcast write failed",
				slog.Int64("organization_id", orgID),
				slog.Int64("user_id", c.UserID),
				slog.Any("error", err))
		}
	}
}

// SendToUser sends data to every connection the user has in the tenant.
func (r *Registry) SendToUser(orgID, userID int64, data []byte) {
	for _, c := range r.snapshot(orgID) {
		if c.UserID != userID {
			continue
		}
		if err := c.Send(data); err != nil {
			r.log.Debug("user write failed",
				slog.Int64("organization_id", orgID),
				slog.Int64("user_id", userID),
				slog.Any("error", err))
		}
	}
}

// Count returns the number of live connections in a tenant.
func (r *Registry) Count(orgID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants[orgID])
}

// UserOnline reports whether the user still has another live connection
// in the tenant.
func (r *Registry) UserOnline(orgID, userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.tenants[orgID] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// CloseAll closes every connection with the given close code and reason,
// then waits for the heartbeats to stop. Used on shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.RLock()
	var conns []*Conn
	for _, set := range r.tenants {
		for c := range set {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.CloseWith(code, reason)
	}
	r.wg.Wait()
}

func (r *Registry) snapshot(orgID int64) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.tenants[orgID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// heartbeat pings the connection on each tick. The pong handler resets
// the missed counter; a tick that finds the previous ping unanswered
// means the peer is gone.
func (r *Registry) heartbeat(c *Conn) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.missed.Add(1) > maxMissedPongs {
				r.log.Debug("closing unresponsive connection",
					slog.Int64("organization_id", c.OrganizationID),
					slog.Int64("user_id", c.UserID))
				c.CloseWith(websocket.CloseGoingAway, "heartbeat timeout")
				return
			}
			if err := c.ping(); err != nil {
				c.CloseWith(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}
