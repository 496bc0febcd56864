// Package hub tracks live relay connections per user and multicasts frames
// to them.
//
// Each user's connections form a group guarded by its own mutex, so
// registration, removal and broadcast on one group are mutually exclusive
// while different users never contend beyond a short map lookup. Delivery
// happens under the group lock: once Deregister returns, no later broadcast
// reaches the removed connection.
package hub

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/septivank/water-meter-relay/internal/metrics"
)

var (
	// ErrConnectionClosed is returned by Conn.Send after the connection is gone
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Conn.Send when the peer is not keeping up
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is a connection handle that frames can be queued on.
// Send must not block on network I/O.
type Conn interface {
	ID() string
	Send(frame []byte) error
}

type group struct {
	mu    sync.Mutex
	conns map[Conn]struct{}
	// pruned is set once the group has been removed from the registry map;
	// a registrant holding a stale pointer must look the group up again.
	pruned bool
}

// Registry maps user identities to their active connections
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*group
	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		groups: make(map[string]*group),
		logger: logger,
	}
}

// Register adds conn to identity's group, creating the group if needed
func (r *Registry) Register(identity string, conn Conn) {
	for {
		g := r.groupFor(identity)

		g.mu.Lock()
		if g.pruned {
			g.mu.Unlock()
			continue
		}
		g.conns[conn] = struct{}{}
		g.mu.Unlock()
		return
	}
}

func (r *Registry) groupFor(identity string) *group {
	r.mu.RLock()
	g, ok := r.groups[identity]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok = r.groups[identity]; !ok {
		g = &group{conns: make(map[Conn]struct{})}
		r.groups[identity] = g
	}
	return g
}

func (r *Registry) lookup(identity string) *group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[identity]
}

// Deregister removes conn from identity's group. Removing a connection that
// was never registered is a no-op. Empty groups are pruned.
func (r *Registry) Deregister(identity string, conn Conn) {
	g := r.lookup(identity)
	if g == nil {
		return
	}

	g.mu.Lock()
	delete(g.conns, conn)
	prune := len(g.conns) == 0 && !g.pruned
	if prune {
		g.pruned = true
	}
	g.mu.Unlock()

	if prune {
		r.mu.Lock()
		if r.groups[identity] == g {
			delete(r.groups, identity)
		}
		r.mu.Unlock()
	}
}

// Broadcast queues frame on every connection currently registered under identity.
// A failed delivery is logged and does not affect the rest of the group.
func (r *Registry) Broadcast(identity string, frame []byte) {
	g := r.lookup(identity)
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for conn := range g.conns {
		if err := conn.Send(frame); err != nil {
			metrics.RecordDelivery(metrics.DeliveryDropped)
			r.logger.Debug("broadcast delivery dropped",
				zap.String("user_id", identity),
				zap.String("connection_id", conn.ID()),
				zap.Error(err),
			)
			continue
		}
		metrics.RecordDelivery(metrics.DeliveryDelivered)
	}
}

// GroupSize returns the number of connections registered under identity
func (r *Registry) GroupSize(identity string) int {
	g := r.lookup(identity)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Groups returns the number of identities with at least one connection
func (r *Registry) Groups() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
