package push

import (
	"sync"

	"PPLink/tools/clock"
	"PPLink/tools/ids"

	"go.uber.org/zap"
)

// ===== 配置 =====

type RegistryConf struct {
	Clock clock.Clock   // nil => clock.Real
	IDs   ids.Generator // nil => snowflake on node 1
	Log   *zap.Logger   // nil => zap.NewNop
}

func (c *RegistryConf) norm() {
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.IDs == nil {
		c.IDs = ids.NewSnowflake(1)
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
}

// Registry is the authoritative map from connection id and from user id to
// the open connections, and the broadcaster that fans events out over them.
// Index mutation happens under mu; writes to sinks never do.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Connection            // connID -> conn
	byUser map[string]map[string]*Connection // userID -> (connID -> conn)
	closed bool

	conf RegistryConf
	log  *zap.Logger
}

func NewRegistry(conf RegistryConf) *Registry {
	conf.norm()
	return &Registry{
		byConn: make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
		conf:   conf,
		log:    conf.Log.Named("registry"),
	}
}

// Register allocates a connection for sink and indexes it under owner when
// owner is non-empty. It never fails; after Shutdown the returned connection
// is already closed.
func (r *Registry) Register(owner string, hints DeviceHints, sink Sink) *Connection {
	if hints.Class == "" {
		hints.Class = DefaultDeviceClass
	}
	c := newConnection(r.conf.IDs.New(), owner, hints, sink, r.conf.Clock.Now())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		c.close()
		return c
	}
	r.byConn[c.id] = c
	if owner != "" {
		mm := r.byUser[owner]
		if mm == nil {
			mm = make(map[string]*Connection)
			r.byUser[owner] = mm
		}
		mm[c.id] = c
	}
	r.mu.Unlock()

	r.log.Info("connection registered",
		zap.String("conn_id", c.id),
		zap.String("user_id", owner),
		zap.String("device", string(hints.Class)),
		zap.String("transport", hints.Transport))
	return c
}

// Remove drops connID from both indices and closes it. Unknown or already
// removed ids are ignored.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	c, ok := r.byConn[connID]
	if ok {
		r.unindexLocked(c)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	// close outside the lock: it may wait on a slow transport
	c.close()
	r.log.Info("connection removed", zap.String("conn_id", connID), zap.String("user_id", c.owner))
}

func (r *Registry) unindexLocked(c *Connection) {
	delete(r.byConn, c.id)
	if c.owner == "" {
		return
	}
	if mm := r.byUser[c.owner]; mm != nil {
		delete(mm, c.id)
		if len(mm) == 0 {
			delete(r.byUser, c.owner)
		}
	}
}

// Lookup returns the live connection with id connID.
func (r *Registry) Lookup(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byConn[connID]
	return c, ok
}

// UserConnections lists the ids of userID's open connections.
func (r *Registry) UserConnections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mm := r.byUser[userID]
	out := make([]string, 0, len(mm))
	for id := range mm {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// snapshot copies the connection list so callers can iterate without holding mu.
func (r *Registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, c)
	}
	return out
}

// SendToConnection delivers ev on connID. A missing connection is a no-op
// returning false; a write failure evicts the connection.
func (r *Registry) SendToConnection(connID string, ev Event) bool {
	c, ok := r.Lookup(connID)
	if !ok {
		return false
	}
	return r.deliver(c, ev)
}

// BroadcastToUser delivers ev independently to every connection indexed
// under userID when the call starts. Returns the number of successful writes.
func (r *Registry) BroadcastToUser(userID string, ev Event) int {
	if userID == "" {
		return 0
	}
	r.mu.RLock()
	mm := r.byUser[userID]
	targets := make([]*Connection, 0, len(mm))
	for _, c := range mm {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if r.deliver(c, ev) {
			n++
		}
	}
	return n
}

// BroadcastToUsers fans ev out to every connection of every listed user.
// Duplicate and empty user ids are dropped first.
func (r *Registry) BroadcastToUsers(userIDs []string, ev Event) int {
	seen := make(map[string]struct{}, len(userIDs))
	n := 0
	for _, u := range userIDs {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		n += r.BroadcastToUser(u, ev)
	}
	return n
}

func (r *Registry) deliver(c *Connection, ev Event) bool {
	seq, err := c.deliver(ev)
	if err == nil {
		return true
	}
	if err == errConnClosed {
		// removed while we were iterating; skip it
		return false
	}
	r.log.Warn("delivery failed, evicting connection",
		zap.String("conn_id", c.id),
		zap.String("kind", ev.Kind),
		zap.Uint64("seq", seq),
		zap.Error(err))
	r.Remove(c.id)
	return false
}

// Shutdown closes every connection. Later Register calls return closed
// connections.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	all := make([]*Connection, 0, len(r.byConn))
	for _, c := range r.byConn {
		all = append(all, c)
	}
	r.byConn = map[string]*Connection{}
	r.byUser = map[string]map[string]*Connection{}
	r.mu.Unlock()

	for _, c := range all {
		c.close()
	}
	r.log.Info("registry shut down", zap.Int("closed", len(all)))
}
