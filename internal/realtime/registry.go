package realtime

import (
	"sync"
	"sync/atomic"
)

type entry struct {
	conn Conn

	mu      sync.Mutex
	groups  map[string]struct{}
	removed bool
}

type connShard struct {
	mu    sync.RWMutex
	conns map[string]*entry
}

// Registry is the authoritative set of live connections. It owns the
// per-connection reverse index of joined groups so that Unregister can purge
// memberships without scanning every group.
//
// Lock order is entry.mu before any Membership shard lock.
type Registry struct {
	shards  [shardCount]connShard
	members *Membership
	count   atomic.Int64
}

func NewRegistry() *Registry {
	r := &Registry{members: NewMembership()}
	for i := range r.shards {
		r.shards[i].conns = make(map[string]*entry)
	}
	return r
}

func (r *Registry) shard(id string) *connShard {
	return &r.shards[shardIndex(id)]
}

func (r *Registry) lookup(id string) *entry {
	s := r.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id]
}

// Register adds conn with an empty group set. Registering an id that is
// already live is a no-op and reports false.
func (r *Registry) Register(conn Conn) bool {
	s := r.shard(conn.ID())
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[conn.ID()]; ok {
		return false
	}
	s.conns[conn.ID()] = &entry{conn: conn, groups: make(map[string]struct{})}
	r.count.Add(1)
	return true
}

// Unregister removes the connection and purges it from every group it
// joined. Unknown ids are ignored.
func (r *Registry) Unregister(id string) (Conn, bool) {
	s := r.shard(id)
	s.mu.Lock()
	e, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil, false
	}
	r.count.Add(-1)

	e.mu.Lock()
	e.removed = true
	groups := make([]string, 0, len(e.groups))
	for g := range e.groups {
		groups = append(groups, g)
	}
	e.groups = nil
	e.mu.Unlock()

	r.members.Purge(id, groups)
	return e.conn, true
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// Join subscribes a live connection to group.
func (r *Registry) Join(id, group string) error {
	e := r.lookup(id)
	if e == nil {
		return ErrUnknownConnection
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return ErrUnknownConnection
	}
	e.groups[group] = struct{}{}
	r.members.Join(id, group)
	return nil
}

// JoinAll subscribes a connection to every group or to none of them.
func (r *Registry) JoinAll(id string, groups ...string) error {
	e := r.lookup(id)
	if e == nil {
		return ErrUnknownConnection
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return ErrUnknownConnection
	}
	for _, g := range groups {
		e.groups[g] = struct{}{}
		r.members.Join(id, g)
	}
	return nil
}

// Leave unsubscribes a connection from group. Leaving a group that was
// never joined, or leaving from a dropped connection, is a no-op.
func (r *Registry) Leave(id, group string) {
	e := r.lookup(id)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return
	}
	delete(e.groups, group)
	r.members.Leave(id, group)
}

// Groups returns the groups a connection currently belongs to.
func (r *Registry) Groups(id string) []string {
	e := r.lookup(id)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.groups))
	for g := range e.groups {
		out = append(out, g)
	}
	return out
}

// Members resolves a group to its live connections as of now.
func (r *Registry) Members(group string) []Conn {
	ids := r.members.MembersOf(group)
	out := make([]Conn, 0, len(ids))
	for _, id := range ids {
		if e := r.lookup(id); e != nil {
			out = append(out, e.conn)
		}
	}
	return out
}

// Snapshot returns every live connection.
func (r *Registry) Snapshot() []Conn {
	out := make([]Conn, 0, r.Count())
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, e := range s.conns {
			out = append(out, e.conn)
		}
		s.mu.RUnlock()
	}
	return out
}

func (r *Registry) Membership() *Membership {
	return r.members
}

// CloseAll unregisters and closes every live connection. Used at shutdown.
func (r *Registry) CloseAll() {
	for _, c := range r.Snapshot() {
		if conn, ok := r.Unregister(c.ID()); ok {
			_ = conn.Close()
		}
	}
}
