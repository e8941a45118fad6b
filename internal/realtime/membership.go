package realtime

import "sync"

type groupShard struct {
	mu     sync.RWMutex
	groups map[string]map[string]struct{} // group key -> set of connection ids
}

// Membership maps group keys to the connection ids subscribed to them.
// Groups are sharded by key so joins on unrelated groups never contend.
// The reverse index (connection -> groups) is owned by the Registry.
type Membership struct {
	shards [shardCount]groupShard
}

func NewMembership() *Membership {
	m := &Membership{}
	for i := range m.shards {
		m.shards[i].groups = make(map[string]map[string]struct{})
	}
	return m
}

func (m *Membership) shard(group string) *groupShard {
	return &m.shards[shardIndex(group)]
}

// Join adds connID to group. Joining twice is a no-op.
func (m *Membership) Join(connID, group string) {
	s := m.shard(group)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.groups[group]
	if !ok {
		members = make(map[string]struct{})
		s.groups[group] = members
	}
	members[connID] = struct{}{}
}

// Leave removes connID from group. Empty groups are dropped.
func (m *Membership) Leave(connID, group string) {
	s := m.shard(group)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.groups[group]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(s.groups, group)
	}
}

// MembersOf returns a copy of the group's member ids. Unknown groups yield
// an empty slice.
func (m *Membership) MembersOf(group string) []string {
	s := m.shard(group)
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.groups[group]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Purge removes connID from each of the given groups.
func (m *Membership) Purge(connID string, groups []string) {
	for _, g := range groups {
		m.Leave(connID, g)
	}
}

// GroupCount reports how many non-empty groups exist.
func (m *Membership) GroupCount() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.groups)
		s.mu.RUnlock()
	}
	return n
}
