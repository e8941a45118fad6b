package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn()

	assert.True(t, r.Register(c))
	assert.False(t, r.Register(c))
	assert.Equal(t, 1, r.Count())
	assert.Len(t, r.Snapshot(), 1)
}

func TestRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()

	conn, ok := r.Unregister("missing")
	assert.False(t, ok)
	assert.Nil(t, conn)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_UnregisterPurgesMemberships(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn()
	other := newFakeConn()
	r.Register(c)
	r.Register(other)

	groups := []string{UserGroup("alice"), "traffic-alerts", "road-works", "city-centre"}
	for _, g := range groups {
		require.NoError(t, r.Join(c.ID(), g))
	}
	require.NoError(t, r.Join(other.ID(), "traffic-alerts"))

	before := r.Count()
	_, ok := r.Unregister(c.ID())
	require.True(t, ok)

	assert.Equal(t, before-1, r.Count())
	for _, g := range groups {
		assert.NotContains(t, r.Membership().MembersOf(g), c.ID(), "group %s", g)
	}
	assert.Equal(t, []string{other.ID()}, r.Membership().MembersOf("traffic-alerts"))
	assert.Empty(t, r.Groups(c.ID()))
}

func TestRegistry_JoinRequiresLiveConnection(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn()

	assert.ErrorIs(t, r.Join(c.ID(), "a"), ErrUnknownConnection)

	r.Register(c)
	require.NoError(t, r.Join(c.ID(), "a"))
	require.NoError(t, r.Join(c.ID(), "a"))
	assert.Equal(t, []string{c.ID()}, r.Membership().MembersOf("a"))

	r.Unregister(c.ID())
	assert.ErrorIs(t, r.Join(c.ID(), "a"), ErrUnknownConnection)
}

func TestRegistry_JoinAll(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn()

	assert.ErrorIs(t, r.JoinAll(c.ID(), UserGroup("u1"), "a"), ErrUnknownConnection)
	assert.Equal(t, 0, r.Membership().GroupCount())

	r.Register(c)
	require.NoError(t, r.JoinAll(c.ID(), UserGroup("u1"), "a", "b"))
	assert.ElementsMatch(t, []string{UserGroup("u1"), "a", "b"}, r.Groups(c.ID()))
	require.NoError(t, r.JoinAll(c.ID()))

	r.Unregister(c.ID())
	assert.ErrorIs(t, r.JoinAll(c.ID(), UserGroup("u1"), "c"), ErrUnknownConnection)
	assert.Empty(t, r.Membership().MembersOf("c"))
	assert.Empty(t, r.Membership().MembersOf(UserGroup("u1")))
}

func TestRegistry_Leave(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn()
	r.Register(c)
	require.NoError(t, r.Join(c.ID(), "a"))

	r.Leave(c.ID(), "a")
	r.Leave(c.ID(), "a")
	r.Leave(c.ID(), "never-joined")
	r.Leave("missing", "a")

	assert.Empty(t, r.Membership().MembersOf("a"))
	assert.Empty(t, r.Groups(c.ID()))
	assert.Equal(t, 0, r.Membership().GroupCount())
}

func TestRegistry_CountTracksConnects(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Count())

	conns := make([]*fakeConn, 3)
	var wg sync.WaitGroup
	for i := range conns {
		conns[i] = newFakeConn()
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			r.Register(c)
		}(conns[i])
	}
	wg.Wait()
	assert.Equal(t, 3, r.Count())

	r.Unregister(conns[0].ID())
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_ConcurrentChurnLeavesNoDanglingMembers(t *testing.T) {
	r := NewRegistry()
	const workers = 50

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn()
			r.Register(c)
			for j := range 5 {
				_ = r.Join(c.ID(), fmt.Sprintf("group-%d", (i+j)%7))
			}
			_ = r.Join(c.ID(), UserGroup(fmt.Sprintf("u%d", i%3)))
			r.Leave(c.ID(), "group-0")
			if i%2 == 0 {
				r.Unregister(c.ID())
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, workers/2, r.Count())

	live := make(map[string]bool)
	for _, c := range r.Snapshot() {
		live[c.ID()] = true
	}
	for g := range 7 {
		for _, id := range r.Membership().MembersOf(fmt.Sprintf("group-%d", g)) {
			assert.True(t, live[id], "dangling member %s in group-%d", id, g)
		}
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a, b := newFakeConn(), newFakeConn()
	r.Register(a)
	r.Register(b)
	require.NoError(t, r.Join(a.ID(), "x"))

	r.CloseAll()

	assert.Equal(t, 0, r.Count())
	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())
	assert.Empty(t, r.Membership().MembersOf("x"))
}
