package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMembership_JoinLeave(t *testing.T) {
	m := NewMembership()

	assert.Empty(t, m.MembersOf("unknown"))

	m.Join("c1", "g")
	m.Join("c1", "g")
	m.Join("c2", "g")
	assert.ElementsMatch(t, []string{"c1", "c2"}, m.MembersOf("g"))

	m.Leave("c1", "g")
	m.Leave("c1", "g")
	assert.Equal(t, []string{"c2"}, m.MembersOf("g"))

	m.Leave("c2", "g")
	assert.Equal(t, 0, m.GroupCount())
}

func TestMembership_SnapshotIsACopy(t *testing.T) {
	m := NewMembership()
	m.Join("c1", "g")

	snap := m.MembersOf("g")
	m.Join("c2", "g")
	m.Leave("c1", "g")

	assert.Equal(t, []string{"c1"}, snap)
}

func TestMembership_Purge(t *testing.T) {
	m := NewMembership()
	m.Join("c1", "a")
	m.Join("c1", "b")
	m.Join("c2", "b")

	m.Purge("c1", []string{"a", "b"})

	assert.Empty(t, m.MembersOf("a"))
	assert.Equal(t, []string{"c2"}, m.MembersOf("b"))
}
