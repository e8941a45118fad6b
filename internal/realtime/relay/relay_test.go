package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"anoa.com/notifyhub/internal/realtime"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memConn struct {
	id string

	mu   sync.Mutex
	sent []string
}

func newMemConn() *memConn { return &memConn{id: uuid.NewString()} }

func (c *memConn) ID() string { return c.id }

func (c *memConn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, string(payload))
	return nil
}

func (c *memConn) Close() error { return nil }

func (c *memConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type instance struct {
	registry *realtime.Registry
	relay    *Relay
}

func newInstance(t *testing.T, addr string) *instance {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	registry := realtime.NewRegistry()
	dispatcher := realtime.NewDispatcher(registry, realtime.DefaultDispatcherOptions(), zerolog.Nop())
	r := New(client, "notifications:fanout", dispatcher, zerolog.Nop())

	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Close() })

	return &instance{registry: registry, relay: r}
}

func TestRelay_DeliversToPeerInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newInstance(t, mr.Addr())
	b := newInstance(t, mr.Addr())
	require.NotEmpty(t, a.relay.Origin())
	require.NotEqual(t, a.relay.Origin(), b.relay.Origin())

	local := newMemConn()
	a.registry.Register(local)
	require.NoError(t, a.registry.Join(local.ID(), realtime.UserGroup("u42")))

	remote := newMemConn()
	b.registry.Register(remote)
	require.NoError(t, b.registry.Join(remote.ID(), realtime.UserGroup("u42")))

	bystander := newMemConn()
	b.registry.Register(bystander)

	payload := `{"event":"notification","data":{"title":"Delay"}}`
	require.NoError(t, a.relay.Publish(context.Background(), realtime.User("u42"), []byte(payload)))

	assert.Eventually(t, func() bool { return len(remote.Sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, payload, remote.Sent()[0])

	// the publishing instance already dispatched locally and ignores its own echo
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, local.Sent())
	assert.Empty(t, bystander.Sent())
}

func TestRelay_Broadcast(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newInstance(t, mr.Addr())
	b := newInstance(t, mr.Addr())

	conns := []*memConn{newMemConn(), newMemConn()}
	for _, c := range conns {
		b.registry.Register(c)
	}

	require.NoError(t, a.relay.Publish(context.Background(), realtime.All(), []byte(`{"event":"notification"}`)))

	for _, c := range conns {
		assert.Eventually(t, func() bool { return len(c.Sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	}
}

func TestRelay_IgnoresMalformedMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	b := newInstance(t, mr.Addr())

	c := newMemConn()
	b.registry.Register(c)

	mr.Publish("notifications:fanout", "not json")
	mr.Publish("notifications:fanout", `{"origin":"x","kind":"galaxy","payload":{}}`)
	mr.Publish("notifications:fanout", `{"origin":"x","kind":"all","payload":{"ok":true}}`)

	assert.Eventually(t, func() bool { return len(c.Sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"ok":true}`, c.Sent()[0])
}

func TestRelay_StartTwice(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newInstance(t, mr.Addr())

	assert.Error(t, a.relay.Start(context.Background()))
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		kind, key string
		want      realtime.Target
		wantErr   bool
	}{
		{"all", "", realtime.All(), false},
		{"user", "u1", realtime.User("u1"), false},
		{"channel", "ops", realtime.Channel("ops"), false},
		{"user", "", realtime.Target{}, true},
		{"channel", "", realtime.Target{}, true},
		{"group", "x", realtime.Target{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.key, func(t *testing.T) {
			got, err := parseTarget(tt.kind, tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
