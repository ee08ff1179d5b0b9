package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegistry(t *testing.T) {
	registry := NewClientRegistry()
	now := time.Now()

	registry.Add(&Client{ID: "b", ConnectedAt: now, LastActivity: now, Authenticated: true})
	registry.Add(&Client{ID: "a", ConnectedAt: now.Add(-time.Hour), LastActivity: now.Add(-10 * time.Minute)})
	assert.Equal(t, 2, registry.Count())

	t.Run("connected clients oldest first", func(t *testing.T) {
		infos := registry.GetConnectedClients()
		require.Len(t, infos, 2)
		assert.Equal(t, "a", infos[0].ID)
		assert.True(t, infos[0].Idle)
		assert.Equal(t, "b", infos[1].ID)
		assert.False(t, infos[1].Idle)
	})

	t.Run("authenticated only", func(t *testing.T) {
		clients := registry.GetAuthenticatedClients()
		require.Len(t, clients, 1)
		assert.Equal(t, "b", clients[0].ID)
	})

	t.Run("update activity", func(t *testing.T) {
		registry.UpdateActivity("a")
		client, ok := registry.Get("a")
		require.True(t, ok)
		assert.WithinDuration(t, time.Now(), client.LastActivity, time.Second)
	})

	t.Run("remove", func(t *testing.T) {
		registry.Remove("a")
		_, ok := registry.Get("a")
		assert.False(t, ok)
		assert.Equal(t, 1, registry.Count())
	})
}
