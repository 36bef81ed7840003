package handler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(userID string, buffer int) *Client {
	return &Client{
		UserID: userID,
		send:   make(chan []byte, buffer),
	}
}

func TestConnectionManager_SendReachesAllUserConnections(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	userID := uuid.NewString()

	phone := newTestClient(userID, 4)
	tablet := newTestClient(userID, 4)
	m.RegisterClient(phone)
	m.RegisterClient(tablet)

	delivered := m.SendToUser(userID, []byte(`{"phase":"cover_complete"}`))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []byte(`{"phase":"cover_complete"}`), <-phone.send)
	assert.Equal(t, []byte(`{"phase":"cover_complete"}`), <-tablet.send)
}

func TestConnectionManager_OfflineUserDeliversToNobody(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())

	delivered := m.SendToUser(uuid.NewString(), []byte("update"))
	assert.Zero(t, delivered)
}

func TestConnectionManager_UnregisterStopsDelivery(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	userID := uuid.NewString()
	client := newTestClient(userID, 4)

	m.RegisterClient(client)
	require.Equal(t, 1, m.ConnectionCount(userID))

	m.UnregisterClient(client)
	assert.Zero(t, m.ConnectionCount(userID))
	assert.Zero(t, m.SendToUser(userID, []byte("update")))

	// Closing the send channel signals the write pump to finish.
	_, open := <-client.send
	assert.False(t, open)
}

func TestConnectionManager_UnregisterOnlyRemovesThatConnection(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	userID := uuid.NewString()
	phone := newTestClient(userID, 4)
	tablet := newTestClient(userID, 4)
	m.RegisterClient(phone)
	m.RegisterClient(tablet)

	m.UnregisterClient(phone)
	assert.Equal(t, 1, m.ConnectionCount(userID))
	assert.Equal(t, 1, m.SendToUser(userID, []byte("update")))
}

func TestConnectionManager_DuplicateUnregisterIsSafe(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	client := newTestClient(uuid.NewString(), 1)
	m.RegisterClient(client)
	m.UnregisterClient(client)
	m.UnregisterClient(client)
}

func TestConnectionManager_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	userID := uuid.NewString()
	client := newTestClient(userID, 1)
	m.RegisterClient(client)

	assert.Equal(t, 1, m.SendToUser(userID, []byte("first")))
	assert.Equal(t, 0, m.SendToUser(userID, []byte("second")))
}
