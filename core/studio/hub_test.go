package studio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MusicFlow/core/clock"
	"MusicFlow/core/composition"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStudio(t *testing.T, hub *Hub, m *Manager, studioID string, userID int64) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, studioID, userID)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump(context.Background(), m.HandleMessage)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount(studioID) == 1 }, time.Second, 10*time.Millisecond)
	return conn
}

// readUntil skips messages until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) *WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == want {
			return &msg
		}
	}
}

func TestHubStreamsStudioEvents(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	m := NewManager(Config{Clock: clock.NewManual(time.Now())}, hub)
	s, err := m.Create(7)
	require.NoError(t, err)

	conn := dialStudio(t, hub, m, s.ID, 7)

	_, err = s.AddNote("G", 3, composition.Half, 0)
	require.NoError(t, err)

	msg := readUntil(t, conn, MsgTypeRender)
	assert.Equal(t, s.ID, msg.StudioID)
	var view View
	require.NoError(t, json.Unmarshal(msg.Data, &view))
	require.Len(t, view.Notes, 1)
	assert.Equal(t, "G3", view.Notes[0].Pitch())

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	readUntil(t, conn, MsgTypePong)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypeSync}))
	msg = readUntil(t, conn, MsgTypeRender)
	require.NoError(t, json.Unmarshal(msg.Data, &view))
	assert.Len(t, view.Notes, 1)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypeToggle}))
	readUntil(t, conn, MsgTypePlayback)

	require.NoError(t, m.Close(s.ID, 7))
	readUntil(t, conn, MsgTypeClosed)
	assert.Eventually(t, func() bool { return hub.ClientCount(s.ID) == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubRejectsOtherUsers(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	m := NewManager(Config{Clock: clock.NewManual(time.Now())}, hub)
	s, _ := m.Create(7)

	conn := dialStudio(t, hub, m, s.ID, 8)
	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypeSync}))
	msg := readUntil(t, conn, MsgTypeError)
	assert.Equal(t, ErrForbidden.Error(), msg.Error)
}

func TestSendAfterHubRemovedClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := NewClient(hub, nil, "s1", 7)
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount("s1") == 1 }, time.Second, 10*time.Millisecond)

	client.SendMessage(&WSMessage{Type: MsgTypePong})
	hub.CloseStudio("s1")
	require.Eventually(t, func() bool { return hub.ClientCount("s1") == 0 }, time.Second, 10*time.Millisecond)

	// Send 已关闭，再发送只会被丢弃
	assert.NotPanics(t, func() { client.SendMessage(&WSMessage{Type: MsgTypePong}) })
	assert.False(t, client.trySend([]byte("x")))

	_, ok := <-client.Send
	assert.True(t, ok, "message queued before close is still delivered")
	_, ok = <-client.Send
	assert.False(t, ok)

	client.closeSend()
}

func TestSendDropsWhenBufferFull(t *testing.T) {
	client := NewClient(NewHub(), nil, "s1", 7)
	for i := 0; i < sendBuffer; i++ {
		require.True(t, client.trySend([]byte("x")))
	}
	assert.False(t, client.trySend([]byte("x")))
}
