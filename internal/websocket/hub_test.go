package websocket

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbwatch/nzbwatch/internal/events"
	"github.com/nzbwatch/nzbwatch/internal/testutil"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(testutil.NewTestLogger(t))
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", hub.HandleWebSocket)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_Broadcast(t *testing.T) {
	hub, conn := startHub(t)

	require.NoError(t, hub.Broadcast("refresh:completed", map[string]int{"historyCount": 2}))

	msg := readMessage(t, conn)
	assert.Equal(t, "refresh:completed", msg.Type)
	assert.NotEmpty(t, msg.Timestamp)
	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 2, payload["historyCount"])
}

func TestHub_AttachForwardsBusEvents(t *testing.T) {
	hub, conn := startHub(t)

	bus := events.NewBus(testutil.NewTestLogger(t))
	defer bus.Close()
	detach := hub.Attach(bus, "download_complete")
	defer detach()

	bus.Publish("download_complete", map[string]string{"name": "A", "category": "cat1", "status": "SUCCESS"})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageDownloadComplete, msg.Type)
	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "A", payload["name"])
	assert.Equal(t, "cat1", payload["category"])
}

func TestHub_RefreshRequest(t *testing.T) {
	hub, conn := startHub(t)

	var calls atomic.Int32
	hub.SetRefreshHandler(func(context.Context) error {
		if calls.Add(1) == 2 {
			return errors.New("refresh already in progress")
		}
		return nil
	})

	require.NoError(t, conn.WriteJSON(Message{Type: MessageRefreshRequest}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageRefreshRequest}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageRefreshError, msg.Type)
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(testutil.NewTestLogger(t))

	var err error
	for i := 0; i < 300 && err == nil; i++ {
		err = hub.Broadcast("x", i)
	}
	assert.ErrorIs(t, err, ErrHubFull)
}
