package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pongDispatcher struct{}

func (pongDispatcher) Dispatch(_ context.Context, conn *Connection, frame []byte) {
	if string(frame) == "ping\n{}" {
		conn.Enqueue([]byte("pong\n{}"))
	}
}

func TestServePumpsFrames(t *testing.T) {
	h := newTestHub(t, 8)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn := h.connect(t, 1, "s")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.registry.Deregister(conn.ID)
			return
		}
		h.registry.Serve(context.Background(), ws, conn, pongDispatcher{})
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("ping\n{}")))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong\n{}", string(frame))

	client.Close()

	require.Eventually(t, func() bool {
		return h.registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeClosesSocketOnDeregister(t *testing.T) {
	h := newTestHub(t, 8)
	upgrader := websocket.Upgrader{}
	connected := make(chan *Connection, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn := h.connect(t, 1, "s")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connected <- conn
		h.registry.Serve(context.Background(), ws, conn, pongDispatcher{})
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	conn := <-connected
	h.registry.Deregister(conn.ID)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = client.ReadMessage()
	assert.Error(t, err)
}
