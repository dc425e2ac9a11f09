package hub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Dispatcher handles one inbound frame from a connection.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *Connection, frame []byte)
}

// Serve pumps frames between the websocket and the connection until either
// side goes away, then deregisters the connection.
func (r *Registry) Serve(ctx context.Context, ws *websocket.Conn, conn *Connection, dispatcher Dispatcher) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		writePump(ws, conn, r.sugar)
	}()

	readPump(ctx, ws, conn, dispatcher, r.sugar)

	r.Deregister(conn.ID)
	<-done
}

func readPump(ctx context.Context, ws *websocket.Conn, conn *Connection, dispatcher Dispatcher, sugar *zap.SugaredLogger) {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sugar.Debugf("Connection [%s] read error: %v", conn.ID, err)
			}
			return
		}

		if conn.Closed() {
			return
		}

		dispatcher.Dispatch(ctx, conn, frame)
	}
}

func writePump(ws *websocket.Conn, conn *Connection, sugar *zap.SugaredLogger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	send := conn.Send()
	for {
		select {
		case frame, ok := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// deregistered
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				sugar.Debugf("Connection [%s] write error: %v", conn.ID, err)
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
