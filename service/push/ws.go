package push

import (
	"time"

	"github.com/gorilla/websocket"
)

// WSSink writes events as JSON text frames on a WebSocket.
type WSSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func NewWSSink(conn *websocket.Conn, writeTimeout time.Duration) *WSSink {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &WSSink{conn: conn, writeTimeout: writeTimeout}
}

func (s *WSSink) Send(ev Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(ev)
}

// Duplex: liveness comes from pongs and client frames.
func (s *WSSink) Duplex() {}

func (s *WSSink) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// Close sends a best-effort close frame and drops the socket, which also
// unblocks the reader goroutine.
func (s *WSSink) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
