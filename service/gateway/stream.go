package gateway

import (
	"context"
	"net/http"

	midsec "PPLink/middleware/security"
	"PPLink/service/push"
	"PPLink/tools/safe"
	"PPLink/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	headerDeviceClass = "X-Device-Class"
	headerLastEventID = "Last-Event-ID"
)

// streamPrelude resolves who is connecting and with what device. A missing
// credential opens an anonymous stream; an invalid one is refused.
func (g *Gateway) streamPrelude(c *gin.Context, transport string) (string, push.DeviceHints, error) {
	device := c.Query("device")
	if device == "" {
		device = c.GetHeader(headerDeviceClass)
	}
	class, err := push.ParseDeviceClass(device)
	if err != nil {
		return "", push.DeviceHints{}, err
	}
	hints := push.DeviceHints{
		Class:       class,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.ClientIP(),
		Transport:   transport,
		LastEventID: c.Query("lastEventId"),
	}
	if hints.LastEventID == "" {
		hints.LastEventID = c.GetHeader(headerLastEventID)
	}

	token := midsec.ExtractToken(c, g.tokenOpts)
	if token == "" {
		return "", hints, nil
	}
	claims, err := g.Tokens.Verify(token, security.KindAccess)
	if err != nil {
		return "", hints, err
	}
	return claims.UserID, hints, nil
}

// open registers the connection, starts its keep-alive and, for a
// secondary device, the catch-up sync.
func (g *Gateway) open(ctx context.Context, owner string, hints push.DeviceHints, sink push.Sink) *push.Connection {
	conn := g.Registry.Register(owner, hints, sink)
	g.Supervisor.Watch(conn)
	if conn.Authenticated() && hints.Class.CatchUp() && g.Sync != nil {
		safe.Go(g.log, "sync-"+conn.ID(), func() {
			g.Sync.Stream(ctx, g.Registry, conn)
		})
	}
	g.log.Info("stream opened",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", owner),
		zap.String("device", string(hints.Class)),
		zap.String("transport", hints.Transport))
	return conn
}

func (g *Gateway) closeStream(conn *push.Connection) {
	g.Registry.Remove(conn.ID())
	conn.Drain()
	g.log.Info("stream closed", zap.String("conn_id", conn.ID()), zap.Uint64("last_seq", conn.LastEventSequence()))
}

func (g *Gateway) handleSSE(c *gin.Context) {
	owner, hints, err := g.streamPrelude(c, "sse")
	if err != nil {
		g.writeError(c, err)
		return
	}
	g.streams.Add(1)
	defer g.streams.Done()

	push.WriteHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	sink := push.NewSSESink(c.Writer)
	conn := g.open(ctx, owner, hints, sink)

	select {
	case <-ctx.Done():
	case <-sink.Closed():
	}
	g.closeStream(conn)
}

func (g *Gateway) handleWS(c *gin.Context) {
	owner, hints, err := g.streamPrelude(c, "ws")
	if err != nil {
		g.writeError(c, err)
		return
	}
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	g.streams.Add(1)
	defer g.streams.Done()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	conn := g.open(ctx, owner, hints, push.NewWSSink(ws, g.conf.WriteTimeout))
	ws.SetPongHandler(func(string) error {
		g.Supervisor.Touch(conn.ID())
		return nil
	})

	// Inbound frames only prove liveness; commands go over HTTP.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if !conn.Closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Debug("websocket read ended", zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			break
		}
		g.Supervisor.Touch(conn.ID())
	}
	g.closeStream(conn)
}
