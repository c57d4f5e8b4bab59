// Package gateway is the HTTP surface: the two streaming endpoints plus the
// request/response calls that drive pairing, messages and receipts.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"PPLink/middleware"
	midsec "PPLink/middleware/security"
	"PPLink/module/chat/message"
	"PPLink/module/msgsync"
	"PPLink/module/pairing"
	"PPLink/service/push"
	"PPLink/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Config struct {
	WriteTimeout time.Duration // per-frame write deadline on WebSocket
	Origins      []string      // allowed CORS / WebSocket origins; empty = any
	Log          *zap.Logger
}

func (c *Config) norm() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
}

type Deps struct {
	Registry   *push.Registry
	Supervisor *push.Supervisor
	Pairing    *pairing.Service
	Messages   *message.Service
	Sync       *msgsync.Service
	Tokens     *security.Issuer
}

type Gateway struct {
	Deps
	conf      Config
	log       *zap.Logger
	origins   middleware.OriginPolicy
	tokenOpts *midsec.Options
	upgrader  websocket.Upgrader

	streams sync.WaitGroup // open stream handlers
}

func New(d Deps, conf Config) *Gateway {
	conf.norm()
	g := &Gateway{
		Deps:      d,
		conf:      conf,
		log:       conf.Log.Named("gateway"),
		origins:   middleware.OriginPolicy{Allowed: conf.Origins},
		tokenOpts: midsec.DefaultOptions(),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.origins.CheckOrigin,
	}
	return g
}

// Router builds the gin engine with every route mounted.
func (g *Gateway) Router() *gin.Engine {
	r := gin.New()

	mids := middleware.NewManager()
	mids.Add(middleware.Recovery(g.log), middleware.AccessLog(g.log), middleware.Origin(g.origins))
	mids.Mount(r)

	auth := middleware.RouteOpt{Auth: midsec.Middleware(g.Tokens, g.tokenOpts)}
	open := middleware.RouteOpt{}

	middleware.GET(r, "/healthz", g.handleHealth, open)

	// streams validate their own optional credential
	middleware.GET(r, "/events", g.handleSSE, open)
	middleware.GET(r, "/ws", g.handleWS, open)

	pair := r.Group("/pairing")
	middleware.POST(pair, "/challenges", g.handleIssueChallenge, open)
	middleware.GET(pair, "/challenges/:id", g.handleChallengeStatus, open)
	middleware.POST(pair, "/challenges/:id/redeem", g.handleRedeem, open)
	middleware.POST(pair, "/authorize", g.handleAuthorize, auth)

	middleware.POST(r, "/auth/refresh", g.handleRefresh, open)

	middleware.POST(r, "/conversations/:id/messages", g.handleSendMessage, auth)
	middleware.POST(r, "/conversations/:id/read", g.handleConversationRead, auth)
	middleware.POST(r, "/messages/:id/delivered", g.handleDelivered, auth)
	middleware.POST(r, "/messages/:id/read", g.handleRead, auth)
	middleware.POST(r, "/messages/:id/failed", g.handleFailed, auth)

	return r
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": g.Registry.Count()})
}

// Wait blocks until every stream handler has returned or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
