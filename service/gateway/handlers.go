package gateway

import (
	"net/http"

	midsec "PPLink/middleware/security"
	"PPLink/module/chat/message"
	"PPLink/tools/errs"
	"PPLink/tools/security"

	"github.com/gin-gonic/gin"
)

type authorizeReq struct {
	Payload string `json:"payload" binding:"required"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (g *Gateway) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		g.writeError(c, errs.ErrArgs.WrapMsg(err.Error()))
		return false
	}
	return true
}

// ---- pairing ----

func (g *Gateway) handleIssueChallenge(c *gin.Context) {
	issued, err := g.Pairing.Issue(c.Request.Context())
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, issued)
}

func (g *Gateway) handleAuthorize(c *gin.Context) {
	var req authorizeReq
	if !g.bind(c, &req) {
		return
	}
	var device string
	if cl := midsec.Claims(c); cl != nil {
		device = cl.DeviceClass
	}
	id, err := g.Pairing.Authorize(c.Request.Context(), req.Payload, midsec.UserID(c), device)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challengeId": id})
}

func (g *Gateway) handleChallengeStatus(c *gin.Context) {
	view, err := g.Pairing.CheckStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (g *Gateway) handleRedeem(c *gin.Context) {
	red, err := g.Pairing.Redeem(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, red)
}

func (g *Gateway) handleRefresh(c *gin.Context) {
	var req refreshReq
	if !g.bind(c, &req) {
		return
	}
	claims, err := g.Tokens.Verify(req.RefreshToken, security.KindRefresh)
	if err != nil {
		g.writeError(c, err)
		return
	}
	creds, err := g.Tokens.Issue(claims.UserID, claims.DeviceClass)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, creds)
}

// ---- messages ----

func (g *Gateway) handleSendMessage(c *gin.Context) {
	var req message.SendInput
	if !g.bind(c, &req) {
		return
	}
	m, err := g.Messages.Send(c.Request.Context(), c.Param("id"), midsec.UserID(c), req)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (g *Gateway) handleConversationRead(c *gin.Context) {
	n, err := g.Messages.MarkConversationRead(c.Request.Context(), c.Param("id"), midsec.UserID(c))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

type receiptFn func(svc *message.Service, c *gin.Context, messageID, userID string) (message.Result, error)

func (g *Gateway) receipt(c *gin.Context, fn receiptFn) {
	res, err := fn(g.Messages, c, c.Param("id"), midsec.UserID(c))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": res.Changed, "status": res.Change})
}

func (g *Gateway) handleDelivered(c *gin.Context) {
	g.receipt(c, func(s *message.Service, c *gin.Context, id, user string) (message.Result, error) {
		return s.MarkDelivered(c.Request.Context(), id, user)
	})
}

func (g *Gateway) handleRead(c *gin.Context) {
	g.receipt(c, func(s *message.Service, c *gin.Context, id, user string) (message.Result, error) {
		return s.MarkRead(c.Request.Context(), id, user)
	})
}

func (g *Gateway) handleFailed(c *gin.Context) {
	g.receipt(c, func(s *message.Service, c *gin.Context, id, user string) (message.Result, error) {
		return s.MarkFailed(c.Request.Context(), id, user)
	})
}
