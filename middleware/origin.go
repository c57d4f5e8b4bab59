package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginPolicy 允许的跨域来源；空列表或包含 "*" 表示放行全部。
type OriginPolicy struct {
	Allowed []string
}

func (p OriginPolicy) Allow(origin string) bool {
	if origin == "" || len(p.Allowed) == 0 {
		return true
	}
	for _, a := range p.Allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// CheckOrigin 供 websocket.Upgrader 使用
func (p OriginPolicy) CheckOrigin(r *http.Request) bool {
	return p.Allow(r.Header.Get("Origin"))
}

// Origin 校验来源并写 CORS 头；预检请求直接 204。
func Origin(p OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !p.Allow(origin) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		if origin != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Last-Event-ID, X-Device-Class")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
