package security

import (
	"net/http"
	"strings"

	"PPLink/tools/errs"
	jwtsec "PPLink/tools/security"

	"github.com/gin-gonic/gin"
)

// context keys
// 后续模块统一用这俩 key 读取
const (
	PPCtxUserKey   = "pp.user_id"
	PPCtxClaimsKey = "pp.claims"
)

// Verifier checks a bearer token of the wanted kind.
type Verifier interface {
	Verify(token, wantKind string) (*jwtsec.Claims, error)
}

type Options struct {
	QueryToken                string // 默认 "token"；为空则不读 query
	EnableAuthorizationBearer bool   // 默认 true
	Required                  bool   // 没带 token 时是否直接 401
}

func DefaultOptions() *Options {
	return &Options{
		QueryToken:                "token",
		EnableAuthorizationBearer: true,
		Required:                  true,
	}
}

// ExtractToken 读取 Authorization: Bearer xxx，其次 query 参数。
func ExtractToken(c *gin.Context, opts *Options) string {
	if opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
				return strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	if opts.QueryToken != "" {
		return strings.TrimSpace(c.Query(opts.QueryToken))
	}
	return ""
}

// Middleware verifies the access token and stores the caller in the context.
// A present but invalid token is always rejected; a missing one only when
// opts.Required.
func Middleware(v Verifier, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := ExtractToken(c, opts)
		if token == "" {
			if opts.Required {
				abortUnauthenticated(c, errs.ErrUnauthenticated.WrapMsg("missing token"))
				return
			}
			c.Next()
			return
		}
		claims, err := v.Verify(token, jwtsec.KindAccess)
		if err != nil {
			abortUnauthenticated(c, err)
			return
		}
		c.Set(PPCtxUserKey, claims.UserID)
		c.Set(PPCtxClaimsKey, claims)
		c.Next()
	}
}

// UserID returns the authenticated caller, "" for anonymous requests.
func UserID(c *gin.Context) string {
	return c.GetString(PPCtxUserKey)
}

func Claims(c *gin.Context) *jwtsec.Claims {
	if v, ok := c.Get(PPCtxClaimsKey); ok {
		if cl, ok := v.(*jwtsec.Claims); ok {
			return cl
		}
	}
	return nil
}

func abortUnauthenticated(c *gin.Context, err error) {
	body := errs.ErrUnauthenticated
	if ce := errs.Code(err); ce != nil {
		body = ce
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, body)
}
