package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// Manager collects the global chain before the engine is built. The
// handlers are mounted with gin's own Use so that a middleware calling
// c.Next wraps everything after it.
type Manager struct {
	mu   sync.Mutex
	mids []gin.HandlerFunc
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Add(h ...gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h...)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mids)
}

// Mount installs a snapshot of the chain on r.
func (m *Manager) Mount(r gin.IRoutes) {
	m.mu.Lock()
	chain := append([]gin.HandlerFunc(nil), m.mids...)
	m.mu.Unlock()
	r.Use(chain...)
}

// RouteOpt decorates a single route.
type RouteOpt struct {
	Auth gin.HandlerFunc   // bearer check, runs first when set
	Mids []gin.HandlerFunc // extra per-route handlers after Auth
}

func (o RouteOpt) chain(h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(o.Mids)+2)
	if o.Auth != nil {
		out = append(out, o.Auth)
	}
	out = append(out, o.Mids...)
	return append(out, h)
}

func Handle(r gin.IRoutes, method, path string, h gin.HandlerFunc, opt RouteOpt) {
	r.Handle(method, path, opt.chain(h)...)
}

func GET(r gin.IRoutes, path string, h gin.HandlerFunc, opt RouteOpt) {
	Handle(r, http.MethodGet, path, h, opt)
}

func POST(r gin.IRoutes, path string, h gin.HandlerFunc, opt RouteOpt) {
	Handle(r, http.MethodPost, path, h, opt)
}
