package gateway

import (
	"errors"
	"net/http"

	"PPLink/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusOf maps the coded error taxonomy onto HTTP.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidState), errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrArgs):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) writeError(c *gin.Context, err error) {
	status := statusOf(err)
	body := errs.Code(err)
	if body == nil || status == http.StatusInternalServerError {
		g.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		body = errs.ErrInternal
	}
	c.AbortWithStatusJSON(status, body)
}
