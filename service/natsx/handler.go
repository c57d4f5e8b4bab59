package natsx

import (
	"context"

	"PPLink/tools/errs"

	"go.uber.org/zap"
)

// Message 统一消息对象
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

type Handler func(ctx context.Context, msg Message) error

// Middleware 中间件（日志、幂等、恢复等）
type Middleware func(Handler) Handler

// Chain applies mws so that mws[0] runs outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover turns a handler panic into an error so the subscription survives.
func Recover(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic", zap.String("subject", msg.Subject), zap.Any("panic", r))
					err = errs.ErrPanic(r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// Logging reports handler failures.
func Logging(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			err := next(ctx, msg)
			if err != nil {
				log.Warn("handler failed", zap.String("subject", msg.Subject), zap.Int("bytes", len(msg.Data)), zap.Error(err))
			}
			return err
		}
	}
}
