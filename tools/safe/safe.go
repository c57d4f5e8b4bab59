package safe

import (
	"PPLink/tools/errs"

	"go.uber.org/zap"
)

// Go starts f on a new goroutine that recovers from panic,
// so that one connection's bug doesn't crash the process.
func Go(log *zap.Logger, name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("goroutine panic recovered", zap.String("task", name), zap.Error(errs.ErrPanic(r)))
			}
		}()
		f()
	}()
}
