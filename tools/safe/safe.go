package safe

import (
	"moodchat/logger"
	"moodchat/tools/errs"

	"go.uber.org/zap"
)

// Go starts a goroutine that recovers from panic,
// so that one bad handler does not crash the entire process.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover logs a recovered panic; it must be called directly by defer.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered", zap.String("where", name), zap.Error(errs.ErrPanic(r)))
	}
}

// Call runs f and turns a panic into an error.
func Call(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	return f()
}
