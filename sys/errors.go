package sys

import (
	"runtime/debug"

	"github.com/agentuity/readaside/logger"
	"github.com/cockroachdb/errors"
)

// panicError converts a recovered value into an error carrying the stack of
// the panicking goroutine. skip drops the recovery frames from the trace.
func panicError(skip int, r interface{}) error {
	var err error
	switch v := r.(type) {
	case error:
		err = errors.WrapWithDepth(skip+1, v, "panic")
	default:
		err = errors.NewWithDepthf(skip+1, "panic: %v", v)
	}
	return errors.WithDetail(err, string(debug.Stack()))
}

// RecoverPanic logs a panic in progress, if any, and swallows it. Use with
// defer.
func RecoverPanic(log logger.Logger) {
	if r := recover(); r != nil {
		err := panicError(2, r)
		log.Error("recovered panic: %s\n%s", err, errors.FlattenDetails(err))
	}
}

// Recovered runs fn and converts a panic inside it into an error.
func Recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(2, r)
		}
	}()
	return fn()
}
