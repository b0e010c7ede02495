package utils

import (
	"context"
	"errors"
	"strconv"
	"time"

	"carechat/internal/errs"
)

// ParseID parses a positive numeric id, returning invalid on anything else.
func ParseID(value string, invalid error) (uint, error) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil || id == 0 {
		return 0, invalid
	}
	return uint(id), nil
}

// WithTimeout runs fn under a deadline. Running out of time surfaces as
// errs.ErrTimeout so callers can offer a retry.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		var zero T
		return zero, errs.ErrTimeout
	}
	return result, err
}
