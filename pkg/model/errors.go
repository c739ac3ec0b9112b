package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument marks malformed ids, tags, scopes or payloads.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCanceled marks store calls abandoned because the caller's context ended.
	ErrCanceled = errors.New("operation canceled")
)

// Invalidf returns an error wrapping ErrInvalidArgument.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}

// WrapError normalizes store driver errors. Cancellation in any form
// becomes ErrCanceled with the driver message kept as detail; anything else
// is returned unchanged.
func WrapError(err error) error {
	if err == nil || errors.Is(err, ErrCanceled) || !IsCanceled(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCanceled, err)
}

// cancelMessages are driver messages for a cancelled call that do not wrap
// the context error: lib/pq and the mongo driver report some cancellations
// only as text.
var cancelMessages = []string{
	"context canceled",
	"context deadline exceeded",
	"canceling statement due to user request",
}

// IsCanceled reports whether err stems from a cancelled or expired context.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCanceled) {
		return true
	}
	msg := err.Error()
	for _, m := range cancelMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
