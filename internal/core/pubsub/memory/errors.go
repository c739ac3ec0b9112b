// Package memory provides an in-process queue for standalone mode and tests.
package memory

import "errors"

// ErrEngineClosed is returned when operating on a closed engine.
var ErrEngineClosed = errors.New("engine is closed")
