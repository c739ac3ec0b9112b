package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCanceled(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, true},
		{fmt.Errorf("find latest: %w", context.DeadlineExceeded), true},
		{fmt.Errorf("wrapped: %w", ErrCanceled), true},
		{errors.New("pq: canceling statement due to user request"), true},
		{errors.New("connection() error occurred during connection handshake: context canceled"), true},
		{errors.New("duplicate key"), false},
		{Invalidf("bad tag %d", 7), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsCanceled(tt.err), "%v", tt.err)
	}
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil))
	assert.Same(t, ErrCanceled, WrapError(ErrCanceled))

	plain := errors.New("duplicate key")
	assert.Same(t, plain, WrapError(plain))

	err := WrapError(errors.New("pq: canceling statement due to user request"))
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Contains(t, err.Error(), "pq: canceling statement")

	assert.ErrorIs(t, WrapError(context.DeadlineExceeded), ErrCanceled)
}

func TestInvalidf(t *testing.T) {
	err := Invalidf("unknown scope %q", "X")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, `invalid argument: unknown scope "X"`, err.Error())
}
