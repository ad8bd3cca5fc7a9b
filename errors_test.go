package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorWrapping(t *testing.T) {
	err := NewNotFoundError("execution %q not found", "exec_123")
	require.Equal(t, "not_found: execution \"exec_123\" not found", err.Error())
	require.Nil(t, err.Unwrap())

	original := errors.New("connection refused")
	wrapped := NewExternalFailure(original, "webhook call failed")
	require.Equal(t, "external_failure: webhook call failed", wrapped.Error())
	require.True(t, errors.Is(wrapped, original))

	var engineErr *Error
	require.True(t, errors.As(wrapped, &engineErr))
	require.Equal(t, ErrorCodeExternalFailure, engineErr.Code)
}

func TestErrorClassification(t *testing.T) {
	require.Equal(t, ErrorCodeNotFound, ErrorCode(NewNotFoundError("gone")))
	require.Equal(t, ErrorCodeInvalidState, ErrorCode(NewInvalidStateError("bad state")))
	require.Equal(t, ErrorCodeInvalidArgument, ErrorCode(NewInvalidArgumentError("bad arg")))
	require.Equal(t, ErrorCodePayloadTooLarge, ErrorCode(NewPayloadTooLargeError("too big")))

	// Timeouts from collaborator calls classify as external failures
	require.Equal(t, ErrorCodeExternalFailure, ErrorCode(context.DeadlineExceeded))
	require.Equal(t, ErrorCodeExternalFailure, ErrorCode(errors.New("request timeout")))

	// Unknown errors carry no code
	require.Equal(t, "", ErrorCode(errors.New("something went wrong")))
	require.Equal(t, "", ErrorCode(nil))
}

func TestErrorPredicates(t *testing.T) {
	require.True(t, IsNotFound(NewNotFoundError("gone")))
	require.False(t, IsNotFound(NewInvalidStateError("bad")))
	require.True(t, IsInvalidState(NewInvalidStateError("bad")))
	require.True(t, IsInvalidArgument(NewInvalidArgumentError("bad")))
	require.True(t, IsPayloadTooLarge(NewPayloadTooLargeError("big")))

	// Wrapped engine errors still classify
	wrapped := NewExternalFailure(NewNotFoundError("inner"), "outer")
	require.Equal(t, ErrorCodeExternalFailure, ErrorCode(wrapped))
}
