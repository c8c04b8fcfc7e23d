package errdefs

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{
			name:  "stdlib wrap of conflict",
			err:   fmt.Errorf("claim session s1: %w", ErrConflict),
			check: IsConflict,
		},
		{
			name:  "pkg/errors wrap of daemon unavailable",
			err:   errors.Wrap(ErrDaemonUnavailable, "targetcli: connection refused"),
			check: IsDaemonUnavailable,
		},
		{
			name:  "double wrap of not found",
			err:   fmt.Errorf("load image: %w", errors.Wrap(ErrNotFound, "bucket images")),
			check: IsNotFound,
		},
		{
			name:  "wrapped config rejection",
			err:   errors.Wrapf(ErrConfigRejected, "dhcpd reload exited 1"),
			check: IsConfigRejected,
		},
		{
			name:  "deadline counts as transient",
			err:   fmt.Errorf("create target: %w", context.DeadlineExceeded),
			check: IsTransient,
		},
		{
			name:  "cancellation",
			err:   fmt.Errorf("start session: %w", context.Canceled),
			check: IsCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
		})
	}
}

func TestCancellationIsNotTransient(t *testing.T) {
	err := fmt.Errorf("step: %w", context.Canceled)
	assert.False(t, IsTransient(err))
	assert.True(t, IsCancelled(err))
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotFound, "NOT_FOUND"},
		{ErrConflict, "CONFLICT"},
		{ErrPrecondition, "PRECONDITION_FAILED"},
		{ErrProtocol, "PROTOCOL_ERROR"},
		{ErrTransient, "TRANSIENT"},
		{ErrConfigRejected, "CONFIG_REJECTED"},
		{ErrDaemonUnavailable, "DAEMON_UNAVAILABLE"},
		{ErrUnauthenticated, "UNAUTHENTICATED"},
		{ErrForbidden, "FORBIDDEN"},
		{context.Canceled, "CANCELLED"},
		{fmt.Errorf("mystery"), "INTERNAL"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err), "for error %v", tt.err)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrPrecondition, http.StatusUnprocessableEntity},
		{ErrProtocol, http.StatusBadRequest},
		{ErrConfigRejected, http.StatusBadGateway},
		{ErrDaemonUnavailable, http.StatusServiceUnavailable},
		{ErrTransient, http.StatusServiceUnavailable},
		{ErrUnauthenticated, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrFatal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "for error %v", tt.err)
	}

	// Wrapping must not change the mapping.
	wrapped := errors.Wrap(fmt.Errorf("inner: %w", ErrConflict), "outer")
	assert.Equal(t, http.StatusConflict, HTTPStatus(wrapped))
}

func TestFromCodeRoundTrip(t *testing.T) {
	// Server side: wrap, serialize code+message. Client side: FromCode.
	// The rebuilt error must classify identically and keep the context
	// without doubling the kind's own text.
	orig := errors.Wrap(ErrNotFound, "machine ghost")
	rebuilt := FromCode(Code(orig), orig.Error())
	assert.True(t, IsNotFound(rebuilt))
	assert.Equal(t, orig.Error(), rebuilt.Error())

	tests := []struct {
		code  string
		check func(error) bool
	}{
		{"NOT_FOUND", IsNotFound},
		{"CONFLICT", IsConflict},
		{"PRECONDITION_FAILED", IsPrecondition},
		{"PROTOCOL_ERROR", IsProtocol},
		{"CONFIG_REJECTED", IsConfigRejected},
		{"DAEMON_UNAVAILABLE", IsDaemonUnavailable},
		{"TRANSIENT", IsTransient},
		{"UNAUTHENTICATED", IsUnauthenticated},
		{"FORBIDDEN", IsForbidden},
		{"CANCELLED", IsCancelled},
		{"INTERNAL", IsFatal},
		{"SOMETHING_NEW", IsFatal},
	}
	for _, tt := range tests {
		err := FromCode(tt.code, "ctx: "+tt.code)
		assert.True(t, tt.check(err), "code %s", tt.code)
		assert.Contains(t, err.Error(), "ctx: "+tt.code)
	}

	assert.NoError(t, FromCode("", ""))

	// A bare kind message carries no extra context.
	assert.Equal(t, ErrConflict, FromCode("CONFLICT", ErrConflict.Error()))
}
