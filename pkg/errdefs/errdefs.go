// Package errdefs defines the error taxonomy shared by every GGnet
// component. Callers classify failures by kind, not by message: store and
// validation code return the sentinels directly, daemon adapters wrap them
// with context, and the API layer maps kinds to HTTP responses.
package errdefs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
)

// Core kinds, aliased from containerd's error vocabulary so that
// third-party code classifying with the containerd helpers agrees with us.
var (
	// ErrNotFound: the referenced entity does not exist.
	ErrNotFound = cerrdefs.ErrNotFound

	// ErrConflict: a compare-and-set lost, a uniqueness rule was violated,
	// or a daemon object exists with different attributes.
	ErrConflict = cerrdefs.ErrConflict

	// ErrPrecondition: the entity exists but is in the wrong state for the
	// requested operation (image not READY, machine in MAINTENANCE, ...).
	ErrPrecondition = cerrdefs.ErrFailedPrecondition

	// ErrProtocol: the caller violated the upload or request protocol
	// (overlapping chunk offsets, malformed bodies, bad enum values).
	ErrProtocol = cerrdefs.ErrInvalidArgument

	// ErrTransient: likely to succeed on retry (timeouts, busy daemons).
	// The orchestrator retries such steps once before giving up.
	ErrTransient = cerrdefs.ErrUnavailable

	// ErrFatal: not retryable; triggers compensation of completed steps.
	ErrFatal = cerrdefs.ErrInternal

	// ErrUnauthenticated / ErrForbidden: request identity problems.
	ErrUnauthenticated = cerrdefs.ErrUnauthenticated
	ErrForbidden       = cerrdefs.ErrPermissionDenied
)

// Kinds containerd has no word for.
var (
	// ErrConfigRejected: a daemon refused a configuration we wrote; the
	// previous configuration has been restored.
	ErrConfigRejected = errors.New("daemon rejected configuration")

	// ErrDaemonUnavailable: an external daemon (targetcli, dhcpd, tftpd)
	// cannot be reached at all.
	ErrDaemonUnavailable = errors.New("daemon unavailable")
)

// IsNotFound reports whether err is of the not-found kind.
func IsNotFound(err error) bool { return cerrdefs.IsNotFound(err) }

// IsConflict reports whether err is of the conflict kind.
func IsConflict(err error) bool { return cerrdefs.IsConflict(err) }

// IsPrecondition reports whether err is of the failed-precondition kind.
func IsPrecondition(err error) bool { return cerrdefs.IsFailedPrecondition(err) }

// IsProtocol reports whether err is of the protocol-violation kind.
func IsProtocol(err error) bool { return cerrdefs.IsInvalidArgument(err) }

// IsTransient reports whether err is worth retrying once. Step deadlines
// count as transient: the daemon may simply have been slow.
func IsTransient(err error) bool {
	return cerrdefs.IsUnavailable(err) || errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err is of the non-retryable internal kind.
func IsFatal(err error) bool { return cerrdefs.IsInternal(err) }

// IsConfigRejected reports whether a daemon rejected written configuration.
func IsConfigRejected(err error) bool { return errors.Is(err, ErrConfigRejected) }

// IsDaemonUnavailable reports whether an external daemon is unreachable.
func IsDaemonUnavailable(err error) bool { return errors.Is(err, ErrDaemonUnavailable) }

// IsUnauthenticated reports whether the request carried no valid identity.
func IsUnauthenticated(err error) bool { return cerrdefs.IsUnauthorized(err) }

// IsForbidden reports whether the identity lacks the required role.
func IsForbidden(err error) bool { return cerrdefs.IsPermissionDenied(err) }

// IsCancelled reports whether err stems from context cancellation.
// Deadline expiry is deliberately excluded: it classifies as transient.
func IsCancelled(err error) bool { return errors.Is(err, context.Canceled) }

// Code returns the stable machine-readable code for err, carried in API
// error bodies and logs. Codes are append-only; never rename one.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCancelled(err):
		return "CANCELLED"
	case IsNotFound(err):
		return "NOT_FOUND"
	case IsConflict(err):
		return "CONFLICT"
	case IsPrecondition(err):
		return "PRECONDITION_FAILED"
	case IsProtocol(err):
		return "PROTOCOL_ERROR"
	case IsConfigRejected(err):
		return "CONFIG_REJECTED"
	case IsDaemonUnavailable(err):
		return "DAEMON_UNAVAILABLE"
	case IsTransient(err):
		return "TRANSIENT"
	case IsUnauthenticated(err):
		return "UNAUTHENTICATED"
	case IsForbidden(err):
		return "FORBIDDEN"
	default:
		return "INTERNAL"
	}
}

// FromCode reconstructs a classifiable error from a code and message
// carried in an API error body, so client-side callers can use the Is*
// helpers on errors that crossed the wire. The message is rebased: the
// kind's own text is stripped before rewrapping to avoid doubling it.
func FromCode(code, message string) error {
	var kind error
	switch code {
	case "":
		return nil
	case "CANCELLED":
		kind = context.Canceled
	case "NOT_FOUND":
		kind = ErrNotFound
	case "CONFLICT":
		kind = ErrConflict
	case "PRECONDITION_FAILED":
		kind = ErrPrecondition
	case "PROTOCOL_ERROR":
		kind = ErrProtocol
	case "CONFIG_REJECTED":
		kind = ErrConfigRejected
	case "DAEMON_UNAVAILABLE":
		kind = ErrDaemonUnavailable
	case "TRANSIENT":
		kind = ErrTransient
	case "UNAUTHENTICATED":
		kind = ErrUnauthenticated
	case "FORBIDDEN":
		kind = ErrForbidden
	default:
		kind = ErrFatal
	}
	if msg := rebase(kind, message); msg != "" {
		return fmt.Errorf("%s: %w", msg, kind)
	}
	return kind
}

func rebase(kind error, message string) string {
	suffix := kind.Error()
	if message == suffix {
		return ""
	}
	return strings.TrimSuffix(message, ": "+suffix)
}

// HTTPStatus maps err to the HTTP status the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsCancelled(err):
		return 499 // client closed request (nginx convention)
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsPrecondition(err):
		return http.StatusUnprocessableEntity
	case IsProtocol(err):
		return http.StatusBadRequest
	case IsConfigRejected(err):
		return http.StatusBadGateway
	case IsDaemonUnavailable(err), IsTransient(err):
		return http.StatusServiceUnavailable
	case IsUnauthenticated(err):
		return http.StatusUnauthorized
	case IsForbidden(err):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
