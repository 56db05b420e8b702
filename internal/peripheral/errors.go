package peripheral

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// TransportKind classifies a failed send-notification.
type TransportKind string

const (
	TransportBusy TransportKind = "transport_busy"
	NotConnected  TransportKind = "not_connected"
	NotSubscribed TransportKind = "not_subscribed"
)

// TransportError is a send failure the streaming loop is expected to absorb.
type TransportError struct {
	Kind TransportKind
	Msg  string
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare TransportError values by Kind
func (e *TransportError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for transport failures
var (
	ErrTransportBusy = &TransportError{Kind: TransportBusy}
	ErrNotConnected  = &TransportError{Kind: NotConnected}
	ErrNotSubscribed = &TransportError{Kind: NotSubscribed}
)

// Setup errors. These are configuration faults and abort startup.
var (
	ErrUnexpectedLayout = errors.New("unexpected attribute handle layout")
	ErrCCCDNotFound     = errors.New("subscription control descriptor not found at TX handle + 1")
	ErrPayloadTooLong   = errors.New("advertising payload exceeds 31 bytes")
)

// IsTransient reports whether err is one of the transport failures that the
// streaming loop drops without surfacing.
func IsTransient(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

// NormalizeError maps known stack error strings and errnos to TransportError
// kinds. Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return err
	}

	switch {
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.ENOBUFS), errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %v", ErrTransportBusy, err)
	case errors.Is(err, syscall.ENOTCONN), errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "buffer full"), containsIgnoreCase(msg, "busy"),
		containsIgnoreCase(msg, "resource temporarily unavailable"):
		return fmt.Errorf("%w: %v", ErrTransportBusy, err)
	case containsIgnoreCase(msg, "not connected"), containsIgnoreCase(msg, "disconnected"),
		containsIgnoreCase(msg, "closed"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "not subscribed"), containsIgnoreCase(msg, "notifications disabled"):
		return fmt.Errorf("%w: %v", ErrNotSubscribed, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
