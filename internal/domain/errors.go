package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type ErrorKind string

const (
	KindDeviceNotFound       ErrorKind = "DEVICE_NOT_FOUND"
	KindConnectionTimeout    ErrorKind = "CONNECTION_TIMEOUT"
	KindNoDeviceConnected    ErrorKind = "NO_DEVICE_CONNECTED"
	KindPlaybackVerification ErrorKind = "PLAYBACK_VERIFICATION_FAILED"
	KindQueueIndex           ErrorKind = "QUEUE_INDEX_OUT_OF_RANGE"
	KindInvalidRepeatMode    ErrorKind = "INVALID_REPEAT_MODE"
	KindMediaLoad            ErrorKind = "MEDIA_LOAD_FAILED"
	KindTrackNotFound        ErrorKind = "TRACK_NOT_FOUND"
)

// CastError is the single error type that crosses the session/controller
// boundary. Every transport-layer failure, including synchronous faults
// raised while no session exists, is wrapped into one of the kinds above
// before propagating; raw transport errors never escape.
type CastError struct {
	Kind    ErrorKind
	Device  string
	Message string
	Err     error
}

func (e *CastError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Device != "" {
		return fmt.Sprintf("%s: %s (device %q)", e.Kind, msg, e.Device)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *CastError) Unwrap() error {
	return e.Err
}

func NewCastError(kind ErrorKind, device, format string, args ...any) *CastError {
	return &CastError{Kind: kind, Device: device, Message: fmt.Sprintf(format, args...)}
}

func WrapCastError(kind ErrorKind, device string, err error) *CastError {
	return &CastError{Kind: kind, Device: device, Err: err}
}

// IsKind reports whether err is a CastError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var castErr *CastError
	return errors.As(err, &castErr) && castErr.Kind == kind
}

// KindOf extracts the CastError kind from an error chain.
func KindOf(err error) (ErrorKind, bool) {
	var castErr *CastError
	if errors.As(err, &castErr) {
		return castErr.Kind, true
	}
	return "", false
}

// IsTransient reports whether an error looks like a recoverable transport
// fault. Invalid input and verification failures are not transient; a
// vanished session or a network hiccup is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if kind, ok := KindOf(err); ok {
		switch kind {
		case KindConnectionTimeout, KindNoDeviceConnected, KindMediaLoad:
			return true
		case KindDeviceNotFound, KindQueueIndex, KindInvalidRepeatMode,
			KindPlaybackVerification, KindTrackNotFound:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"temporar",
		"connection reset",
		"connection refused",
		"connection closed",
		"broken pipe",
		"unexpected eof",
		"i/o timeout",
		"network is unreachable",
		"no route to host",
		"no media session",
		"session closed",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
