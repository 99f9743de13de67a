package k648x

import (
	"github.com/pkg/errors"
)

// Error kinds. Every error returned by a Session wraps exactly one of
// these; test with errors.Is.
var (
	// ErrTransport covers link failures, timeouts and short writes. Each
	// occurrence increments the session's ioErrors counter.
	ErrTransport = errors.New("transport error")
	// ErrProtocol means the instrument answered with something the
	// parameter cannot decode.
	ErrProtocol = errors.New("protocol error")
	// ErrDomain means a written value is outside the parameter's range.
	ErrDomain = errors.New("value out of range")
	// ErrNotReady means the session has not completed initialization.
	ErrNotReady = errors.New("device not ready")

	// ErrResolution is the parent of both tag resolution failures.
	ErrResolution = errors.New("tag resolution failed")
	// ErrNotFound means no registry entry carries the tag.
	ErrNotFound = errors.WithMessage(ErrResolution, "unknown tag")
	// ErrWrongVariant means the tag exists but not for this model.
	ErrWrongVariant = errors.WithMessage(ErrResolution, "tag is for a different device")
)

func protocolErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocol, format, args...)
}

func domainErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrDomain, format, args...)
}
