package gzstream

import (
	"errors"
	"fmt"
)

// State errors. These report API misuse (wrong mode, use after close) and
// are never transient.
var (
	ErrClosed            = errors.New("gzstream: operation on closed stream")
	ErrNotOpenForReading = errors.New("gzstream: stream not open for reading")
	ErrNotOpenForWriting = errors.New("gzstream: stream not open for writing")
)

// ErrBadData reports malformed gzip input, as opposed to a transport
// failure. Match with errors.Is; the decoder cause stays reachable
// through Unwrap.
var ErrBadData = errors.New("gzstream: invalid gzip data")

type badDataError struct {
	msg   string
	cause error
}

func (e *badDataError) Error() string {
	if e.cause == nil {
		return "gzstream: invalid gzip data: " + e.msg
	}
	return fmt.Sprintf("gzstream: invalid gzip data: %s: %v", e.msg, e.cause)
}

func (e *badDataError) Unwrap() error { return e.cause }

func (e *badDataError) Is(target error) bool { return target == ErrBadData }

func badData(cause error, msg string) error {
	return &badDataError{msg: msg, cause: cause}
}
