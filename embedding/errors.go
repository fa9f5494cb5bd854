package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is wrapped by every malformed-frame error.
	ErrProtocol = errors.New("embedding: protocol error")

	ErrInvalidMagic       = fmt.Errorf("%w: invalid magic", ErrProtocol)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrProtocol)
	ErrInvalidTargetFlag  = fmt.Errorf("%w: invalid target flag", ErrProtocol)
	ErrPayloadTooLarge    = fmt.Errorf("%w: payload too large", ErrProtocol)
	ErrMalformedResponse  = fmt.Errorf("%w: malformed response payload", ErrProtocol)

	// ErrConnectionClosed is returned when the stream ends inside a frame.
	ErrConnectionClosed = errors.New("embedding: connection closed mid-frame")

	// ErrValidation is wrapped by local input checks and the dimension check.
	ErrValidation   = errors.New("embedding: validation failed")
	ErrEmptyText    = fmt.Errorf("%w: cannot embed empty text", ErrValidation)
	ErrTextTooShort = fmt.Errorf("%w: text too short for a meaningful embedding", ErrValidation)

	// ErrTimeout is returned when connect or the round trip exceeds the
	// client timeout.
	ErrTimeout = errors.New("embedding: timed out")
)

// DimensionError reports a vector of the wrong length.
type DimensionError struct {
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding: invalid dimension: got %d, expected %d", e.Got, e.Want)
}

func (e *DimensionError) Unwrap() error {
	return ErrValidation
}

// RemoteError is an explicit error object returned by the embedding service.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "embedding: server error: " + e.Message
}
