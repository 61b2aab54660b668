package api

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyConnected = errors.New("realtime api: already connected")
	ErrNotConnected     = errors.New("realtime api: not connected")
	ErrInvalidPayload   = errors.New("realtime api: event body must be a JSON object")
)

// ConnectionError reports a failed connection attempt.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("realtime api: could not connect: %v", e.Err)
	}
	return fmt.Sprintf("realtime api: could not connect to %q: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
