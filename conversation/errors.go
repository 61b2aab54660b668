package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedEvent       = errors.New("conversation: malformed event")
	ErrUnknownEventType     = errors.New("conversation: no processor for event type")
	ErrReferentialIntegrity = errors.New("conversation: referenced entity not found")
)

// ReferenceError reports an event that points at an item or response the
// conversation does not know.
type ReferenceError struct {
	EventType string
	Kind      string // "item" or "response"
	ID        string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s: %s %q not found", e.EventType, e.Kind, e.ID)
}

func (e *ReferenceError) Is(target error) bool {
	return target == ErrReferentialIntegrity
}

func missingItem(eventType, id string) error {
	return &ReferenceError{EventType: eventType, Kind: "item", ID: id}
}

func missingResponse(eventType, id string) error {
	return &ReferenceError{EventType: eventType, Kind: "response", ID: id}
}

func malformed(eventType, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedEvent, eventType, reason)
}
