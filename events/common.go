package events

import (
	"encoding/json"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// idAlphabet is base58: no 0, O, I or l.
	idAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	idLength   = 21

	EventIDPrefix = "evt_"
	ItemIDPrefix  = "item_"
)

// NewID returns prefix followed by random base58 characters, idLength
// characters in total.
func NewID(prefix string) string {
	n := idLength - len(prefix)
	if n < 1 {
		n = 1
	}
	return prefix + nanoid.MustGenerate(idAlphabet, n)
}

// NewEventID returns a fresh outbound event id.
func NewEventID() string {
	return NewID(EventIDPrefix)
}

type BaseEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

func Parse[T any](data []byte) (*T, error) {
	var x T
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}
