package events

import (
	"encoding/json"
	"fmt"
)

// ServerEvent is the union of every field the client reads from inbound
// events. Unused fields stay zero; Raw keeps the original frame.
type ServerEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`

	Session  json.RawMessage   `json:"session,omitempty"`
	Item     *Item             `json:"item,omitempty"`
	Response *ResponseResource `json:"response,omitempty"`
	Part     *ContentPart      `json:"part,omitempty"`
	Error    *ErrorDetail      `json:"error,omitempty"`

	ItemID         string `json:"item_id,omitempty"`
	PreviousItemID string `json:"previous_item_id,omitempty"`
	ResponseID     string `json:"response_id,omitempty"`
	OutputIndex    int    `json:"output_index,omitempty"`
	ContentIndex   int    `json:"content_index,omitempty"`
	AudioStartMS   int    `json:"audio_start_ms,omitempty"`
	AudioEndMS     int    `json:"audio_end_ms,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
	Delta          string `json:"delta,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseServerEvent decodes a frame and keeps a copy of its bytes.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	evt, err := Parse[ServerEvent](data)
	if err != nil {
		return nil, err
	}
	evt.Raw = append(json.RawMessage(nil), data...)
	return evt, nil
}

type ResponseResource struct {
	ID     string `json:"id"`
	Object string `json:"object,omitempty"`
	Status string `json:"status,omitempty"`
	Output []Item `json:"output,omitempty"`
}

type ErrorEvent struct {
	BaseEvent
	ErrorDetail ErrorDetail `json:"error"`
}

func (e *ErrorEvent) Error() string {
	return e.ErrorDetail.Error()
}

// ErrorDetail holds the details of the error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
	EventID string `json:"event_id"`
}

func (e *ErrorDetail) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
