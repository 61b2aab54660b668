package events

import "github.com/codewandler/realtime-go/tool"

// Bodies of outbound events. The transport adds event_id and type.

type SessionUpdateBody struct {
	Session SessionConfig `json:"session"`
}

type ItemCreateBody struct {
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

type AudioAppendBody struct {
	Audio string `json:"audio"`
}

type ItemTruncateBody struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

type ItemDeleteBody struct {
	ItemID string `json:"item_id"`
}

type ResponseCreateBody struct {
	Response *ResponseCreatePayload `json:"response,omitempty"`
}

type ResponseCreatePayload struct {
	Modalities        []string    `json:"modalities,omitempty"`
	Instructions      string      `json:"instructions,omitempty"`
	Voice             string      `json:"voice,omitempty"`
	OutputAudioFormat AudioFormat `json:"output_audio_format,omitempty"`
	Tools             []tool.Tool `json:"tools,omitempty"`
	ToolChoice        tool.Choice `json:"tool_choice,omitempty"`
	Temperature       float64     `json:"temperature,omitempty"`
	MaxOutputTokens   int         `json:"max_output_tokens,omitempty"`
}

type ConcurrentAgentAddBody struct {
	PromptInstructions string `json:"prompt_instructions"`
	MetadataTopic      string `json:"metadata_topic"`
	MessageID          string `json:"message_id"`
}
