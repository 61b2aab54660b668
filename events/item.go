package events

type ItemType string

const (
	ItemTypeMessage            ItemType = "message"
	ItemTypeFunctionCall       ItemType = "function_call"
	ItemTypeFunctionCallOutput ItemType = "function_call_output"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ItemStatus string

const (
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
	StatusIncomplete ItemStatus = "incomplete"
)

type ContentType string

const (
	ContentInputText  ContentType = "input_text"
	ContentInputAudio ContentType = "input_audio"
	ContentText       ContentType = "text"
	ContentAudio      ContentType = "audio"
)

// Item is a conversation item as it appears on the wire.
type Item struct {
	ID        string        `json:"id,omitempty"`
	Object    string        `json:"object,omitempty"`
	Type      ItemType      `json:"type"`
	Role      Role          `json:"role,omitempty"`
	Status    ItemStatus    `json:"status,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// ContentPart is one part of a message. Audio is base64 PCM16.
type ContentPart struct {
	Type       ContentType `json:"type"`
	Text       string      `json:"text,omitempty"`
	Audio      string      `json:"audio,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
}

func InputText(text string) ContentPart {
	return ContentPart{Type: ContentInputText, Text: text}
}

// InputAudio wraps base64 encoded PCM16 audio.
func InputAudio(audio string) ContentPart {
	return ContentPart{Type: ContentInputAudio, Audio: audio}
}
