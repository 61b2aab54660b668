package events

import (
	"slices"

	"github.com/codewandler/realtime-go/tool"
)

// SessionConfig is the full configuration sent with every session.update.
// Null-able fields serialize as null when unset.
type SessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions"`
	Voice                   string         `json:"voice"`
	InputAudioFormat        AudioFormat    `json:"input_audio_format"`
	OutputAudioFormat       AudioFormat    `json:"output_audio_format"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription"`
	TurnDetection           *TurnDetection `json:"turn_detection"`
	Tools                   []tool.Tool    `json:"tools"`
	ToolChoice              tool.Choice    `json:"tool_choice"`
	Temperature             float64        `json:"temperature"`
	MaxResponseOutputTokens int            `json:"max_response_output_tokens"`
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities:              []string{ModalityText, ModalityAudio},
		Instructions:            "",
		Voice:                   VoiceAlloy,
		InputAudioFormat:        AudioFormatPCM16,
		OutputAudioFormat:       AudioFormatPCM16,
		Tools:                   []tool.Tool{},
		ToolChoice:              tool.ChoiceAuto,
		Temperature:             0.8,
		MaxResponseOutputTokens: 4096,
	}
}

// Clone returns a copy that shares no slices or pointers with c.
func (c SessionConfig) Clone() SessionConfig {
	out := c
	out.Modalities = slices.Clone(c.Modalities)
	out.Tools = slices.Clone(c.Tools)
	if c.InputAudioTranscription != nil {
		t := *c.InputAudioTranscription
		out.InputAudioTranscription = &t
	}
	if c.TurnDetection != nil {
		out.TurnDetection = c.TurnDetection.clone()
	}
	return out
}

// SessionUpdate is a partial SessionConfig: only set fields are merged.
// Tool definitions come from the client's tool registry instead.
type SessionUpdate struct {
	Modalities              Optional[[]string]
	Instructions            Optional[string]
	Voice                   Optional[string]
	InputAudioFormat        Optional[AudioFormat]
	OutputAudioFormat       Optional[AudioFormat]
	InputAudioTranscription Optional[*Transcription]
	TurnDetection           Optional[*TurnDetection]
	ToolChoice              Optional[tool.Choice]
	Temperature             Optional[float64]
	MaxResponseOutputTokens Optional[int]
}

// Apply merges u into c field by field.
func (u SessionUpdate) Apply(c *SessionConfig) {
	u.Modalities.apply(&c.Modalities)
	u.Instructions.apply(&c.Instructions)
	u.Voice.apply(&c.Voice)
	u.InputAudioFormat.apply(&c.InputAudioFormat)
	u.OutputAudioFormat.apply(&c.OutputAudioFormat)
	u.InputAudioTranscription.apply(&c.InputAudioTranscription)
	u.TurnDetection.apply(&c.TurnDetection)
	u.ToolChoice.apply(&c.ToolChoice)
	u.Temperature.apply(&c.Temperature)
	u.MaxResponseOutputTokens.apply(&c.MaxResponseOutputTokens)
}

type Transcription struct {
	Model string `json:"model"`
}

func DefaultTranscription() *Transcription {
	return &Transcription{Model: "whisper-1"}
}

// TurnDetection holds the VAD configuration.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	// nil leaves the server default (true) in place
	CreateResponse    *bool   `json:"create_response,omitempty"`
	InterruptResponse *bool   `json:"interrupt_response,omitempty"`
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

func (t *TurnDetection) clone() *TurnDetection {
	out := *t
	if t.CreateResponse != nil {
		out.CreateResponse = Bool(*t.CreateResponse)
	}
	if t.InterruptResponse != nil {
		out.InterruptResponse = Bool(*t.InterruptResponse)
	}
	return &out
}

const TurnDetectionServerVAD = "server_vad"

func DefaultServerVAD() *TurnDetection {
	return &TurnDetection{
		Type:              TurnDetectionServerVAD,
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 200,
	}
}
