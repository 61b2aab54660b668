package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventID(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		id := NewEventID()
		require.Len(t, id, idLength)
		require.True(t, strings.HasPrefix(id, EventIDPrefix))
		for _, r := range strings.TrimPrefix(id, EventIDPrefix) {
			require.Contains(t, idAlphabet, string(r))
		}
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestSessionUpdate_ApplyOnlySetFields(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.TurnDetection = DefaultServerVAD()

	SessionUpdate{
		Voice:       Some(VoiceAsh),
		Temperature: Some(0.0),
	}.Apply(&cfg)

	assert.Equal(t, VoiceAsh, cfg.Voice)
	assert.Equal(t, 0.0, cfg.Temperature)
	assert.Equal(t, []string{ModalityText, ModalityAudio}, cfg.Modalities)
	assert.Equal(t, 4096, cfg.MaxResponseOutputTokens)
	require.NotNil(t, cfg.TurnDetection)

	SessionUpdate{TurnDetection: Some[*TurnDetection](nil)}.Apply(&cfg)
	assert.Nil(t, cfg.TurnDetection)
}

func TestSessionConfig_JSONKeepsNulls(t *testing.T) {
	data, err := json.Marshal(DefaultSessionConfig())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	assert.Contains(t, m, "turn_detection")
	assert.Nil(t, m["turn_detection"])
	assert.Contains(t, m, "input_audio_transcription")
	assert.Equal(t, "", m["instructions"])
	assert.Equal(t, []any{}, m["tools"])
}

func TestTurnDetection_ExplicitFalseIsSent(t *testing.T) {
	td := DefaultServerVAD()
	data, err := json.Marshal(td)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "create_response")

	td.CreateResponse = Bool(false)
	td.InterruptResponse = Bool(false)
	data, err = json.Marshal(td)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, false, m["create_response"])
	assert.Equal(t, false, m["interrupt_response"])

	cfg := DefaultSessionConfig()
	cfg.TurnDetection = td
	clone := cfg.Clone()
	*clone.TurnDetection.CreateResponse = true
	assert.False(t, *td.CreateResponse)
}

func TestParseServerEvent(t *testing.T) {
	frame := []byte(`{"event_id":"e1","type":"response.text.delta","item_id":"i1","content_index":2,"delta":"hi"}`)

	evt, err := ParseServerEvent(frame)
	require.NoError(t, err)
	assert.Equal(t, "e1", evt.EventID)
	assert.Equal(t, TypeResponseTextDelta, evt.Type)
	assert.Equal(t, "i1", evt.ItemID)
	assert.Equal(t, 2, evt.ContentIndex)
	assert.Equal(t, "hi", evt.Delta)
	assert.JSONEq(t, string(frame), string(evt.Raw))

	_, err = ParseServerEvent([]byte(`not json`))
	require.Error(t, err)
}
