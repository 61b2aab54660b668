package conversation

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/realtime-go/events"
	"github.com/codewandler/realtime-go/pcm"
)

var eventSeq int

func event(eventType string, mutate func(e *events.ServerEvent)) *events.ServerEvent {
	eventSeq++
	e := &events.ServerEvent{EventID: fmt.Sprintf("evt_%d", eventSeq), Type: eventType}
	if mutate != nil {
		mutate(e)
	}
	return e
}

func created(item events.Item) *events.ServerEvent {
	return event(events.TypeConversationItemCreated, func(e *events.ServerEvent) { e.Item = &item })
}

func process(t *testing.T, c *Conversation, e *events.ServerEvent) Result {
	t.Helper()
	res, err := c.ProcessEvent(e, nil)
	require.NoError(t, err)
	return res
}

func ids(items []*Item) []string {
	out := make([]string, 0, len(items))
	for _, i := range items {
		out = append(out, i.ID)
	}
	return out
}

func assertConsistent(t *testing.T, c *Conversation) {
	t.Helper()
	require.Equal(t, len(c.items.byID), len(c.items.order))
	for _, id := range c.items.order {
		_, ok := c.items.byID[id]
		require.True(t, ok, id)
	}
}

func TestProcessEvent_Validation(t *testing.T) {
	c := New()

	_, err := c.ProcessEvent(&events.ServerEvent{Type: events.TypeResponseCreated}, nil)
	require.ErrorIs(t, err, ErrMalformedEvent)

	_, err = c.ProcessEvent(&events.ServerEvent{EventID: "evt_1"}, nil)
	require.ErrorIs(t, err, ErrMalformedEvent)

	_, err = c.ProcessEvent(event("session.created", nil), nil)
	require.ErrorIs(t, err, ErrUnknownEventType)

	_, err = c.ProcessEvent(event(events.TypeConversationItemCreated, nil), nil)
	require.ErrorIs(t, err, ErrMalformedEvent)

	assert.True(t, Handles(events.TypeResponseTextDelta))
	assert.False(t, Handles(events.TypeSessionCreated))
	assert.Len(t, EventTypes(), 14)
}

func TestItemCreated_AssistantTranscriptDeltas(t *testing.T) {
	c := New()

	res := process(t, c, created(events.Item{ID: "itm_1", Type: events.ItemTypeMessage, Role: events.RoleAssistant}))
	require.NotNil(t, res.Item)
	assert.Nil(t, res.Delta)
	assert.Equal(t, events.StatusInProgress, res.Item.Status)
	assert.Empty(t, res.Item.Formatted.Text)
	assert.Empty(t, res.Item.Formatted.Transcript)
	assert.Empty(t, res.Item.Formatted.Audio)

	process(t, c, event(events.TypeResponseContentPartAdded, func(e *events.ServerEvent) {
		e.ItemID = "itm_1"
		e.Part = &events.ContentPart{Type: events.ContentAudio}
	}))

	for _, d := range []string{"Hel", "lo"} {
		res = process(t, c, event(events.TypeResponseAudioTranscriptDelta, func(e *events.ServerEvent) {
			e.ItemID = "itm_1"
			e.ContentIndex = 0
			e.Delta = d
		}))
		require.NotNil(t, res.Delta)
		assert.Equal(t, d, res.Delta.Transcript)
	}

	item, ok := c.Item("itm_1")
	require.True(t, ok)
	assert.Equal(t, "Hello", item.Formatted.Transcript)
	assert.Equal(t, "Hello", item.Content[0].Transcript)
}

func TestItemCreated_InitialState(t *testing.T) {
	c := New()

	user := process(t, c, created(events.Item{
		ID:   "u1",
		Type: events.ItemTypeMessage,
		Role: events.RoleUser,
		Content: []events.ContentPart{
			events.InputText("hello "),
			events.InputAudio(""),
			events.InputText("world"),
		},
	})).Item
	assert.Equal(t, events.StatusCompleted, user.Status)
	assert.Equal(t, "hello world", user.Formatted.Text)

	call := process(t, c, created(events.Item{
		ID:     "f1",
		Type:   events.ItemTypeFunctionCall,
		Name:   "get_time",
		CallID: "call_1",
	})).Item
	assert.Equal(t, events.StatusInProgress, call.Status)
	require.NotNil(t, call.Formatted.Tool)
	assert.Equal(t, FormattedTool{Type: "function", Name: "get_time", CallID: "call_1"}, *call.Formatted.Tool)

	out := process(t, c, created(events.Item{
		ID:     "o1",
		Type:   events.ItemTypeFunctionCallOutput,
		CallID: "call_1",
		Output: `{"ok":true}`,
	})).Item
	assert.Equal(t, events.StatusCompleted, out.Status)
	assert.Equal(t, `{"ok":true}`, out.Formatted.Output)
}

func TestItemCreated_DeepCopiesAndIsIdempotent(t *testing.T) {
	c := New()

	in := events.Item{ID: "a", Type: events.ItemTypeMessage, Role: events.RoleAssistant,
		Content: []events.ContentPart{{Type: events.ContentText, Text: "x"}}}
	e := created(in)
	first := process(t, c, e).Item

	e.Item.Content[0].Text = "mutated"
	assert.Equal(t, "x", first.Content[0].Text)

	second := process(t, c, created(in)).Item
	assert.Same(t, first, second)
	assert.Len(t, c.Items(), 1)
}

func TestItemCreated_UserConsumesQueuedInputAudio(t *testing.T) {
	c := New()

	c.QueueInputAudio([]int16{1, 2, 3})
	user := process(t, c, created(events.Item{ID: "u1", Type: events.ItemTypeMessage, Role: events.RoleUser})).Item
	assert.Equal(t, []int16{1, 2, 3}, user.Formatted.Audio)

	next := process(t, c, created(events.Item{ID: "u2", Type: events.ItemTypeMessage, Role: events.RoleUser})).Item
	assert.Empty(t, next.Formatted.Audio)
}

func TestItemOrderAndDeletion(t *testing.T) {
	c := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		process(t, c, created(events.Item{ID: id, Type: events.ItemTypeMessage, Role: events.RoleAssistant}))
	}

	res := process(t, c, event(events.TypeConversationItemDeleted, func(e *events.ServerEvent) { e.ItemID = "b" }))
	assert.Equal(t, "b", res.Item.ID)
	assert.Equal(t, []string{"a", "c", "d"}, ids(c.Items()))
	assertConsistent(t, c)

	_, err := c.ProcessEvent(event(events.TypeConversationItemDeleted, func(e *events.ServerEvent) { e.ItemID = "b" }), nil)
	require.ErrorIs(t, err, ErrReferentialIntegrity)
	var refErr *ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "item", refErr.Kind)
	assert.Equal(t, "b", refErr.ID)

	// Items is a snapshot
	snapshot := c.Items()
	process(t, c, created(events.Item{ID: "e", Type: events.ItemTypeMessage, Role: events.RoleAssistant}))
	assert.Len(t, snapshot, 3)

	process(t, c, event(events.TypeResponseTextDelta, func(e *events.ServerEvent) {
		e.ItemID = "e"
		e.Delta = "hi"
	}))
	before := c.Items()
	process(t, c, event(events.TypeResponseTextDelta, func(e *events.ServerEvent) {
		e.ItemID = "e"
		e.Delta = " there"
	}))
	assert.Equal(t, "hi", before[3].Formatted.Text)
	live, ok := c.Item("e")
	require.True(t, ok)
	assert.Equal(t, "hi there", live.Formatted.Text)
}

func TestStoreConsistencyUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := New()
	var want []string

	for i := range 500 {
		if len(want) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(want))
			id := want[idx]
			process(t, c, event(events.TypeConversationItemDeleted, func(e *events.ServerEvent) { e.ItemID = id }))
			want = append(want[:idx], want[idx+1:]...)
		} else {
			id := fmt.Sprintf("item_%d", i)
			process(t, c, created(events.Item{ID: id, Type: events.ItemTypeMessage, Role: events.RoleAssistant}))
			want = append(want, id)
		}
		assertConsistent(t, c)
	}
	assert.Equal(t, want, ids(c.Items()))
}

func TestItemTruncated(t *testing.T) {
	c := New()
	process(t, c, created(events.Item{ID: "a", Type: events.ItemTypeMessage, Role: events.RoleAssistant}))

	audio := make([]int16, 24_000)
	for i := range audio {
		audio[i] = int16(i)
	}
	process(t, c, event(events.TypeResponseAudioDelta, func(e *events.ServerEvent) {
		e.ItemID = "a"
		e.Delta = pcm.EncodeBase64(audio)
	}))
	process(t, c, event(events.TypeResponseAudioTranscriptDelta, func(e *events.ServerEvent) {
		e.ItemID = "a"
		e.Delta = "something"
	}))

	res := process(t, c, event(events.TypeConversationItemTruncated, func(e *events.ServerEvent) {
		e.ItemID = "a"
		e.AudioEndMS = 333
	}))
	assert.Len(t, res.Item.Formatted.Audio, 333*24_000/1000)
	assert.Equal(t, audio[:7992], res.Item.Formatted.Audio)
	assert.Empty(t, res.Item.Formatted.Transcript)

	// truncating past the end keeps everything
	res = process(t, c, event(events.TypeConversationItemTruncated, func(e *events.ServerEvent) {
		e.ItemID = "a"
		e.AudioEndMS = 10_000
	}))
	assert.Len(t, res.Item.Formatted.Audio, 7992)

	_, err := c.ProcessEvent(event(events.TypeConversationItemTruncated, func(e *events.ServerEvent) { e.ItemID = "zzz" }), nil)
	require.ErrorIs(t, err, ErrReferentialIntegrity)
}

func TestTranscriptQueuedBeforeItem(t *testing.T) {
	c := New()

	res := process(t, c, event(events.TypeInputAudioTranscriptionCompleted, func(e *events.ServerEvent) {
		e.ItemID = "u1"
		e.Transcript = ""
	}))
	assert.Nil(t, res.Item)

	user := process(t, c, created(events.Item{ID: "u1", Type: events.ItemTypeMessage, Role: events.RoleUser})).Item
	assert.Equal(t, " ", user.Formatted.Transcript)
	assert.Empty(t, c.queuedTranscripts)

	process(t, c, event(events.TypeInputAudioTranscriptionCompleted, func(e *events.ServerEvent) {
		e.ItemID = "u2"
		e.Transcript = "hi there"
	}))
	user2 := process(t, c, created(events.Item{ID: "u2", Type: events.ItemTypeMessage, Role: events.RoleUser})).Item
	assert.Equal(t, "hi there", user2.Formatted.Transcript)
}

func TestTranscriptForExistingItem(t *testing.T) {
	c := New()
	process(t, c, created(events.Item{
		ID:      "u1",
		Type:    events.ItemTypeMessage,
		Role:    events.RoleUser,
		Content: []events.ContentPart{events.InputAudio("")},
	}))

	res := process(t, c, event(events.TypeInputAudioTranscriptionCompleted, func(e *events.ServerEvent) {
		e.ItemID = "u1"
		e.Transcript = "hello"
	}))
	require.NotNil(t, res.Delta)
	assert.Equal(t, "hello", res.Delta.Transcript)
	assert.Equal(t, "hello", res.Item.Formatted.Transcript)
	assert.Equal(t, "hello", res.Item.Content[0].Transcript)
}

func TestSpeechStartedBeforeItemCreated(t *testing.T) {
	c := New()

	input := make([]int16, 48_000)
	for i := range input {
		input[i] = int16(i % 30_000)
	}

	process(t, c, event(events.TypeInputAudioBufferSpeechStarted, func(e *events.ServerEvent) {
		e.ItemID = "itm_2"
		e.AudioStartMS = 100
	}))
	user := process(t, c, created(events.Item{ID: "itm_2", Type: events.ItemTypeMessage, Role: events.RoleUser})).Item
	assert.Equal(t, events.StatusCompleted, user.Status)

	res, err := c.ProcessEvent(event(events.TypeInputAudioBufferSpeechStopped, func(e *events.ServerEvent) {
		e.ItemID = "itm_2"
		e.AudioEndMS = 300
	}), input)
	require.NoError(t, err)
	require.NotNil(t, res.Item)

	item, _ := c.Item("itm_2")
	assert.Equal(t, input[2400:7200], item.Formatted.Audio)
	assert.Empty(t, c.queuedSpeech)
}

func TestSpeechStoppedBeforeItemCreated(t *testing.T) {
	c := New()

	input := make([]int16, 48_000)
	for i := range input {
		input[i] = int16(i % 1000)
	}

	process(t, c, event(events.TypeInputAudioBufferSpeechStarted, func(e *events.ServerEvent) {
		e.ItemID = "u1"
		e.AudioStartMS = 1000
	}))
	res, err := c.ProcessEvent(event(events.TypeInputAudioBufferSpeechStopped, func(e *events.ServerEvent) {
		e.ItemID = "u1"
		e.AudioEndMS = 1500
	}), input)
	require.NoError(t, err)
	assert.Nil(t, res.Item)

	user := process(t, c, created(events.Item{ID: "u1", Type: events.ItemTypeMessage, Role: events.RoleUser})).Item
	assert.Equal(t, input[24_000:36_000], user.Formatted.Audio)
	assert.Empty(t, c.queuedSpeech)

	// the slice is a copy
	input[24_000] = -1
	assert.NotEqual(t, int16(-1), user.Formatted.Audio[0])
}

func TestSpeechStoppedWithoutStart(t *testing.T) {
	c := New()

	res, err := c.ProcessEvent(event(events.TypeInputAudioBufferSpeechStopped, func(e *events.ServerEvent) {
		e.ItemID = "u9"
		e.AudioEndMS = 500
	}), make([]int16, 24_000))
	require.NoError(t, err)
	assert.Nil(t, res.Item)

	seg := c.queuedSpeech["u9"]
	require.NotNil(t, seg)
	assert.Equal(t, 500, seg.startMS)
	require.NotNil(t, seg.endMS)
	assert.Equal(t, 500, *seg.endMS)
	assert.NotNil(t, seg.audio)
	assert.Empty(t, seg.audio)
}

func TestResponses(t *testing.T) {
	c := New()

	_, err := c.ProcessEvent(event(events.TypeResponseOutputItemAdded, func(e *events.ServerEvent) {
		e.ResponseID = "resp_1"
		e.Item = &events.Item{ID: "a"}
	}), nil)
	require.ErrorIs(t, err, ErrReferentialIntegrity)

	for range 2 {
		process(t, c, event(events.TypeResponseCreated, func(e *events.ServerEvent) {
			e.Response = &events.ResponseResource{ID: "resp_1"}
		}))
	}
	require.Len(t, c.Responses(), 1)

	for _, id := range []string{"a", "b"} {
		process(t, c, event(events.TypeResponseOutputItemAdded, func(e *events.ServerEvent) {
			e.ResponseID = "resp_1"
			e.Item = &events.Item{ID: id}
		}))
	}
	resp, ok := c.Response("resp_1")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, resp.Output)

	_, err = c.ProcessEvent(event(events.TypeResponseCreated, nil), nil)
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func TestOutputItemDone(t *testing.T) {
	c := New()

	res := process(t, c, event(events.TypeResponseOutputItemDone, func(e *events.ServerEvent) {
		e.Item = &events.Item{ID: "unknown", Status: events.StatusCompleted}
	}))
	assert.Nil(t, res.Item)

	process(t, c, created(events.Item{ID: "a", Type: events.ItemTypeMessage, Role: events.RoleAssistant}))
	res = process(t, c, event(events.TypeResponseOutputItemDone, func(e *events.ServerEvent) {
		e.Item = &events.Item{ID: "a", Status: events.StatusIncomplete}
	}))
	require.NotNil(t, res.Item)
	assert.Equal(t, events.StatusIncomplete, res.Item.Status)

	_, err := c.ProcessEvent(event(events.TypeResponseOutputItemDone, nil), nil)
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func TestTolerantAndStrictHandlers(t *testing.T) {
	c := New()

	tolerant := []string{
		events.TypeResponseContentPartAdded,
		events.TypeResponseTextDelta,
		events.TypeResponseFunctionCallArgumentsDelta,
	}
	for _, typ := range tolerant {
		res, err := c.ProcessEvent(event(typ, func(e *events.ServerEvent) {
			e.ItemID = "missing"
			e.Delta = "x"
			e.Part = &events.ContentPart{Type: events.ContentText}
		}), nil)
		require.NoError(t, err, typ)
		assert.Nil(t, res.Item, typ)
	}

	strict := []string{
		events.TypeResponseAudioTranscriptDelta,
		events.TypeResponseAudioDelta,
		events.TypeConversationItemTruncated,
		events.TypeConversationItemDeleted,
	}
	for _, typ := range strict {
		_, err := c.ProcessEvent(event(typ, func(e *events.ServerEvent) {
			e.ItemID = "missing"
			e.Delta = "AAAA"
		}), nil)
		require.ErrorIs(t, err, ErrReferentialIntegrity, typ)
	}
}

func TestDeltasAreIncremental(t *testing.T) {
	c := New()
	process(t, c, created(events.Item{ID: "a", Type: events.ItemTypeMessage, Role: events.RoleAssistant,
		Content: []events.ContentPart{{Type: events.ContentText}}}))
	process(t, c, created(events.Item{ID: "f", Type: events.ItemTypeFunctionCall, Name: "fn", CallID: "c"}))

	chunks := [][]int16{{1, 2}, {3}, {4, 5, 6}}
	var all []int16
	for _, chunk := range chunks {
		res := process(t, c, event(events.TypeResponseAudioDelta, func(e *events.ServerEvent) {
			e.ItemID = "a"
			e.Delta = pcm.EncodeBase64(chunk)
		}))
		assert.Equal(t, chunk, res.Delta.Audio)
		all = append(all, chunk...)
		assert.Equal(t, all, res.Item.Formatted.Audio)
	}

	text := ""
	for _, d := range []string{"a", "bc", "", "def"} {
		res := process(t, c, event(events.TypeResponseTextDelta, func(e *events.ServerEvent) {
			e.ItemID = "a"
			e.Delta = d
		}))
		assert.Equal(t, d, res.Delta.Text)
		text += d
		assert.Equal(t, text, res.Item.Formatted.Text)
		assert.Equal(t, text, res.Item.Content[0].Text)
	}

	args := ""
	for _, d := range []string{`{"ci`, `ty":"`, `Berlin"}`} {
		res := process(t, c, event(events.TypeResponseFunctionCallArgumentsDelta, func(e *events.ServerEvent) {
			e.ItemID = "f"
			e.Delta = d
		}))
		assert.Equal(t, d, res.Delta.Arguments)
		args += d
		assert.Equal(t, args, res.Item.Formatted.Tool.Arguments)
		assert.Equal(t, args, res.Item.Arguments)
	}

	_, err := c.ProcessEvent(event(events.TypeResponseAudioDelta, func(e *events.ServerEvent) {
		e.ItemID = "a"
		e.Delta = "!!not base64"
	}), nil)
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func TestClear(t *testing.T) {
	c := New()
	process(t, c, created(events.Item{ID: "a", Type: events.ItemTypeMessage, Role: events.RoleAssistant}))
	process(t, c, event(events.TypeResponseCreated, func(e *events.ServerEvent) {
		e.Response = &events.ResponseResource{ID: "r"}
	}))
	process(t, c, event(events.TypeInputAudioBufferSpeechStarted, func(e *events.ServerEvent) { e.ItemID = "x" }))
	c.QueueInputAudio([]int16{1})

	c.Clear()

	assert.Empty(t, c.Items())
	assert.Empty(t, c.Responses())
	assert.Empty(t, c.queuedSpeech)
	assert.False(t, c.inputAudioQueued)
	_, ok := c.Item("a")
	assert.False(t, ok)
}

func TestItemClone(t *testing.T) {
	c := New()
	process(t, c, created(events.Item{ID: "f", Type: events.ItemTypeFunctionCall, Name: "fn", CallID: "c",
		Content: []events.ContentPart{{Type: events.ContentText, Text: "t"}}}))
	item, _ := c.Item("f")
	item.Formatted.Audio = []int16{1, 2}

	clone := item.Clone()
	require.NotSame(t, item, clone)
	assert.Equal(t, "f", clone.ID)
	assert.Equal(t, "fn", clone.Name)
	require.NotNil(t, clone.Formatted.Tool)
	assert.NotSame(t, item.Formatted.Tool, clone.Formatted.Tool)

	clone.Formatted.Audio[0] = 9
	clone.Content[0].Text = "changed"
	clone.Formatted.Tool.Arguments = "{}"
	assert.Equal(t, int16(1), item.Formatted.Audio[0])
	assert.Equal(t, "t", item.Content[0].Text)
	assert.Empty(t, item.Formatted.Tool.Arguments)
}
