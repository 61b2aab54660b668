package conversation

import (
	"fmt"
	"slices"

	"github.com/jinzhu/copier"

	"github.com/codewandler/realtime-go/events"
	"github.com/codewandler/realtime-go/pcm"
)

type processor func(c *Conversation, evt *events.ServerEvent, inputAudio []int16) (Result, error)

// processors is the dispatch table of ProcessEvent. Handlers for events
// that can race item creation (output_item.done, content_part.added,
// text and argument deltas) skip unknown items instead of failing.
var processors = map[string]processor{
	events.TypeConversationItemCreated:            (*Conversation).itemCreated,
	events.TypeConversationItemTruncated:          (*Conversation).itemTruncated,
	events.TypeConversationItemDeleted:            (*Conversation).itemDeleted,
	events.TypeInputAudioTranscriptionCompleted:   (*Conversation).transcriptionCompleted,
	events.TypeInputAudioBufferSpeechStarted:      (*Conversation).speechStarted,
	events.TypeInputAudioBufferSpeechStopped:      (*Conversation).speechStopped,
	events.TypeResponseCreated:                    (*Conversation).responseCreated,
	events.TypeResponseOutputItemAdded:            (*Conversation).outputItemAdded,
	events.TypeResponseOutputItemDone:             (*Conversation).outputItemDone,
	events.TypeResponseContentPartAdded:           (*Conversation).contentPartAdded,
	events.TypeResponseAudioTranscriptDelta:       (*Conversation).audioTranscriptDelta,
	events.TypeResponseAudioDelta:                 (*Conversation).audioDelta,
	events.TypeResponseTextDelta:                  (*Conversation).textDelta,
	events.TypeResponseFunctionCallArgumentsDelta: (*Conversation).functionCallArgumentsDelta,
}

func (c *Conversation) itemCreated(evt *events.ServerEvent, _ []int16) (Result, error) {
	if evt.Item == nil || evt.Item.ID == "" {
		return Result{}, malformed(evt.Type, `missing "item"`)
	}
	if existing, ok := c.items.get(evt.Item.ID); ok {
		return Result{Item: existing}, nil
	}

	item := &Item{}
	if err := copier.CopyWithOption(&item.Item, evt.Item, copier.Option{DeepCopy: true}); err != nil {
		return Result{}, fmt.Errorf("%s: copy item: %w", evt.Type, err)
	}
	item.Formatted = Formatted{Audio: []int16{}}

	// a finished speech segment carries the audio for this item
	if seg, ok := c.queuedSpeech[item.ID]; ok && seg.audio != nil {
		item.Formatted.Audio = seg.audio
		delete(c.queuedSpeech, item.ID)
	}

	for _, part := range item.Content {
		if part.Type == events.ContentText || part.Type == events.ContentInputText {
			item.Formatted.Text += part.Text
		}
	}

	if transcript, ok := c.queuedTranscripts[item.ID]; ok {
		item.Formatted.Transcript = transcript
		delete(c.queuedTranscripts, item.ID)
	}

	switch item.Type {
	case events.ItemTypeMessage:
		if item.Role == events.RoleUser {
			item.Status = events.StatusCompleted
			if c.inputAudioQueued {
				item.Formatted.Audio = c.queuedInputAudio
				c.queuedInputAudio = nil
				c.inputAudioQueued = false
			}
		} else {
			item.Status = events.StatusInProgress
		}
	case events.ItemTypeFunctionCall:
		item.Formatted.Tool = &FormattedTool{
			Type:   "function",
			Name:   item.Name,
			CallID: item.CallID,
		}
		item.Status = events.StatusInProgress
	case events.ItemTypeFunctionCallOutput:
		item.Status = events.StatusCompleted
		item.Formatted.Output = item.Output
	}

	c.items.add(item.ID, item)
	return Result{Item: item}, nil
}

func (c *Conversation) itemTruncated(evt *events.ServerEvent, _ []int16) (Result, error) {
	item, ok := c.items.get(evt.ItemID)
	if !ok {
		return Result{}, missingItem(evt.Type, evt.ItemID)
	}
	end := max(pcm.MSToSamples(evt.AudioEndMS, DefaultFrequency), 0)
	// the transcript no longer matches the retained audio
	item.Formatted.Transcript = ""
	if end < len(item.Formatted.Audio) {
		item.Formatted.Audio = slices.Clip(item.Formatted.Audio[:end])
	}
	return Result{Item: item}, nil
}

func (c *Conversation) itemDeleted(evt *events.ServerEvent, _ []int16) (Result, error) {
	item, ok := c.items.remove(evt.ItemID)
	if !ok {
		return Result{}, missingItem(evt.Type, evt.ItemID)
	}
	return Result{Item: item}, nil
}

func (c *Conversation) transcriptionCompleted(evt *events.ServerEvent, _ []int16) (Result, error) {
	if evt.ItemID == "" {
		return Result{}, malformed(evt.Type, `missing "item_id"`)
	}
	// a single space marks "transcribed, but empty"
	formatted := evt.Transcript
	if formatted == "" {
		formatted = " "
	}

	item, ok := c.items.get(evt.ItemID)
	if !ok {
		// in VAD mode the transcript can arrive before the item
		c.queuedTranscripts[evt.ItemID] = formatted
		return Result{}, nil
	}

	if evt.ContentIndex >= 0 && evt.ContentIndex < len(item.Content) {
		item.Content[evt.ContentIndex].Transcript = evt.Transcript
	}
	item.Formatted.Transcript = formatted
	return Result{Item: item, Delta: &Delta{Transcript: evt.Transcript}}, nil
}

func (c *Conversation) speechStarted(evt *events.ServerEvent, _ []int16) (Result, error) {
	c.queuedSpeech[evt.ItemID] = &queuedSpeech{startMS: evt.AudioStartMS}
	return Result{}, nil
}

func (c *Conversation) speechStopped(evt *events.ServerEvent, inputAudio []int16) (Result, error) {
	seg, ok := c.queuedSpeech[evt.ItemID]
	if !ok {
		seg = &queuedSpeech{startMS: evt.AudioEndMS}
		c.queuedSpeech[evt.ItemID] = seg
	}
	end := evt.AudioEndMS
	seg.endMS = &end

	if inputAudio == nil {
		return Result{}, nil
	}
	seg.audio = sliceSamples(inputAudio, seg.startMS, end)

	// the item may already exist when creation raced the stop event
	if item, ok := c.items.get(evt.ItemID); ok {
		item.Formatted.Audio = seg.audio
		delete(c.queuedSpeech, evt.ItemID)
		return Result{Item: item}, nil
	}
	return Result{}, nil
}

func (c *Conversation) responseCreated(evt *events.ServerEvent, _ []int16) (Result, error) {
	if evt.Response == nil || evt.Response.ID == "" {
		return Result{}, malformed(evt.Type, `missing "response"`)
	}
	c.responses.add(evt.Response.ID, &Response{ID: evt.Response.ID, Output: []string{}})
	return Result{}, nil
}

func (c *Conversation) outputItemAdded(evt *events.ServerEvent, _ []int16) (Result, error) {
	response, ok := c.responses.get(evt.ResponseID)
	if !ok {
		return Result{}, missingResponse(evt.Type, evt.ResponseID)
	}
	if evt.Item == nil {
		return Result{}, malformed(evt.Type, `missing "item"`)
	}
	response.Output = append(response.Output, evt.Item.ID)
	return Result{}, nil
}

func (c *Conversation) outputItemDone(evt *events.ServerEvent, _ []int16) (Result, error) {
	if evt.Item == nil {
		return Result{}, malformed(evt.Type, `missing "item"`)
	}
	item, ok := c.items.get(evt.Item.ID)
	if !ok {
		return Result{}, nil
	}
	item.Status = evt.Item.Status
	// the done event carries the complete arguments, even if deltas were missed
	if item.Formatted.Tool != nil && evt.Item.Arguments != "" {
		item.Arguments = evt.Item.Arguments
		item.Formatted.Tool.Arguments = evt.Item.Arguments
	}
	return Result{Item: item}, nil
}

func (c *Conversation) contentPartAdded(evt *events.ServerEvent, _ []int16) (Result, error) {
	item, ok := c.items.get(evt.ItemID)
	if !ok {
		return Result{}, nil
	}
	if evt.Part == nil {
		return Result{}, malformed(evt.Type, `missing "part"`)
	}
	item.Content = append(item.Content, *evt.Part)
	return Result{Item: item}, nil
}

func (c *Conversation) audioTranscriptDelta(evt *events.ServerEvent, _ []int16) (Result, error) {
	item, ok := c.items.get(evt.ItemID)
	if !ok {
		return Result{}, missingItem(evt.Type, evt.ItemID)
	}
	if part := item.part(evt.ContentIndex); part != nil {
		part.Transcript += evt.Delta
	}
	item.Formatted.Transcript += evt.Delta
	return Result{Item: item, Delta: &Delta{Transcript: evt.Delta}}, nil
}

func (c *Conversation) audioDelta(evt *events.ServerEvent, _ []int16) (Result, error) {
	item, ok := c.items.get(evt.ItemID)
	if !ok {
		return Result{}, missingItem(evt.Type, evt.ItemID)
	}
	samples, err := pcm.DecodeBase64(evt.Delta)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, evt.Type, err)
	}
	item.Formatted.Audio = append(item.Formatted.Audio, samples...)
	return Result{Item: item, Delta: &Delta{Audio: samples}}, nil
}

func (c *Conversation) textDelta(evt *events.ServerEvent, _ []int16) (Result, error) {
	item, ok := c.items.get(evt.ItemID)
	if !ok {
		return Result{}, nil
	}
	if part := item.part(evt.ContentIndex); part != nil {
		part.Text += evt.Delta
	}
	item.Formatted.Text += evt.Delta
	return Result{Item: item, Delta: &Delta{Text: evt.Delta}}, nil
}

func (c *Conversation) functionCallArgumentsDelta(evt *events.ServerEvent, _ []int16) (Result, error) {
	item, ok := c.items.get(evt.ItemID)
	if !ok {
		return Result{}, nil
	}
	if item.Type == events.ItemTypeFunctionCall {
		item.Arguments += evt.Delta
	}
	if item.Formatted.Tool != nil {
		item.Formatted.Tool.Arguments += evt.Delta
	}
	return Result{Item: item, Delta: &Delta{Arguments: evt.Delta}}, nil
}

func (i *Item) part(index int) *events.ContentPart {
	if index < 0 || index >= len(i.Content) {
		return nil
	}
	return &i.Content[index]
}

// sliceSamples copies buf between two millisecond offsets, clamped to the
// buffer. The result is never nil.
func sliceSamples(buf []int16, startMS, endMS int) []int16 {
	start := min(max(pcm.MSToSamples(startMS, DefaultFrequency), 0), len(buf))
	end := min(max(pcm.MSToSamples(endMS, DefaultFrequency), start), len(buf))
	out := make([]int16, end-start)
	copy(out, buf[start:end])
	return out
}
