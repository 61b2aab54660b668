// Package conversation rebuilds conversation state (items, responses and
// their incremental content) from the server event stream.
//
// A Conversation is not safe for concurrent use. Events must be processed
// one at a time in arrival order.
package conversation

import (
	"fmt"
	"slices"

	"github.com/jinzhu/copier"

	"github.com/codewandler/realtime-go/events"
	"github.com/codewandler/realtime-go/pcm"
)

// DefaultFrequency is the sample rate used to convert millisecond offsets
// to sample offsets.
const DefaultFrequency = pcm.SampleRate

// Item is a conversation item plus its accumulated, display-ready content.
type Item struct {
	events.Item
	Formatted Formatted
}

// Formatted is the concatenated view of an item's content.
type Formatted struct {
	Text       string
	Transcript string
	Audio      []int16
	Tool       *FormattedTool
	Output     string
}

// FormattedTool is the tool call carried by a function_call item. Arguments
// grows with every arguments delta.
type FormattedTool struct {
	Type      string
	Name      string
	CallID    string
	Arguments string
}

// Clone returns a deep copy of i.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	out := &Item{}
	if err := copier.CopyWithOption(out, i, copier.Option{DeepCopy: true}); err != nil {
		panic(fmt.Sprintf("conversation: clone item %s: %v", i.ID, err))
	}
	return out
}

type Response struct {
	ID     string
	Output []string
}

// Delta carries exactly the incremental payload of one event.
type Delta struct {
	Text       string
	Transcript string
	Arguments  string
	Audio      []int16
}

// Result is what processing one event produced. Either field may be nil.
type Result struct {
	Item  *Item
	Delta *Delta
}

type queuedSpeech struct {
	startMS int
	endMS   *int
	audio   []int16
}

type Conversation struct {
	items             *store[*Item]
	responses         *store[*Response]
	queuedSpeech      map[string]*queuedSpeech
	queuedTranscripts map[string]string
	queuedInputAudio  []int16
	inputAudioQueued  bool
}

func New() *Conversation {
	c := &Conversation{}
	c.Clear()
	return c
}

// Clear drops all items, responses and queued data.
func (c *Conversation) Clear() {
	c.items = newStore[*Item]()
	c.responses = newStore[*Response]()
	c.queuedSpeech = make(map[string]*queuedSpeech)
	c.queuedTranscripts = make(map[string]string)
	c.queuedInputAudio = nil
	c.inputAudioQueued = false
}

// QueueInputAudio stashes samples to become the audio of the next user
// message created.
func (c *Conversation) QueueInputAudio(samples []int16) {
	c.queuedInputAudio = slices.Clone(samples)
	c.inputAudioQueued = true
}

// ProcessEvent applies one server event. inputAudio is the client's input
// buffer; only speech_stopped reads it and it may be nil.
func (c *Conversation) ProcessEvent(evt *events.ServerEvent, inputAudio []int16) (Result, error) {
	if evt == nil {
		return Result{}, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	if evt.EventID == "" {
		return Result{}, malformed(evt.Type, `missing "event_id"`)
	}
	if evt.Type == "" {
		return Result{}, fmt.Errorf(`%w: missing "type" on event %s`, ErrMalformedEvent, evt.EventID)
	}
	p, ok := processors[evt.Type]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEventType, evt.Type)
	}
	return p(c, evt, inputAudio)
}

// Handles reports whether ProcessEvent accepts eventType.
func Handles(eventType string) bool {
	_, ok := processors[eventType]
	return ok
}

// EventTypes lists every event type ProcessEvent accepts.
func EventTypes() []string {
	out := make([]string, 0, len(processors))
	for t := range processors {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Item returns the stored item. Callers outside the event loop should Clone it.
func (c *Conversation) Item(id string) (*Item, bool) {
	return c.items.get(id)
}

// Items returns deep copies of the items in creation order. Later events do
// not change the returned items.
func (c *Conversation) Items() []*Item {
	items := c.items.list()
	out := make([]*Item, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

func (c *Conversation) Response(id string) (*Response, bool) {
	return c.responses.get(id)
}

func (c *Conversation) Responses() []*Response {
	return c.responses.list()
}
