// Package realtime is a client for realtime multimodal conversations. It
// keeps the conversation state in sync with the server event stream, runs
// registered tools when the model calls them and republishes what happened
// as application events.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/codewandler/realtime-go/api"
	"github.com/codewandler/realtime-go/conversation"
	"github.com/codewandler/realtime-go/eventbus"
	"github.com/codewandler/realtime-go/events"
	"github.com/codewandler/realtime-go/pcm"
)

type Client struct {
	config *clientConfig
	logger *slog.Logger
	inst   instruments
	api    *api.API
	bus    *eventbus.Bus
	output *audioOutput

	// lifecycle serializes Connect, Disconnect and Reset.
	lifecycle sync.Mutex

	mu           sync.Mutex
	conversation *conversation.Conversation
	session      events.SessionConfig
	tools        map[string]registeredTool
	toolOrder    []string
	inputAudio   []int16
	life         context.Context
	endLife      context.CancelFunc
	sessionReady chan struct{}
}

func New(opts ...ClientOption) *Client {
	config := &clientConfig{}
	withDefaults()(config)
	WithOptions(opts...)(config)

	c := &Client{
		config:       config,
		logger:       config.logger,
		inst:         newInstruments(config.tracerProvider),
		bus:          eventbus.New(),
		conversation: conversation.New(),
		api: api.New(api.Config{
			Dialer: config.transportDialer(),
			URL:    config.url,
			Logger: config.logger,
		}),
	}
	if config.outputSampleRate > 0 {
		c.output = newAudioOutput(config.outputSampleRate, config.latency(), c.logger, c.inst.dropped)
	}

	c.mu.Lock()
	c.resetConfig()
	c.mu.Unlock()
	c.install()

	return c
}

// resetConfig restores the configured session and tools. c.mu must be held.
func (c *Client) resetConfig() {
	c.session = c.config.session.Clone()
	c.tools = make(map[string]registeredTool)
	c.toolOrder = nil
	c.inputAudio = []int16{}
	for _, t := range c.config.tools {
		if err := c.registerTool(t.Definition, t.Handler); err != nil {
			c.logger.Error("failed to register tool", slog.String("tool", t.Definition.Name), slog.Any("err", err))
		}
	}
}

func (c *Client) IsConnected() bool {
	return c.api.IsConnected()
}

// Connect opens the connection and sends the current session configuration.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.config.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.api.State() != api.StateDisconnected {
		return api.ErrAlreadyConnected
	}

	life, endLife := context.WithCancel(context.Background())
	c.mu.Lock()
	c.life, c.endLife = life, endLife
	c.sessionReady = make(chan struct{})
	c.mu.Unlock()

	if err := c.api.Connect(ctx); err != nil {
		c.endLifetime()
		return err
	}

	c.mu.Lock()
	body := c.sessionBody()
	c.mu.Unlock()
	if err := c.api.Send(events.TypeSessionUpdate, body); err != nil {
		return fmt.Errorf("send session: %w", err)
	}
	return nil
}

// Disconnect closes the connection and clears the conversation. Pending
// waits return ErrDisconnected.
func (c *Client) Disconnect() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.disconnect()
}

func (c *Client) disconnect() {
	c.api.Disconnect()

	c.mu.Lock()
	c.endLifetimeLocked()
	c.conversation.Clear()
	c.mu.Unlock()

	if c.output != nil {
		c.output.clear()
	}
}

// Reset disconnects, drops every subscription on the client and its
// transport, restores the configured session and tools and reinstalls the
// internal event wiring.
func (c *Client) Reset() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.disconnect()

	c.mu.Lock()
	c.resetConfig()
	c.mu.Unlock()

	c.bus.Reset()
	c.api.Reset()
	c.install()
}

func (c *Client) endLifetime() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLifetimeLocked()
}

func (c *Client) endLifetimeLocked() {
	if c.endLife != nil {
		c.endLife()
	}
	c.sessionReady = nil
}

// lifetime returns the context of the current connection.
func (c *Client) lifetime() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.life == nil || c.life.Err() != nil {
		return nil, api.ErrNotConnected
	}
	return c.life, nil
}

// WaitForSessionCreated blocks until the server acknowledged the session.
// It returns at once if that already happened on this connection.
func (c *Client) WaitForSessionCreated(ctx context.Context) error {
	c.mu.Lock()
	life, ready := c.life, c.sessionReady
	c.mu.Unlock()
	if life == nil || life.Err() != nil || ready == nil {
		return api.ErrNotConnected
	}

	select {
	case <-ready:
		return nil
	case <-life.Done():
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) markSessionCreated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionReady == nil {
		return
	}
	select {
	case <-c.sessionReady:
	default:
		close(c.sessionReady)
	}
}

// Session returns the stored session configuration including the
// registered tool definitions.
func (c *Client) Session() events.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionBody().Session
}

// sessionBody builds the session.update body. c.mu must be held.
func (c *Client) sessionBody() events.SessionUpdateBody {
	session := c.session.Clone()
	session.Tools = c.toolDefinitions()
	return events.SessionUpdateBody{Session: session}
}

// UpdateSession merges u into the stored configuration and sends the result
// when connected. Otherwise it is sent on the next Connect.
func (c *Client) UpdateSession(u events.SessionUpdate) error {
	c.mu.Lock()
	u.Apply(&c.session)
	c.mu.Unlock()
	return c.pushSession()
}

func (c *Client) pushSession() error {
	if !c.IsConnected() {
		return nil
	}
	c.mu.Lock()
	body := c.sessionBody()
	c.mu.Unlock()

	err := c.api.Send(events.TypeSessionUpdate, body)
	if errors.Is(err, api.ErrNotConnected) {
		return nil
	}
	return err
}

// TurnDetectionType returns the configured turn detection type, or "" when
// turn detection is off.
func (c *Client) TurnDetectionType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.TurnDetection == nil {
		return ""
	}
	return c.session.TurnDetection.Type
}

// SendUserMessageContent adds a user message to the conversation. It does
// not request a response; call CreateResponse for that.
func (c *Client) SendUserMessageContent(parts []events.ContentPart) error {
	return c.api.Send(events.TypeConversationItemCreate, events.ItemCreateBody{
		Item: events.Item{
			ID:      events.NewID(events.ItemIDPrefix),
			Type:    events.ItemTypeMessage,
			Role:    events.RoleUser,
			Content: parts,
		},
	})
}

// AppendInputAudio sends samples to the server and adds them to the input
// buffer.
func (c *Client) AppendInputAudio(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	if err := c.api.Send(events.TypeInputAudioBufferAppend, events.AudioAppendBody{
		Audio: pcm.EncodeBase64(samples),
	}); err != nil {
		return err
	}

	c.mu.Lock()
	// readers may hold the old slice
	c.inputAudio = pcm.Concat(c.inputAudio, samples)
	c.mu.Unlock()
	return nil
}

// InputAudio returns the input buffer. The returned slice is never modified.
func (c *Client) InputAudio() []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputAudio
}

// CreateResponse requests a response. Without turn detection any buffered
// input audio is committed first and becomes the next user item's audio.
func (c *Client) CreateResponse() error {
	return c.createResponse(nil)
}

// CreateResponseWithPayload is CreateResponse with per-response overrides.
func (c *Client) CreateResponseWithPayload(p events.ResponseCreatePayload) error {
	return c.createResponse(&p)
}

func (c *Client) createResponse(p *events.ResponseCreatePayload) error {
	c.mu.Lock()
	pending := c.inputAudio
	commit := c.session.TurnDetection == nil && len(pending) > 0
	c.mu.Unlock()

	if commit {
		if err := c.api.Send(events.TypeInputAudioBufferCommit, nil); err != nil {
			return err
		}
		c.mu.Lock()
		c.conversation.QueueInputAudio(pending)
		c.inputAudio = []int16{}
		c.mu.Unlock()
	}
	return c.api.Send(events.TypeResponseCreate, events.ResponseCreateBody{Response: p})
}

// CancelResult is returned by CancelResponse. Item is always nil; the
// truncated item arrives later through conversation.updated.
type CancelResult struct {
	Item *conversation.Item
}

// CancelResponse cancels the in-flight response. With an item id it instead
// truncates that assistant message's audio after sampleCount samples, so the
// server forgets audio the user never heard.
func (c *Client) CancelResponse(id string, sampleCount int) (CancelResult, error) {
	if id == "" {
		return CancelResult{}, c.api.Send(events.TypeResponseCancel, nil)
	}

	c.mu.Lock()
	item, ok := c.conversation.Item(id)
	audioIndex := -1
	var kind events.ItemType
	var role events.Role
	if ok {
		kind, role = item.Type, item.Role
		for i, part := range item.Content {
			if part.Type == events.ContentAudio {
				audioIndex = i
				break
			}
		}
	}
	c.mu.Unlock()

	switch {
	case !ok:
		return CancelResult{}, fmt.Errorf("%w: item %q not found", ErrCannotCancel, id)
	case kind != events.ItemTypeMessage || role != events.RoleAssistant:
		return CancelResult{}, fmt.Errorf("%w: item %q is not an assistant message", ErrCannotCancel, id)
	}

	if audioIndex < 0 {
		return CancelResult{}, fmt.Errorf("%w: %q", ErrNoAudioContent, id)
	}
	err := c.api.Send(events.TypeConversationItemTruncate, events.ItemTruncateBody{
		ItemID:       id,
		ContentIndex: audioIndex,
		AudioEndMS:   sampleCount * 1000 / conversation.DefaultFrequency,
	})
	return CancelResult{}, err
}

func (c *Client) DeleteItem(id string) error {
	return c.api.Send(events.TypeConversationItemDelete, events.ItemDeleteBody{ItemID: id})
}

// AddConcurrentAgent asks the server to run a side agent on the
// conversation.
func (c *Client) AddConcurrentAgent(instructions, topic, messageID string) error {
	return c.api.Send(events.TypeConcurrentAgentAdd, events.ConcurrentAgentAddBody{
		PromptInstructions: instructions,
		MetadataTopic:      topic,
		MessageID:          messageID,
	})
}

// Items returns copies of the conversation items in creation order.
func (c *Client) Items() []*conversation.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversation.Items()
}

// Item returns a copy of the item with the given id.
func (c *Client) Item(id string) (*conversation.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.conversation.Item(id)
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

// WaitForNextItem returns the next item created in the conversation.
func (c *Client) WaitForNextItem(ctx context.Context) (*conversation.Item, error) {
	return c.waitForItem(ctx, EventItemAppended)
}

// WaitForNextCompletedItem returns the next item that reached status
// completed.
func (c *Client) WaitForNextCompletedItem(ctx context.Context) (*conversation.Item, error) {
	return c.waitForItem(ctx, EventItemCompleted)
}

func (c *Client) waitForItem(ctx context.Context, name string) (*conversation.Item, error) {
	life, err := c.lifetime()
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()

	payload, err := c.bus.WaitForNext(waitCtx, name)
	if err != nil {
		if ctx.Err() == nil && life.Err() != nil {
			return nil, ErrDisconnected
		}
		return nil, err
	}
	return payload.(ItemEvent).Item, nil
}

// busFor routes transport channels to the transport's bus.
func (c *Client) busFor(name string) *eventbus.Bus {
	if strings.HasPrefix(name, "client.") || strings.HasPrefix(name, "server.") {
		return c.api.Bus
	}
	return c.bus
}

// On subscribes h to name. Names under client. and server. receive the raw
// transport events; every other name is an application channel.
func (c *Client) On(name string, h eventbus.Handler) eventbus.Subscription {
	return c.busFor(name).On(name, h)
}

func (c *Client) OnNext(name string, h eventbus.Handler) eventbus.Subscription {
	return c.busFor(name).OnNext(name, h)
}

func (c *Client) Off(name string, subs ...eventbus.Subscription) {
	c.busFor(name).Off(name, subs...)
}

func (c *Client) OffNext(name string, subs ...eventbus.Subscription) {
	c.busFor(name).OffNext(name, subs...)
}
