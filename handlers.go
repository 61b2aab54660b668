package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/codewandler/realtime-go/api"
	"github.com/codewandler/realtime-go/conversation"
	"github.com/codewandler/realtime-go/events"
)

// Application channels.
const (
	// EventRealtime carries a RealtimeEvent for every event sent or received.
	EventRealtime = "realtime.event"
	// EventConversationUpdated carries an UpdateEvent whenever an event
	// changed an item. The item is live: read it inside the handler only.
	EventConversationUpdated = "conversation.updated"
	// EventItemAppended carries an ItemEvent with a copy of a new item.
	EventItemAppended = "conversation.item.appended"
	// EventItemCompleted carries an ItemEvent with a copy of an item that
	// reached status completed.
	EventItemCompleted  = "conversation.item.completed"
	EventItemInProgress = "conversation.item.in_progress"
	// EventInterrupted carries an InterruptEvent when the user starts
	// speaking; playback should stop.
	EventInterrupted = "conversation.interrupted"
	// EventClose carries an api.CloseEvent.
	EventClose = api.ChannelClose
	// EventError carries an error: server error events, undecodable frames
	// and events the conversation could not apply.
	EventError = api.ChannelError
)

type Source string

const (
	SourceClient Source = "client"
	SourceServer Source = "server"
)

type RealtimeEvent struct {
	Time   time.Time
	Source Source
	Type   string
	Event  json.RawMessage
}

type UpdateEvent struct {
	Item  *conversation.Item
	Delta *conversation.Delta
}

type ItemEvent struct {
	Item *conversation.Item
}

type InterruptEvent struct {
	Result conversation.Result
}

// install subscribes the client to its transport.
func (c *Client) install() {
	c.api.On(api.ChannelClientAll, c.onClientEvent)
	c.api.On(api.ChannelServerAll, c.onServerEvent)
	c.api.On(api.ChannelClose, c.onClose)
	c.api.On(api.ChannelError, func(payload any) {
		c.bus.Publish(EventError, payload)
	})
}

func (c *Client) onClientEvent(payload any) {
	evt, ok := payload.(*api.ClientEvent)
	if !ok {
		return
	}
	c.bus.Publish(EventRealtime, RealtimeEvent{
		Time:   time.Now(),
		Source: SourceClient,
		Type:   evt.Type,
		Event:  evt.Raw,
	})
}

func (c *Client) onClose(payload any) {
	c.endLifetime()
	c.bus.Publish(EventClose, payload)
}

func (c *Client) onServerEvent(payload any) {
	evt, ok := payload.(*events.ServerEvent)
	if !ok {
		return
	}
	c.bus.Publish(EventRealtime, RealtimeEvent{
		Time:   time.Now(),
		Source: SourceServer,
		Type:   evt.Type,
		Event:  evt.Raw,
	})

	switch evt.Type {
	case events.TypeSessionCreated:
		c.markSessionCreated()
		return
	case events.TypeError:
		c.onServerError(evt)
		return
	}
	if !conversation.Handles(evt.Type) {
		return
	}

	c.mu.Lock()
	res, err := c.conversation.ProcessEvent(evt, c.inputAudio)
	var snapshot *conversation.Item
	var call *conversation.FormattedTool
	if err == nil && res.Item != nil {
		switch evt.Type {
		case events.TypeConversationItemCreated, events.TypeResponseOutputItemDone:
			snapshot = res.Item.Clone()
		}
		if evt.Type == events.TypeResponseOutputItemDone && snapshot.Formatted.Tool != nil {
			call = snapshot.Formatted.Tool
		}
	}
	life := c.life
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("failed to process event",
			slog.String("type", evt.Type),
			slog.String("event_id", evt.EventID),
			slog.Any("err", err))
		c.bus.Publish(EventError, err)
		return
	}

	switch evt.Type {
	case events.TypeInputAudioBufferSpeechStarted:
		if c.output != nil {
			c.output.clear()
		}
		c.bus.Publish(EventInterrupted, InterruptEvent{Result: res})
	case events.TypeResponseAudioDelta:
		if c.output != nil && res.Delta != nil {
			c.output.write(res.Delta.Audio)
		}
	}

	if res.Item != nil {
		c.bus.Publish(EventConversationUpdated, UpdateEvent{Item: res.Item, Delta: res.Delta})
	}
	if snapshot != nil {
		if evt.Type == events.TypeConversationItemCreated {
			c.bus.Publish(EventItemAppended, ItemEvent{Item: snapshot})
			if snapshot.Status == events.StatusInProgress {
				c.bus.Publish(EventItemInProgress, ItemEvent{Item: snapshot})
			}
		}
		if snapshot.Status == events.StatusCompleted {
			c.bus.Publish(EventItemCompleted, ItemEvent{Item: snapshot})
		}
	}
	if call != nil {
		if life == nil {
			life = context.Background()
		}
		go c.callTool(life, *call)
	}
}

func (c *Client) onServerError(evt *events.ServerEvent) {
	errEvt, err := events.Parse[events.ErrorEvent](evt.Raw)
	if err != nil {
		c.logger.Error("failed to parse error event", slog.Any("err", err))
		c.bus.Publish(EventError, err)
		return
	}
	c.logger.Error("server error",
		slog.String("event_id", evt.EventID),
		slog.String("code", errEvt.ErrorDetail.Code),
		slog.String("message", errEvt.ErrorDetail.Message))
	c.bus.Publish(EventError, errEvt)
}
