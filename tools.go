package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/realtime-go/conversation"
	"github.com/codewandler/realtime-go/events"
	"github.com/codewandler/realtime-go/tool"
)

type registeredTool struct {
	Definition tool.Tool
	Handler    tool.Handler
}

// AddTool registers a tool and, when connected, resends the session so the
// model sees it.
func (c *Client) AddTool(def tool.Tool, h tool.Handler) error {
	c.mu.Lock()
	err := c.registerTool(def, h)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.pushSession()
}

// RemoveTool unregisters a tool and, when connected, resends the session.
func (c *Client) RemoveTool(name string) error {
	c.mu.Lock()
	if _, ok := c.tools[name]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	delete(c.tools, name)
	c.toolOrder = slices.DeleteFunc(c.toolOrder, func(n string) bool { return n == name })
	c.mu.Unlock()
	return c.pushSession()
}

// registerTool adds def to the registry. c.mu must be held.
func (c *Client) registerTool(def tool.Tool, h tool.Handler) error {
	if def.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidTool)
	}
	if h == nil {
		return fmt.Errorf("%w: %q has no handler", ErrInvalidTool, def.Name)
	}
	if _, ok := c.tools[def.Name]; ok {
		return fmt.Errorf("%w: %q", ErrToolExists, def.Name)
	}
	c.tools[def.Name] = registeredTool{
		Definition: tool.Function(def.Name, def.Description, def.Parameters),
		Handler:    h,
	}
	c.toolOrder = append(c.toolOrder, def.Name)
	return nil
}

// toolDefinitions lists the registered tools in registration order. c.mu
// must be held.
func (c *Client) toolDefinitions() []tool.Tool {
	out := make([]tool.Tool, 0, len(c.toolOrder))
	for _, name := range c.toolOrder {
		out = append(out, c.tools[name].Definition)
	}
	return out
}

// callTool runs a completed function call and reports the outcome back as a
// function_call_output item followed by a new response.
func (c *Client) callTool(ctx context.Context, call conversation.FormattedTool) {
	ctx, span := c.inst.tracer.Start(ctx, "tool call", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.CallID),
	))
	defer span.End()

	logger := c.logger.With(slog.String("tool", call.Name), slog.String("call_id", call.CallID))

	outcome := "ok"
	output, err := c.runTool(ctx, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("tool call failed", slog.Any("err", err))
		output = errorOutput(err)
		outcome = "error"
	} else {
		logger.Debug("tool call", slog.String("args", call.Arguments), slog.String("output", output))
	}
	c.inst.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("outcome", outcome),
	))

	if err := c.api.Send(events.TypeConversationItemCreate, events.ItemCreateBody{
		Item: events.Item{
			Type:   events.ItemTypeFunctionCallOutput,
			CallID: call.CallID,
			Output: output,
		},
	}); err != nil {
		span.RecordError(err)
		logger.Error("failed to send tool output", slog.Any("err", err))
		return
	}
	if err := c.CreateResponse(); err != nil {
		span.RecordError(err)
		logger.Error("failed to request response after tool call", slog.Any("err", err))
	}
}

// runTool returns the JSON encoded result of the call. Every failure is a
// *ToolExecutionError.
func (c *Client) runTool(ctx context.Context, call conversation.FormattedTool) (string, error) {
	fail := func(err error) (string, error) {
		return "", &ToolExecutionError{Tool: call.Name, CallID: call.CallID, Err: err}
	}

	c.mu.Lock()
	rt, ok := c.tools[call.Name]
	c.mu.Unlock()
	if !ok {
		return fail(fmt.Errorf("%w: %q", ErrToolNotFound, call.Name))
	}

	var args map[string]any
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fail(fmt.Errorf("invalid arguments: %w", err))
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := invoke(ctx, rt.Handler, args)
	if err != nil {
		return fail(err)
	}
	if res == nil {
		res = map[string]any{"success": true}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fail(fmt.Errorf("encode result: %w", err))
	}
	return string(data), nil
}

func invoke(ctx context.Context, h tool.Handler, args map[string]any) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, args)
}

// errorOutput is the function_call_output body for a failed call.
func errorOutput(err error) string {
	msg := err.Error()
	var execErr *ToolExecutionError
	if errors.As(err, &execErr) {
		msg = execErr.Err.Error()
	}
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
