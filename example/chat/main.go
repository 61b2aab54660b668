// Command chat is a text chat against a realtime model. Type a message and
// press enter; the reply streams back as it is generated.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	realtime "github.com/codewandler/realtime-go"
	"github.com/codewandler/realtime-go/events"
	"github.com/codewandler/realtime-go/tool"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var (
		debug       = false
		model       = realtime.DefaultModel
		instruction = "You are a helpcenter agent and help the user."
	)

	flag.StringVar(&instruction, "instruction", instruction, "instruction to send to the agent.")
	flag.StringVar(&model, "model", model, "realtime model")
	flag.BoolVar(&debug, "debug", false, "enable debug logs")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.LevelError)
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	client := realtime.New(
		realtime.WithDefaultLogger(),
		realtime.WithModel(model),
		realtime.WithInstruction(instruction),
		realtime.WithSession(events.SessionUpdate{
			Modalities: events.Some([]string{events.ModalityText}),
		}),
		realtime.WithTool(
			tool.Function("get_time", "Get current time", nil),
			func(context.Context, map[string]any) (any, error) {
				return time.Now().Format(time.RFC3339), nil
			},
		),
		realtime.WithTool(
			tool.Function("conversation_end", "End the conversation", nil),
			func(context.Context, map[string]any) (any, error) {
				cancel()
				return "OK", nil
			},
		),
	)

	client.On(realtime.EventConversationUpdated, func(payload any) {
		e := payload.(realtime.UpdateEvent)
		if e.Delta != nil && e.Item.Role == events.RoleAssistant {
			fmt.Print(e.Delta.Text)
		}
	})
	client.On(realtime.EventItemCompleted, func(payload any) {
		if e := payload.(realtime.ItemEvent); e.Item.Role == events.RoleAssistant {
			fmt.Println()
		}
	})
	client.On(realtime.EventError, func(payload any) {
		slog.Error("error", slog.Any("err", payload))
	})
	client.On(realtime.EventClose, func(any) {
		cancel()
	})

	must(client.Connect(ctx))
	defer client.Disconnect()
	must(client.WaitForSessionCreated(ctx))

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			must(client.SendUserMessageContent([]events.ContentPart{events.InputText(line)}))
			must(client.CreateResponse())
		}
	}
}
