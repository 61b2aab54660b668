package realtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/realtime-go/events"
	"github.com/codewandler/realtime-go/internal/websocket"
	"github.com/codewandler/realtime-go/tool"
	"github.com/codewandler/realtime-go/transport"
	"github.com/codewandler/realtime-go/transport/gorillaws"
)

const (
	ApiKeyEnvVarNameShort = "OPENAI_KEY"
	ApiKeyEnvVarNameLong  = "OPENAI_API_KEY"

	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2025-06-03"
)

type clientConfig struct {
	url              string
	model            string
	apiKey           string
	dialer           transport.Dialer
	gorilla          bool
	dialTimeout      time.Duration
	latencyMS        int
	outputSampleRate int
	session          events.SessionConfig
	tools            []registeredTool
	logger           *slog.Logger
	tracerProvider   trace.TracerProvider
}

func (c *clientConfig) latency() time.Duration {
	return time.Duration(c.latencyMS) * time.Millisecond
}

func (c *clientConfig) validate() error {
	if c.dialer == nil && c.apiKey == "" {
		return fmt.Errorf("missing api key")
	}
	return nil
}

// endpoint is the websocket URL including the model query parameter.
func (c *clientConfig) endpoint() string {
	u, err := url.Parse(c.url)
	if err != nil || c.model == "" {
		return c.url
	}
	q := u.Query()
	q.Set("model", c.model)
	u.RawQuery = q.Encode()
	return u.String()
}

// transportDialer returns the configured dialer or builds a websocket one.
func (c *clientConfig) transportDialer() transport.Dialer {
	if c.dialer != nil {
		return c.dialer
	}

	headers := http.Header{}
	headers.Add("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	headers.Add("OpenAI-Beta", "realtime=v1")

	if c.gorilla {
		return &gorillaws.Dialer{
			URL:              c.endpoint(),
			Headers:          headers,
			HandshakeTimeout: c.dialTimeout,
			Logger:           c.logger,
		}
	}
	return &websocket.Dialer{
		URL:         c.endpoint(),
		Headers:     headers,
		DialTimeout: c.dialTimeout,
		Logger:      c.logger,
	}
}

type ClientOption func(*clientConfig)

func WithURL(u string) ClientOption {
	return func(o *clientConfig) {
		o.url = u
	}
}

func WithModel(model string) ClientOption {
	return func(o *clientConfig) {
		o.model = model
	}
}

func WithKey(apiKey string) ClientOption {
	return func(o *clientConfig) {
		o.apiKey = apiKey
	}
}

func WithEnvKey(vars ...string) ClientOption {
	return func(o *clientConfig) {
		for _, envVarName := range vars {
			if k := os.Getenv(envVarName); k != "" {
				o.apiKey = k
				return
			}
		}
	}
}

// WithDialer replaces the websocket transport, e.g. with an in-memory one.
func WithDialer(d transport.Dialer) ClientOption {
	return func(o *clientConfig) {
		o.dialer = d
	}
}

// WithGorillaWebsocket selects the gorilla/websocket transport instead of
// the default gobwas one.
func WithGorillaWebsocket() ClientOption {
	return func(o *clientConfig) {
		o.gorilla = true
	}
}

func WithDialTimeout(d time.Duration) ClientOption {
	return func(o *clientConfig) {
		o.dialTimeout = d
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientConfig) {
		o.logger = logger
	}
}

func WithDefaultLogger() ClientOption {
	return WithLogger(slog.Default())
}

func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(o *clientConfig) {
		o.tracerProvider = tp
	}
}

// WithLatency sets the audio chunk duration in milliseconds.
func WithLatency(latencyMS int) ClientOption {
	return func(o *clientConfig) {
		o.latencyMS = latencyMS
	}
}

// WithAudioOutput buffers assistant audio resampled to sampleRate, readable
// through Client.AudioOutput.
func WithAudioOutput(sampleRate int) ClientOption {
	return func(o *clientConfig) {
		o.outputSampleRate = sampleRate
	}
}

// WithSession merges u into the initial session configuration.
func WithSession(u events.SessionUpdate) ClientOption {
	return func(o *clientConfig) {
		u.Apply(&o.session)
	}
}

func WithInstruction(instruction string) ClientOption {
	return WithSession(events.SessionUpdate{Instructions: events.Some(instruction)})
}

func WithVoice(voice string) ClientOption {
	return WithSession(events.SessionUpdate{Voice: events.Some(voice)})
}

func WithTemperature(temperature float64) ClientOption {
	return WithSession(events.SessionUpdate{Temperature: events.Some(temperature)})
}

// WithTool registers a tool at construction and after every Reset.
func WithTool(def tool.Tool, h tool.Handler) ClientOption {
	return func(o *clientConfig) {
		o.tools = append(o.tools, registeredTool{Definition: def, Handler: h})
	}
}

func WithOptions(opts ...ClientOption) ClientOption {
	return func(o *clientConfig) {
		for _, opt := range opts {
			opt(o)
		}
	}
}

func withDefaults() ClientOption {
	return WithOptions(
		func(o *clientConfig) {
			o.session = events.DefaultSessionConfig()
			o.tracerProvider = otel.GetTracerProvider()
		},
		WithLogger(slog.New(slog.DiscardHandler)),
		WithURL(DefaultURL),
		WithModel(DefaultModel),
		WithDialTimeout(10*time.Second),
		WithLatency(200),
		WithEnvKey(ApiKeyEnvVarNameShort, ApiKeyEnvVarNameLong),
	)
}
