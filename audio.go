package realtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
	"go.opentelemetry.io/otel/metric"

	"github.com/codewandler/realtime-go/pcm"
)

// outputBufferDuration is how much assistant audio the output buffer holds.
const outputBufferDuration = 60 * time.Second

// audioOutput buffers assistant audio for playback at the caller's sample
// rate. The ringbuffer is used in non-blocking mode and every access goes
// through mu; readers wait on ready.
type audioOutput struct {
	mu         sync.Mutex
	ready      *sync.Cond
	buf        *ringbuffer.RingBuffer
	reader     io.Reader
	sampleRate int
	logger     *slog.Logger
	dropped    metric.Int64Counter
}

func newAudioOutput(sampleRate int, latency time.Duration, logger *slog.Logger, dropped metric.Int64Counter) *audioOutput {
	size := pcm.ChunkSize(sampleRate, outputBufferDuration, 2, 1) * 2
	o := &audioOutput{
		buf:        ringbuffer.New(size),
		sampleRate: sampleRate,
		logger:     logger,
		dropped:    dropped,
	}
	o.ready = sync.NewCond(&o.mu)
	o.reader = NewFixedAudioChunkReader(outputReader{o}, sampleRate, latency, 2, 1)
	return o
}

// write never blocks: audio that does not fit is dropped.
func (o *audioOutput) write(samples []int16) {
	if len(samples) == 0 {
		return
	}
	if o.sampleRate != pcm.SampleRate {
		samples = pcm.Resample(samples, pcm.SampleRate, o.sampleRate)
	}
	data := pcm.ToBytes(samples)

	o.mu.Lock()
	defer o.mu.Unlock()

	if free := o.buf.Free(); free < len(data) {
		o.logger.Warn("audio output buffer full, dropping audio",
			slog.Int("bytes", len(data)),
			slog.Int("free", free))
		o.dropped.Add(context.Background(), int64(len(data)))
		return
	}
	if _, err := o.buf.Write(data); err != nil {
		o.logger.Error("failed to write to audio output buffer", slog.Any("err", err))
		return
	}
	o.ready.Broadcast()
}

// clear drops buffered audio. Blocked readers keep waiting for new audio.
func (o *audioOutput) clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf.Reset()
}

func (o *audioOutput) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Length()
}

// read blocks until audio is buffered.
func (o *audioOutput) read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.buf.IsEmpty() {
		o.ready.Wait()
	}
	return o.buf.Read(p)
}

type outputReader struct {
	o *audioOutput
}

func (r outputReader) Read(p []byte) (int, error) {
	return r.o.read(p)
}

// AudioOutput returns the assistant audio as PCM16 at the rate configured
// with WithAudioOutput, in latency-sized chunks. Reads block until audio is
// available. It returns nil when audio output is not configured.
func (c *Client) AudioOutput() io.Reader {
	if c.output == nil {
		return nil
	}
	return c.output.reader
}

// StreamInputAudio reads PCM16 mono audio at sampleRate from r and appends
// it to the input buffer in latency-sized chunks until r is exhausted, ctx
// is done or sending fails.
func (c *Client) StreamInputAudio(ctx context.Context, r io.Reader, sampleRate int) error {
	chunks := NewFixedAudioChunkReader(r, sampleRate, c.config.latency(), 2, 1)
	if chunks.ChunkSize() <= 0 {
		return fmt.Errorf("invalid chunk size %d for latency %s", chunks.ChunkSize(), c.config.latency())
	}
	buf := make([]byte, chunks.ChunkSize())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := chunks.Read(buf)
		if n > 0 {
			samples := pcm.FromBytes(buf[:n])
			if sampleRate != pcm.SampleRate {
				samples = pcm.Resample(samples, sampleRate, pcm.SampleRate)
			}
			if err := c.AppendInputAudio(samples); err != nil {
				return err
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
