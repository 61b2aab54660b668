// Package pcm converts between 16-bit little-endian mono PCM bytes, int16
// samples and the base64 form used on the wire.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// SampleRate is the rate the realtime protocol uses for pcm16 audio.
const SampleRate = 24_000

// FromBytes decodes little-endian PCM16. A trailing odd byte is ignored.
func FromBytes(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// ToBytes encodes samples as little-endian PCM16.
func ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func EncodeBase64(samples []int16) string {
	return base64.StdEncoding.EncodeToString(ToBytes(samples))
}

func DecodeBase64(s string) ([]int16, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return FromBytes(b), nil
}

// Concat returns a new slice holding a followed by b.
func Concat(a, b []int16) []int16 {
	out := make([]int16, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// MSToSamples converts a millisecond offset to a sample offset at rate.
func MSToSamples(ms int, rate int) int {
	return ms * rate / 1000
}

// ChunkSize is the byte size of d worth of audio.
func ChunkSize(sampleRate int, d time.Duration, bytesPerSample int, channels int) int {
	frames := int(float64(sampleRate) * d.Seconds())
	return frames * bytesPerSample * channels
}
