package pcm

import (
	"github.com/faiface/beep"
)

// streamer feeds mono int16 samples to beep as stereo floats.
type streamer struct {
	data []int16
	pos  int
}

func (s *streamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if s.pos >= len(s.data) {
			return i, i > 0
		}
		val := float64(s.data[s.pos]) / 32768.0
		samples[i][0] = val
		samples[i][1] = val
		s.pos++
	}
	return len(samples), true
}

func (s *streamer) Err() error { return nil }

// Resample converts mono samples from one rate to another. Equal rates
// return a copy.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return append([]int16(nil), samples...)
	}

	resampler := beep.Resample(3, beep.SampleRate(fromRate), beep.SampleRate(toRate), &streamer{data: samples})

	out := make([]int16, 0, len(samples)*toRate/fromRate+1)
	buf := make([][2]float64, 1024)
	for {
		n, ok := resampler.Stream(buf)
		for i := 0; i < n; i++ {
			mono := (buf[i][0] + buf[i][1]) / 2.0
			out = append(out, clamp(mono))
		}
		if !ok {
			break
		}
	}
	return out
}

func clamp(v float64) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	}
	return int16(v * 32767)
}
