package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Frame is one 20ms block of interleaved PCM. Voice is the generation of
// the voice that rendered it, so frames of a halted voice can be told apart
// from those of its successor.
type Frame struct {
	Voice uint64
	PCM   []int16
}

// Clip is decoded audio in the output format: interleaved stereo int16 at SampleRate.
type Clip struct {
	Samples []int16
}

// Frames returns the number of sample frames (samples per channel).
func (c *Clip) Frames() int {
	return len(c.Samples) / Channels
}

// Duration returns the clip length at normal speed.
func (c *Clip) Duration() time.Duration {
	return time.Duration(c.Frames()) * time.Second / SampleRate
}
