package audio

import "time"

// Cursor reads a Clip at a fixed speed multiplier. A speed above 1 raises
// pitch and shortens the clip; below 1 lowers pitch and lengthens it.
type Cursor struct {
	clip    *Clip
	speed   float64
	looping bool

	pos  float64 // position in source frames
	done bool
}

// NewCursor starts reading clip from the beginning.
func NewCursor(clip *Clip, speed float64, looping bool) *Cursor {
	if speed <= 0 {
		speed = 1
	}
	return &Cursor{clip: clip, speed: speed, looping: looping}
}

// Done reports whether a non-looping cursor has passed the end of the clip.
func (c *Cursor) Done() bool {
	return c.done
}

// Position returns the current source position.
func (c *Cursor) Position() time.Duration {
	return time.Duration(c.pos * float64(time.Second) / SampleRate)
}

// Next fills frame with the next interleaved stereo samples, padding with
// silence after the end of a non-looping clip. It returns the number of
// sample frames that carried audio.
func (c *Cursor) Next(frame []int16) int {
	total := c.clip.Frames()
	out := len(frame) / Channels
	written := 0

	for i := 0; i < out; i++ {
		if c.done || total == 0 {
			frame[i*2] = 0
			frame[i*2+1] = 0
			continue
		}

		i0 := int(c.pos)
		frac := c.pos - float64(i0)
		i1 := i0 + 1
		if i1 >= total {
			if c.looping {
				i1 = 0
			} else {
				i1 = i0
			}
		}
		for ch := 0; ch < Channels; ch++ {
			a := float64(c.clip.Samples[i0*Channels+ch])
			b := float64(c.clip.Samples[i1*Channels+ch])
			frame[i*Channels+ch] = clip16(a + (b-a)*frac)
		}
		written++

		c.pos += c.speed
		if c.pos >= float64(total) {
			if c.looping {
				for c.pos >= float64(total) {
					c.pos -= float64(total)
				}
			} else {
				c.done = true
			}
		}
	}
	return written
}
