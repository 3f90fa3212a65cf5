package playback

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/loopbook/internal/audio"
)

// voice renders one clip at a fixed rate into 20ms frames, paced in real time.
type voice struct {
	gen    uint64 // engine generation that started it
	loopID string
	rate   float64
	cursor *audio.Cursor

	pos      atomic.Int64 // source position in nanoseconds
	stop     chan struct{}
	stopOnce sync.Once
}

func newVoice(gen uint64, loopID string, clip *audio.Clip, rate float64, looping bool) *voice {
	return &voice{
		gen:    gen,
		loopID: loopID,
		rate:   rate,
		cursor: audio.NewCursor(clip, rate, looping),
		stop:   make(chan struct{}),
	}
}

func (v *voice) halt() {
	v.stopOnce.Do(func() { close(v.stop) })
}

func (v *voice) position() time.Duration {
	return time.Duration(v.pos.Load())
}

// run produces frames until the clip ends, the voice is halted, or the
// engine stops accepting its frames.
func (v *voice) run(e *Engine) {
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	first := true
	for {
		frame := make([]int16, audio.FrameSamples)
		n := v.cursor.Next(frame)
		if first {
			audio.FadeIn(frame, 0, 1)
			first = false
		}
		v.pos.Store(int64(v.cursor.Position()))

		if n > 0 {
			if !e.deliver(v, frame) {
				return
			}
		}
		if v.cursor.Done() {
			e.voiceEnded(v)
			return
		}

		select {
		case <-v.stop:
			return
		case <-ticker.C:
		}
	}
}
