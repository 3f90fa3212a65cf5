// Package output plays the engine's frames on the local sound card.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/satindergrewal/loopbook/internal/audio"
	"github.com/satindergrewal/loopbook/internal/stream"
)

// deviceBuffer keeps device latency to about 100ms.
const deviceBuffer = 5

// Device is a PortAudio output stream fed from the broadcaster. It opens
// lazily on the first Resume, mirroring an audio context that starts
// suspended until something is played.
type Device struct {
	broadcaster *stream.Broadcaster
	log         *slog.Logger

	mu       sync.Mutex
	stream   *portaudio.Stream
	listener *stream.Listener
}

// NewDevice creates a closed device.
func NewDevice(b *stream.Broadcaster, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		broadcaster: b,
		log:         logger.With(slog.String("component", "device")),
	}
}

// Resume opens and starts the default output device if it is not running.
func (d *Device) Resume(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	listener := d.broadcaster.Subscribe(deviceBuffer)
	f := &feeder{src: listener.C}
	s, err := portaudio.OpenDefaultStream(0, audio.Channels, float64(audio.SampleRate), audio.FrameSize, f.fill)
	if err != nil {
		d.broadcaster.Unsubscribe(listener)
		portaudio.Terminate()
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := s.Start(); err != nil {
		s.Close()
		d.broadcaster.Unsubscribe(listener)
		portaudio.Terminate()
		return fmt.Errorf("start output stream: %w", err)
	}

	d.stream = s
	d.listener = listener
	d.log.Info("output device started", slog.Int("sample_rate", audio.SampleRate))
	return nil
}

// Close stops the device. It can be resumed again afterwards.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}

	var firstErr error
	if err := d.stream.Stop(); err != nil {
		firstErr = fmt.Errorf("stop output stream: %w", err)
	}
	if err := d.stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close output stream: %w", err)
	}
	d.broadcaster.Unsubscribe(d.listener)
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("terminate portaudio: %w", err)
	}
	d.stream = nil
	d.listener = nil
	return firstErr
}

// feeder adapts 20ms frames to whatever buffer size the device callback
// asks for. It is only touched from the callback goroutine.
type feeder struct {
	src     <-chan []int16
	pending []int16
}

// fill copies queued audio into out and pads the rest with silence. It
// never blocks.
func (f *feeder) fill(out []int16) {
	n := 0
	for n < len(out) {
		if len(f.pending) == 0 {
			select {
			case frame := <-f.src:
				f.pending = frame
			default:
			}
			if len(f.pending) == 0 {
				break
			}
		}
		c := copy(out[n:], f.pending)
		f.pending = f.pending[c:]
		n += c
	}
	clear(out[n:])
}
