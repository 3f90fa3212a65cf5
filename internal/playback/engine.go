// Package playback plays one loop at a time, pitch-shifted by resampling.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/satindergrewal/loopbook/internal/audio"
	"github.com/satindergrewal/loopbook/internal/model"
)

var (
	// ErrNotFound means the loop has no stored audio.
	ErrNotFound = errors.New("audio not found")
	// ErrDecodeFault means the stored audio could not be decoded.
	ErrDecodeFault = errors.New("audio could not be decoded")
	// ErrSuperseded is returned to a play request that lost to a newer one.
	ErrSuperseded = errors.New("play request superseded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// BlobSource supplies raw audio bytes by loop id.
type BlobSource interface {
	GetAudio(ctx context.Context, id string) ([]byte, bool, error)
}

// Decoder turns raw bytes into a playable clip.
type Decoder interface {
	Decode(ctx context.Context, data []byte, mimeType string) (*audio.Clip, error)
}

// Output is the device the frames end up on. Resume wakes a suspended device
// before a voice starts.
type Output interface {
	Resume(ctx context.Context) error
}

// EventKind names a playback transition.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventStopped EventKind = "stopped"
	EventEnded   EventKind = "ended"
	EventFailed  EventKind = "failed"
)

// Event reports a transition to the caller. Err is set for EventFailed.
// Gen is the engine generation after the transition; every frame from a
// voice halted by an EventStopped has a lower Voice than its Gen.
type Event struct {
	Kind   EventKind
	LoopID string
	Gen    uint64
	Err    error
}

// EventFunc receives playback events. It is called without engine locks held.
type EventFunc func(Event)

// State is a snapshot of the engine.
type State struct {
	LoopID   string        `json:"loopId"`   // requested loop, "" when idle
	Playing  bool          `json:"playing"`  // a voice is producing audio
	Pending  bool          `json:"pending"`  // fetch or decode still in flight
	Rate     float64       `json:"rate"`     // speed of the current voice
	Position time.Duration `json:"position"` // source position of the current voice
}

// Options configures an Engine.
type Options struct {
	CacheSize int // decoded clips kept; <= 0 keeps every clip for the session
	Output    Output
	Logger    *slog.Logger
}

// Engine owns the single voice slot and the decode cache.
type Engine struct {
	blobs   BlobSource
	decoder Decoder
	output  Output
	cache   *lru.Cache[string, *audio.Clip]
	log     *slog.Logger

	frameCh chan audio.Frame

	mu        sync.Mutex
	gen       uint64 // bumped by every play/stop; fences stale completions
	requested string
	voice     *voice
	onEvent   EventFunc
	closed    bool
}

// NewEngine creates an idle engine.
func NewEngine(blobs BlobSource, decoder Decoder, opts Options) (*Engine, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = math.MaxInt32
	}
	cache, err := lru.New[string, *audio.Clip](size)
	if err != nil {
		return nil, fmt.Errorf("create decode cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		blobs:   blobs,
		decoder: decoder,
		output:  opts.Output,
		cache:   cache,
		log:     logger.With(slog.String("component", "playback")),
		frameCh: make(chan audio.Frame, 100),
	}, nil
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (e *Engine) Frames() <-chan audio.Frame {
	return e.frameCh
}

// SetEventFunc sets the event callback. Pass nil to stop receiving events.
func (e *Engine) SetEventFunc(fn EventFunc) {
	e.mu.Lock()
	e.onEvent = fn
	e.mu.Unlock()
}

// Status returns the current playback state.
func (e *Engine) Status() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	s := State{LoopID: e.requested}
	if e.voice != nil {
		s.Playing = true
		s.Rate = e.voice.rate
		s.Position = e.voice.position()
	} else if e.requested != "" {
		s.Pending = true
	}
	return s
}

// Play starts loop, or stops it when it is already the requested loop.
// Any other voice is halted before the new one starts. When a newer request
// arrives while this one is still fetching or decoding, this call returns
// ErrSuperseded and leaves the engine to the newer request.
func (e *Engine) Play(ctx context.Context, loop model.Loop) (State, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return State{}, ErrClosed
	}
	prev := e.requested
	e.haltLocked()
	e.gen++
	if prev == loop.ID {
		e.requested = ""
		gen := e.gen
		fn := e.onEvent
		e.mu.Unlock()
		e.log.Debug("toggled off", slog.String("loop", loop.ID))
		emit(fn, Event{Kind: EventStopped, LoopID: loop.ID, Gen: gen})
		return State{}, nil
	}
	gen := e.gen
	e.requested = loop.ID
	fn := e.onEvent
	e.mu.Unlock()

	if prev != "" {
		emit(fn, Event{Kind: EventStopped, LoopID: prev, Gen: gen})
	}

	if e.output != nil {
		if err := e.output.Resume(ctx); err != nil {
			return e.fail(gen, loop, fmt.Errorf("resume output: %w", err))
		}
	}

	clip, err := e.load(ctx, loop)
	if err != nil {
		return e.fail(gen, loop, err)
	}

	rate := Rate(loop.TransposeSemitones, loop.TuneCents)

	e.mu.Lock()
	if e.gen != gen || e.closed {
		e.mu.Unlock()
		e.log.Debug("discarding stale play", slog.String("loop", loop.ID))
		return State{}, ErrSuperseded
	}
	e.cache.Add(loop.ID, clip)
	v := newVoice(gen, loop.ID, clip, rate, loop.Looping)
	e.voice = v
	state := e.stateLocked()
	fn = e.onEvent
	e.mu.Unlock()

	go v.run(e)

	e.log.Info("playing",
		slog.String("loop", loop.ID),
		slog.Float64("rate", rate),
		slog.Bool("looping", loop.Looping))
	emit(fn, Event{Kind: EventStarted, LoopID: loop.ID, Gen: gen})
	return state, nil
}

// load returns the decoded clip from the cache, or fetches and decodes it.
func (e *Engine) load(ctx context.Context, loop model.Loop) (*audio.Clip, error) {
	if clip, ok := e.cache.Get(loop.ID); ok {
		return clip, nil
	}

	data, ok, err := e.blobs.GetAudio(ctx, loop.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch audio %s: %w", loop.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("loop %s: %w", loop.ID, ErrNotFound)
	}

	clip, err := e.decoder.Decode(ctx, data, loop.FileType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFault, err)
	}
	return clip, nil
}

// fail returns the engine to idle after a failed request, unless a newer
// request has already taken over.
func (e *Engine) fail(gen uint64, loop model.Loop, err error) (State, error) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return State{}, ErrSuperseded
	}
	e.requested = ""
	fn := e.onEvent
	e.mu.Unlock()

	e.log.Error("could not play loop",
		slog.String("loop", loop.ID),
		slog.String("title", loop.Title),
		slog.Any("error", err))
	emit(fn, Event{Kind: EventFailed, LoopID: loop.ID, Gen: gen, Err: err})
	return State{}, err
}

// Stop halts playback. The engine is idle when Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	prev := e.requested
	e.haltLocked()
	e.gen++
	e.requested = ""
	gen := e.gen
	fn := e.onEvent
	e.mu.Unlock()

	if prev != "" {
		emit(fn, Event{Kind: EventStopped, LoopID: prev, Gen: gen})
	}
}

// StopIfPlaying stops playback only when id is the requested loop.
func (e *Engine) StopIfPlaying(id string) bool {
	e.mu.Lock()
	if e.requested != id || id == "" {
		e.mu.Unlock()
		return false
	}
	e.haltLocked()
	e.gen++
	e.requested = ""
	gen := e.gen
	fn := e.onEvent
	e.mu.Unlock()

	emit(fn, Event{Kind: EventStopped, LoopID: id, Gen: gen})
	return true
}

// Invalidate drops the decoded clip for id from the cache.
func (e *Engine) Invalidate(id string) {
	e.cache.Remove(id)
}

// Cached reports whether a decoded clip for id is in the cache.
func (e *Engine) Cached(id string) bool {
	return e.cache.Contains(id)
}

// Close stops playback and closes the frame channel.
func (e *Engine) Close() {
	e.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.frameCh)
}

// haltLocked silences and detaches the current voice. Frames it already
// queued are dropped so nothing of it is heard after the halt. Must be
// called with mu held.
func (e *Engine) haltLocked() {
	if e.voice == nil {
		return
	}
	e.voice.halt()
	e.voice = nil
	if e.closed {
		return
	}
	for {
		select {
		case <-e.frameCh:
		default:
			return
		}
	}
}

// deliver queues a frame from v. It returns false once v is no longer the
// current voice. Slow consumers get frames dropped rather than stalling the voice.
func (e *Engine) deliver(v *voice, frame []int16) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.voice != v || e.closed {
		return false
	}
	select {
	case e.frameCh <- audio.Frame{Voice: v.gen, PCM: frame}:
	default:
	}
	return true
}

// voiceEnded handles a natural end. Ignored unless v is still current.
func (e *Engine) voiceEnded(v *voice) {
	e.mu.Lock()
	if e.voice != v {
		e.mu.Unlock()
		return
	}
	e.voice = nil
	e.requested = ""
	fn := e.onEvent
	e.mu.Unlock()

	e.log.Debug("loop ended", slog.String("loop", v.loopID))
	emit(fn, Event{Kind: EventEnded, LoopID: v.loopID, Gen: v.gen})
}

func emit(fn EventFunc, ev Event) {
	if fn != nil {
		fn(ev)
	}
}
