// Package stream fans the engine's PCM frames out to its outputs.
package stream

import (
	"context"
	"sync"

	"github.com/satindergrewal/loopbook/internal/audio"
)

// DefaultBuffer is the listener queue length in 20ms frames.
const DefaultBuffer = 25

// Broadcaster fans out PCM frames from one source to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	floor     uint64 // frames from voices below this are dropped
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C chan []int16 // buffered channel of 20ms PCM frames

	done     chan struct{}
	doneOnce sync.Once
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a listener with a queue of buffer frames. A buffer
// of zero or less uses DefaultBuffer.
func (b *Broadcaster) Subscribe(buffer int) *Listener {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	l := &Listener{
		C:    make(chan []int16, buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Safe to call twice.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.doneOnce.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Flush discards every frame still queued for any listener and every frame
// from a voice older than gen, including one Run may already hold. Called
// when the engine halts a voice.
func (b *Broadcaster) Flush(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen > b.floor {
		b.floor = gen
	}
	for l := range b.listeners {
		drain(l.C)
	}
}

func drain(c chan []int16) {
	for {
		select {
		case <-c:
		default:
			return
		}
	}
}

// fanOut delivers f to every listener unless its voice has been flushed.
// Slow listeners get the frame dropped rather than blocking the broadcast.
func (b *Broadcaster) fanOut(f audio.Frame) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if f.Voice < b.floor {
		return false
	}
	for l := range b.listeners {
		select {
		case l.C <- f.PCM:
		default:
		}
	}
	return true
}

// Run reads frames from source and fans out to all listeners.
func (b *Broadcaster) Run(ctx context.Context, source <-chan audio.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-source:
			if !ok {
				return
			}
			b.fanOut(f)
		}
	}
}
