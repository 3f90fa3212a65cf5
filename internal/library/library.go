// Package library holds the loop, band and setlist collections and persists
// every change through the store. In-memory state only changes after the
// store has committed the change.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/satindergrewal/loopbook/internal/audio"
	"github.com/satindergrewal/loopbook/internal/model"
	"github.com/satindergrewal/loopbook/internal/playback"
	"github.com/satindergrewal/loopbook/internal/store"
)

// All is the filter value that selects every loop.
const All = "All"

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid")
)

// Backend is the durable side of the library.
type Backend interface {
	LoadMetadata(ctx context.Context) (*model.Document, bool, error)
	GetAudio(ctx context.Context, id string) ([]byte, bool, error)
	AudioSize(ctx context.Context, id string) (int64, bool, error)
	AudioIDs(ctx context.Context) ([]string, error)
	Update(ctx context.Context, fn func(*store.Tx) error) error
}

// Player is the playback side the library drives. StopIfPlaying and
// Invalidate may be called with the library locked, so they must not call
// back into the library.
type Player interface {
	Play(ctx context.Context, loop model.Loop) (playback.State, error)
	Stop()
	StopIfPlaying(id string) bool
	Invalidate(id string)
}

// Library is safe for concurrent use. Mutations are serialized.
type Library struct {
	backend Backend
	player  Player
	log     *slog.Logger

	mu     sync.RWMutex
	doc    model.Document
	filter string
}

// Open loads the persisted document, starting empty on first run.
func Open(ctx context.Context, backend Backend, player Player, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	doc, ok, err := backend.LoadMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	l := &Library{
		backend: backend,
		player:  player,
		log:     logger.With(slog.String("component", "library")),
		filter:  All,
	}
	if ok {
		l.doc = doc.Clone()
	} else {
		l.doc = model.Document{}.Clone()
	}
	l.log.Info("library loaded",
		slog.Int("loops", len(l.doc.Loops)),
		slog.Int("bands", len(l.doc.Bands)),
		slog.Int("setlists", len(l.doc.Setlists)))
	return l, nil
}

// Snapshot returns a copy of the whole document.
func (l *Library) Snapshot() model.Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.doc.Clone()
}

// Loop returns a copy of the loop with the given id.
func (l *Library) Loop(id string) (model.Loop, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i := l.doc.LoopIndex(id)
	if i < 0 {
		return model.Loop{}, false
	}
	return l.doc.Loops[i].Clone(), true
}

// Filter returns the selected setlist id, or All.
func (l *Library) Filter() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filter
}

// SetFilter selects a setlist, or All.
func (l *Library) SetFilter(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id != All && !l.doc.HasSetlist(id) {
		return fmt.Errorf("setlist %s: %w", id, ErrNotFound)
	}
	l.filter = id
	return nil
}

// FilteredLoops returns the loops selected by the current filter, in
// library order.
func (l *Library) FilteredLoops() []model.Loop {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Loop, 0, len(l.doc.Loops))
	for _, loop := range l.doc.Loops {
		if l.filter == All || loop.InSetlist(l.filter) {
			out = append(out, loop.Clone())
		}
	}
	return out
}

// Import stores a new audio file and its loop record in one transaction.
// An empty mimeType is sniffed from the data.
func (l *Library) Import(ctx context.Context, displayName, mimeType string, data []byte) (model.Loop, error) {
	if len(data) == 0 {
		return model.Loop{}, fmt.Errorf("%w: %s is empty", ErrInvalid, displayName)
	}
	if mimeType == "" {
		mimeType = audio.DetectMIME(data)
	}
	loop := model.NewLoop(displayName, mimeType)

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.doc.Clone()
	next.Loops = append(next.Loops, loop.Clone())

	err := l.backend.Update(ctx, func(tx *store.Tx) error {
		if err := tx.PutAudio(ctx, loop.ID, data); err != nil {
			return err
		}
		return tx.SaveMetadata(ctx, next)
	})
	if err != nil {
		l.log.ErrorContext(ctx, "import failed", slog.String("file", displayName), slog.Any("error", err))
		return model.Loop{}, fmt.Errorf("import %s: %w", displayName, err)
	}
	l.doc = next

	l.log.Info("imported loop",
		slog.String("id", loop.ID),
		slog.String("title", loop.Title),
		slog.String("type", mimeType),
		slog.Int("bytes", len(data)))
	return loop, nil
}

// SaveLoop replaces the editable fields of an existing loop. The file name
// and type are kept from the stored record.
func (l *Library) SaveLoop(ctx context.Context, loop model.Loop) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.doc.LoopIndex(loop.ID)
	if i < 0 {
		return fmt.Errorf("loop %s: %w", loop.ID, ErrNotFound)
	}
	edited, err := l.validate(loop)
	if err != nil {
		return err
	}
	edited.FileName = l.doc.Loops[i].FileName
	edited.FileType = l.doc.Loops[i].FileType

	next := l.doc.Clone()
	next.Loops[i] = edited
	if err := l.commit(ctx, next); err != nil {
		return fmt.Errorf("save loop %s: %w", loop.ID, err)
	}
	l.log.Debug("saved loop", slog.String("id", loop.ID))
	return nil
}

func (l *Library) validate(loop model.Loop) (model.Loop, error) {
	out := loop.Clone()
	out.Title = strings.TrimSpace(out.Title)
	if out.Title == "" {
		return model.Loop{}, fmt.Errorf("%w: title is empty", ErrInvalid)
	}
	if out.TransposeSemitones < model.MinTranspose || out.TransposeSemitones > model.MaxTranspose {
		return model.Loop{}, fmt.Errorf("%w: transpose %d outside [%d, %d]",
			ErrInvalid, out.TransposeSemitones, model.MinTranspose, model.MaxTranspose)
	}
	if out.TuneCents < model.MinTune || out.TuneCents > model.MaxTune {
		return model.Loop{}, fmt.Errorf("%w: tune %d outside [%d, %d]",
			ErrInvalid, out.TuneCents, model.MinTune, model.MaxTune)
	}
	if out.BandID != nil && !l.doc.HasBand(*out.BandID) {
		return model.Loop{}, fmt.Errorf("%w: unknown band %s", ErrInvalid, *out.BandID)
	}
	setlists := make([]string, 0, len(out.SetlistIDs))
	for _, id := range out.SetlistIDs {
		if !l.doc.HasSetlist(id) {
			return model.Loop{}, fmt.Errorf("%w: unknown setlist %s", ErrInvalid, id)
		}
		if !slices.Contains(setlists, id) {
			setlists = append(setlists, id)
		}
	}
	out.SetlistIDs = setlists
	return out, nil
}

// DeleteLoop stops the loop if it is playing, then removes its record and
// audio together.
func (l *Library) DeleteLoop(ctx context.Context, id string) error {
	if _, ok := l.Loop(id); !ok {
		return fmt.Errorf("loop %s: %w", id, ErrNotFound)
	}
	if l.player != nil {
		l.player.StopIfPlaying(id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.doc.LoopIndex(id)
	if i < 0 {
		return fmt.Errorf("loop %s: %w", id, ErrNotFound)
	}

	next := l.doc.Clone()
	next.Loops = slices.Delete(next.Loops, i, i+1)

	err := l.backend.Update(ctx, func(tx *store.Tx) error {
		if err := tx.DeleteAudio(ctx, id); err != nil {
			return err
		}
		return tx.SaveMetadata(ctx, next)
	})
	if err != nil {
		return fmt.Errorf("delete loop %s: %w", id, err)
	}
	l.doc = next
	if l.player != nil {
		// A Play that raced the first stop may have restarted the voice.
		l.player.StopIfPlaying(id)
		l.player.Invalidate(id)
	}
	l.log.Info("deleted loop", slog.String("id", id))
	return nil
}

// AddBand creates a band.
func (l *Library) AddBand(ctx context.Context, name string) (model.Band, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Band{}, fmt.Errorf("%w: band name is empty", ErrInvalid)
	}
	band := model.Band{ID: model.NewID(), Name: name}

	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.doc.Clone()
	next.Bands = append(next.Bands, band)
	if err := l.commit(ctx, next); err != nil {
		return model.Band{}, fmt.Errorf("add band: %w", err)
	}
	return band, nil
}

// DeleteBand removes a band and clears it from every loop that referenced it.
func (l *Library) DeleteBand(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.doc.HasBand(id) {
		return fmt.Errorf("band %s: %w", id, ErrNotFound)
	}

	next := l.doc.Clone()
	next.Bands = slices.DeleteFunc(next.Bands, func(b model.Band) bool { return b.ID == id })
	for i := range next.Loops {
		if next.Loops[i].HasBand(id) {
			next.Loops[i].BandID = nil
		}
	}
	if err := l.commit(ctx, next); err != nil {
		return fmt.Errorf("delete band %s: %w", id, err)
	}
	return nil
}

// AddSetlist creates a setlist.
func (l *Library) AddSetlist(ctx context.Context, name string) (model.Setlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Setlist{}, fmt.Errorf("%w: setlist name is empty", ErrInvalid)
	}
	setlist := model.Setlist{ID: model.NewID(), Name: name}

	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.doc.Clone()
	next.Setlists = append(next.Setlists, setlist)
	if err := l.commit(ctx, next); err != nil {
		return model.Setlist{}, fmt.Errorf("add setlist: %w", err)
	}
	return setlist, nil
}

// DeleteSetlist removes a setlist and its memberships. When it was the
// active filter, the filter falls back to All.
func (l *Library) DeleteSetlist(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.doc.HasSetlist(id) {
		return fmt.Errorf("setlist %s: %w", id, ErrNotFound)
	}

	next := l.doc.Clone()
	next.Setlists = slices.DeleteFunc(next.Setlists, func(s model.Setlist) bool { return s.ID == id })
	for i := range next.Loops {
		next.Loops[i].SetlistIDs = slices.DeleteFunc(next.Loops[i].SetlistIDs, func(s string) bool { return s == id })
	}
	if err := l.commit(ctx, next); err != nil {
		return fmt.Errorf("delete setlist %s: %w", id, err)
	}
	if l.filter == id {
		l.filter = All
	}
	return nil
}

// Play toggles playback of a loop.
func (l *Library) Play(ctx context.Context, id string) (playback.State, error) {
	loop, ok := l.Loop(id)
	if !ok {
		return playback.State{}, fmt.Errorf("loop %s: %w", id, ErrNotFound)
	}
	state, err := l.player.Play(ctx, loop)
	if err != nil {
		return state, err
	}
	// The loop may have been deleted while its audio was loading.
	if _, ok := l.Loop(id); !ok {
		l.player.StopIfPlaying(id)
		return playback.State{}, fmt.Errorf("loop %s: %w", id, ErrNotFound)
	}
	return state, nil
}

// Stop silences playback.
func (l *Library) Stop() {
	l.player.Stop()
}

// Audio returns the stored bytes of a loop along with its file type.
func (l *Library) Audio(ctx context.Context, id string) ([]byte, model.Loop, error) {
	loop, ok := l.Loop(id)
	if !ok {
		return nil, model.Loop{}, fmt.Errorf("loop %s: %w", id, ErrNotFound)
	}
	data, ok, err := l.backend.GetAudio(ctx, id)
	if err != nil {
		return nil, model.Loop{}, fmt.Errorf("read audio %s: %w", id, err)
	}
	if !ok {
		return nil, model.Loop{}, fmt.Errorf("audio %s: %w", id, ErrNotFound)
	}
	return data, loop, nil
}

// AudioSize reports the stored size of a loop's audio in bytes.
func (l *Library) AudioSize(ctx context.Context, id string) (int64, error) {
	size, ok, err := l.backend.AudioSize(ctx, id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("audio %s: %w", id, ErrNotFound)
	}
	return size, nil
}

// Report lists disagreements between the loop records and the stored audio.
type Report struct {
	MissingAudio []string `json:"missingAudio"` // loops without a blob
	OrphanAudio  []string `json:"orphanAudio"`  // blobs without a loop
}

// Consistent reports whether every record has audio and every blob a record.
func (r Report) Consistent() bool {
	return len(r.MissingAudio) == 0 && len(r.OrphanAudio) == 0
}

// Check compares the loop records against the stored blobs.
func (l *Library) Check(ctx context.Context) (Report, error) {
	ids, err := l.backend.AudioIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("check library: %w", err)
	}
	stored := make(map[string]bool, len(ids))
	for _, id := range ids {
		stored[id] = true
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	report := Report{MissingAudio: []string{}, OrphanAudio: []string{}}
	known := make(map[string]bool, len(l.doc.Loops))
	for _, loop := range l.doc.Loops {
		known[loop.ID] = true
		if !stored[loop.ID] {
			report.MissingAudio = append(report.MissingAudio, loop.ID)
		}
	}
	for _, id := range ids {
		if !known[id] {
			report.OrphanAudio = append(report.OrphanAudio, id)
		}
	}
	return report, nil
}

// commit persists next and adopts it. Must be called with mu held.
func (l *Library) commit(ctx context.Context, next model.Document) error {
	err := l.backend.Update(ctx, func(tx *store.Tx) error {
		return tx.SaveMetadata(ctx, next)
	})
	if err != nil {
		l.log.ErrorContext(ctx, "metadata save failed", slog.Any("error", err))
		return err
	}
	l.doc = next
	return nil
}
