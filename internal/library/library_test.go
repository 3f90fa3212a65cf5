package library

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/loopbook/internal/model"
	"github.com/satindergrewal/loopbook/internal/playback"
	"github.com/satindergrewal/loopbook/internal/store"
)

var errCommit = errors.New("disk full")

// flakyBackend fails transactions after running them, so the store rolls
// back exactly as it would on a real commit failure.
type flakyBackend struct {
	*store.Store
	fail bool
}

func (f *flakyBackend) Update(ctx context.Context, fn func(*store.Tx) error) error {
	if !f.fail {
		return f.Store.Update(ctx, fn)
	}
	return f.Store.Update(ctx, func(tx *store.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errCommit
	})
}

type fakePlayer struct {
	mu          sync.Mutex
	playing     string
	played      []string
	invalidated []string

	beforePlay func() // runs before Play takes effect
	afterStop  func() // runs after StopIfPlaying returns its result
}

func (p *fakePlayer) Play(ctx context.Context, loop model.Loop) (playback.State, error) {
	if p.beforePlay != nil {
		p.beforePlay()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, loop.ID)
	p.playing = loop.ID
	return playback.State{LoopID: loop.ID, Playing: true, Rate: playback.Rate(loop.TransposeSemitones, loop.TuneCents)}, nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.playing = ""
	p.mu.Unlock()
}

func (p *fakePlayer) StopIfPlaying(id string) bool {
	if p.afterStop != nil {
		defer p.afterStop()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing != id {
		return false
	}
	p.playing = ""
	return true
}

func (p *fakePlayer) current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) Invalidate(id string) {
	p.mu.Lock()
	p.invalidated = append(p.invalidated, id)
	p.mu.Unlock()
}

type fixture struct {
	lib     *Library
	store   *store.Store
	backend *flakyBackend
	player  *fakePlayer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.New(filepath.Join(t.TempDir(), "loopbook.db"), nil)
	t.Cleanup(func() { s.Close() })
	f := &fixture{store: s, backend: &flakyBackend{Store: s}, player: &fakePlayer{}}
	f.lib = f.open(t)
	return f
}

func (f *fixture) open(t *testing.T) *Library {
	t.Helper()
	lib, err := Open(context.Background(), f.backend, f.player, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return lib
}

func (f *fixture) importLoop(t *testing.T, name string) model.Loop {
	t.Helper()
	loop, err := f.lib.Import(context.Background(), name, "audio/wav", []byte("audio of "+name))
	require.NoError(t, err)
	return loop
}

func TestOpenFirstRun(t *testing.T) {
	f := newFixture(t)
	doc := f.lib.Snapshot()
	assert.Empty(t, doc.Loops)
	assert.NotNil(t, doc.Bands)
	assert.NotNil(t, doc.Setlists)
	assert.Equal(t, All, f.lib.Filter())
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	loop, err := f.lib.Import(ctx, "riff.mp3", "audio/mpeg", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "riff", loop.Title)
	assert.Equal(t, "riff.mp3", loop.FileName)
	assert.Equal(t, "audio/mpeg", loop.FileType)
	assert.True(t, loop.Looping)
	assert.Nil(t, loop.BandID)
	assert.Empty(t, loop.SetlistIDs)

	data, ok, err := f.store.GetAudio(ctx, loop.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, data)

	reopened := f.open(t)
	got, ok := reopened.Loop(loop.ID)
	require.True(t, ok)
	assert.Equal(t, loop, got)
}

func TestImportSniffsMissingType(t *testing.T) {
	f := newFixture(t)
	header := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 24)...)

	loop, err := f.lib.Import(context.Background(), "take", "", header)
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", loop.FileType)
	assert.Equal(t, "take", loop.Title)
}

func TestImportEmptyFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.lib.Import(context.Background(), "empty.wav", "audio/wav", nil)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestImportFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.backend.fail = true

	_, err := f.lib.Import(ctx, "riff.wav", "audio/wav", []byte{1})
	require.ErrorIs(t, err, errCommit)
	assert.Empty(t, f.lib.Snapshot().Loops)

	doc, ok, err := f.store.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "no metadata written: %+v", doc)
}

func TestImportFailureLeavesNoBlob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before := f.importLoop(t, "first.wav")
	f.backend.fail = true

	_, err := f.lib.Import(ctx, "second.wav", "audio/wav", []byte{1})
	require.Error(t, err)

	doc := f.lib.Snapshot()
	require.Len(t, doc.Loops, 1)
	assert.Equal(t, before.ID, doc.Loops[0].ID)

	ids, err := f.store.AudioIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{before.ID}, ids)

	report, err := f.lib.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestCheckFindsDisagreements(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loop := f.importLoop(t, "a.wav")
	require.NoError(t, f.store.DeleteAudio(ctx, loop.ID))
	require.NoError(t, f.store.PutAudio(ctx, "stray", []byte{1}))

	report, err := f.lib.Check(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, []string{loop.ID}, report.MissingAudio)
	assert.Equal(t, []string{"stray"}, report.OrphanAudio)
}

func TestSaveLoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loop := f.importLoop(t, "riff.wav")
	band, err := f.lib.AddBand(ctx, "The Band")
	require.NoError(t, err)
	set, err := f.lib.AddSetlist(ctx, "Friday")
	require.NoError(t, err)

	edit := loop.Clone()
	edit.Title = "  Main riff  "
	edit.BandID = &band.ID
	edit.SetlistIDs = []string{set.ID, set.ID}
	edit.TransposeSemitones = -3
	edit.TuneCents = 25
	edit.Looping = false
	edit.FileName = "changed.mp3"
	edit.FileType = "audio/mpeg"
	edit.YoutubeLink = "https://youtu.be/abc"
	require.NoError(t, f.lib.SaveLoop(ctx, edit))

	got, ok := f.lib.Loop(loop.ID)
	require.True(t, ok)
	assert.Equal(t, "Main riff", got.Title)
	assert.Equal(t, []string{set.ID}, got.SetlistIDs)
	assert.Equal(t, "riff.wav", got.FileName, "file name is immutable")
	assert.Equal(t, "audio/wav", got.FileType, "file type is immutable")
	assert.True(t, got.HasBand(band.ID))
	assert.False(t, got.Looping)
	assert.Equal(t, -3, got.TransposeSemitones)
	assert.Equal(t, 25, got.TuneCents)

	reopened, ok := f.open(t).Loop(loop.ID)
	require.True(t, ok)
	assert.Equal(t, got, reopened)
}

func TestSaveLoopValidation(t *testing.T) {
	f := newFixture(t)
	loop := f.importLoop(t, "riff.wav")
	missing := "no-such-band"

	tests := []struct {
		name string
		edit func(*model.Loop)
	}{
		{"blank title", func(l *model.Loop) { l.Title = "   " }},
		{"transpose too high", func(l *model.Loop) { l.TransposeSemitones = 13 }},
		{"transpose too low", func(l *model.Loop) { l.TransposeSemitones = -13 }},
		{"tune too high", func(l *model.Loop) { l.TuneCents = 51 }},
		{"tune too low", func(l *model.Loop) { l.TuneCents = -51 }},
		{"unknown band", func(l *model.Loop) { l.BandID = &missing }},
		{"unknown setlist", func(l *model.Loop) { l.SetlistIDs = []string{"nope"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edit := loop.Clone()
			tt.edit(&edit)
			err := f.lib.SaveLoop(context.Background(), edit)
			assert.ErrorIs(t, err, ErrInvalid)
			got, _ := f.lib.Loop(loop.ID)
			assert.Equal(t, loop, got)
		})
	}
}

func TestSaveLoopBoundaries(t *testing.T) {
	f := newFixture(t)
	loop := f.importLoop(t, "riff.wav")

	for _, v := range [][2]int{{12, 50}, {-12, -50}} {
		edit := loop.Clone()
		edit.TransposeSemitones, edit.TuneCents = v[0], v[1]
		assert.NoError(t, f.lib.SaveLoop(context.Background(), edit))
	}
}

func TestSaveUnknownLoop(t *testing.T) {
	f := newFixture(t)
	err := f.lib.SaveLoop(context.Background(), model.NewLoop("x.wav", "audio/wav"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveLoopFailureKeepsMemory(t *testing.T) {
	f := newFixture(t)
	loop := f.importLoop(t, "riff.wav")
	f.backend.fail = true

	edit := loop.Clone()
	edit.Title = "renamed"
	require.ErrorIs(t, f.lib.SaveLoop(context.Background(), edit), errCommit)

	got, _ := f.lib.Loop(loop.ID)
	assert.Equal(t, "riff", got.Title)
}

func TestDeleteLoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	keep := f.importLoop(t, "keep.wav")
	gone := f.importLoop(t, "gone.wav")

	_, err := f.lib.Play(ctx, gone.ID)
	require.NoError(t, err)

	require.NoError(t, f.lib.DeleteLoop(ctx, gone.ID))
	assert.Equal(t, "", f.player.playing, "deleting the playing loop stops it")
	assert.Equal(t, []string{gone.ID}, f.player.invalidated)

	_, ok := f.lib.Loop(gone.ID)
	assert.False(t, ok)
	_, ok, err = f.store.GetAudio(ctx, gone.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok = f.lib.Loop(keep.ID)
	assert.True(t, ok)

	assert.ErrorIs(t, f.lib.DeleteLoop(ctx, gone.ID), ErrNotFound)
}

func TestDeleteLoopLeavesOtherPlayback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	playing := f.importLoop(t, "playing.wav")
	other := f.importLoop(t, "other.wav")

	_, err := f.lib.Play(ctx, playing.ID)
	require.NoError(t, err)
	require.NoError(t, f.lib.DeleteLoop(ctx, other.ID))
	assert.Equal(t, playing.ID, f.player.playing)
}

func TestDeleteLoopStopsPlayRestartedDuringDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loop := f.importLoop(t, "riff.wav")
	_, err := f.lib.Play(ctx, loop.ID)
	require.NoError(t, err)

	stopped := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.player.afterStop = func() {
		once.Do(func() {
			close(stopped)
			<-release
		})
	}

	done := make(chan error, 1)
	go func() { done <- f.lib.DeleteLoop(ctx, loop.ID) }()

	<-stopped
	_, err = f.lib.Play(ctx, loop.ID)
	require.NoError(t, err)
	require.Equal(t, loop.ID, f.player.current())
	close(release)

	require.NoError(t, <-done)
	_, ok := f.lib.Loop(loop.ID)
	assert.False(t, ok)
	assert.Equal(t, "", f.player.current(), "deleted loop must not keep playing")
}

func TestPlayOfLoopDeletedWhileLoading(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loop := f.importLoop(t, "riff.wav")

	f.player.beforePlay = func() {
		f.player.beforePlay = nil
		require.NoError(t, f.lib.DeleteLoop(ctx, loop.ID))
	}

	_, err := f.lib.Play(ctx, loop.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "", f.player.current())
}

func TestDeleteLoopFailureKeepsBoth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loop := f.importLoop(t, "riff.wav")
	f.backend.fail = true

	require.Error(t, f.lib.DeleteLoop(ctx, loop.ID))
	_, ok := f.lib.Loop(loop.ID)
	assert.True(t, ok)
	_, ok, err := f.store.GetAudio(ctx, loop.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, f.player.invalidated)
}

func TestDeleteBandClearsReferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	band, err := f.lib.AddBand(ctx, "Band")
	require.NoError(t, err)
	other, err := f.lib.AddBand(ctx, "Other")
	require.NoError(t, err)

	a := f.importLoop(t, "a.wav")
	b := f.importLoop(t, "b.wav")
	a.BandID = &band.ID
	b.BandID = &other.ID
	require.NoError(t, f.lib.SaveLoop(ctx, a))
	require.NoError(t, f.lib.SaveLoop(ctx, b))

	require.NoError(t, f.lib.DeleteBand(ctx, band.ID))

	got, _ := f.lib.Loop(a.ID)
	assert.Nil(t, got.BandID)
	got, _ = f.lib.Loop(b.ID)
	assert.True(t, got.HasBand(other.ID))

	doc := f.open(t).Snapshot()
	assert.Len(t, doc.Bands, 1)
	assert.ErrorIs(t, f.lib.DeleteBand(ctx, band.ID), ErrNotFound)
}

func TestDeleteSetlistRemovesMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	friday, err := f.lib.AddSetlist(ctx, "Friday")
	require.NoError(t, err)
	saturday, err := f.lib.AddSetlist(ctx, "Saturday")
	require.NoError(t, err)

	loop := f.importLoop(t, "a.wav")
	loop.SetlistIDs = []string{friday.ID, saturday.ID}
	require.NoError(t, f.lib.SaveLoop(ctx, loop))
	require.NoError(t, f.lib.SetFilter(friday.ID))

	require.NoError(t, f.lib.DeleteSetlist(ctx, friday.ID))

	got, _ := f.lib.Loop(loop.ID)
	assert.Equal(t, []string{saturday.ID}, got.SetlistIDs)
	assert.Equal(t, All, f.lib.Filter(), "deleting the filtered setlist resets the filter")
}

func TestDeleteOtherSetlistKeepsFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	friday, err := f.lib.AddSetlist(ctx, "Friday")
	require.NoError(t, err)
	saturday, err := f.lib.AddSetlist(ctx, "Saturday")
	require.NoError(t, err)

	require.NoError(t, f.lib.SetFilter(friday.ID))
	require.NoError(t, f.lib.DeleteSetlist(ctx, saturday.ID))
	assert.Equal(t, friday.ID, f.lib.Filter())
}

func TestFilteredLoops(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	set, err := f.lib.AddSetlist(ctx, "Friday")
	require.NoError(t, err)

	a := f.importLoop(t, "a.wav")
	f.importLoop(t, "b.wav")
	c := f.importLoop(t, "c.wav")
	for _, l := range []model.Loop{a, c} {
		l.SetlistIDs = []string{set.ID}
		require.NoError(t, f.lib.SaveLoop(ctx, l))
	}

	assert.Len(t, f.lib.FilteredLoops(), 3)

	require.NoError(t, f.lib.SetFilter(set.ID))
	got := f.lib.FilteredLoops()
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, c.ID, got[1].ID)

	assert.ErrorIs(t, f.lib.SetFilter("nope"), ErrNotFound)
	assert.Equal(t, set.ID, f.lib.Filter())
}

func TestAddRejectsBlankNames(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.lib.AddBand(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = f.lib.AddSetlist(ctx, "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestPlay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loop := f.importLoop(t, "a.wav")
	loop.TransposeSemitones = 12
	require.NoError(t, f.lib.SaveLoop(ctx, loop))

	state, err := f.lib.Play(ctx, loop.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, state.Rate, 1e-12)

	_, err = f.lib.Play(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	f.lib.Stop()
	assert.Equal(t, "", f.player.playing)
}

func TestAudio(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loop := f.importLoop(t, "a.wav")

	data, got, err := f.lib.Audio(ctx, loop.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio of a.wav"), data)
	assert.Equal(t, "audio/wav", got.FileType)

	size, err := f.lib.AudioSize(ctx, loop.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	_, _, err = f.lib.Audio(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
