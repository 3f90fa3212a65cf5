package shell

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/satindergrewal/loopbook/internal/library"
	"github.com/satindergrewal/loopbook/internal/model"
	"github.com/satindergrewal/loopbook/internal/preview"
)

func (s *Shell) list(ctx context.Context) error {
	loops := s.lib.FilteredLoops()
	doc := s.lib.Snapshot()
	playing := s.status.Status().LoopID

	filter := s.lib.Filter()
	if filter != library.All {
		filter = setlistName(doc, filter)
	}
	fmt.Fprintf(s.out, "%d loops (filter: %s)\n", len(loops), filter)
	if len(loops) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\t\tTITLE\tBAND\tPITCH\tLOOP\tSIZE\tID")
	for i, l := range loops {
		mark := ""
		if l.ID == playing {
			mark = ">"
		}
		size := "-"
		if n, err := s.lib.AudioSize(ctx, l.ID); err == nil {
			size = humanize.Bytes(uint64(n))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, mark, l.Title, bandName(doc, l.BandID), pitch(l), onOff(l.Looping), size, shortID(l.ID))
	}
	return w.Flush()
}

func (s *Shell) importFile(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("usage: import <path>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "audio/") {
		mimeType = ""
	}

	loop, err := s.lib.Import(ctx, name, mimeType, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "imported %q (%s, %s) as %s\n",
		loop.Title, loop.FileType, humanize.Bytes(uint64(len(data))), loop.ID)
	return nil
}

func (s *Shell) play(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: play <loop>")
	}
	loop, err := s.resolveLoop(args[0])
	if err != nil {
		return err
	}
	state, err := s.lib.Play(ctx, loop.ID)
	if err != nil {
		return err
	}
	if state.LoopID == "" {
		fmt.Fprintf(s.out, "stopped %q\n", loop.Title)
		return nil
	}
	fmt.Fprintf(s.out, "playing %q at %.3fx\n", loop.Title, state.Rate)
	return nil
}

func (s *Shell) show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: show <loop>")
	}
	loop, err := s.resolveLoop(args[0])
	if err != nil {
		return err
	}
	doc := s.lib.Snapshot()

	setlists := make([]string, len(loop.SetlistIDs))
	for i, id := range loop.SetlistIDs {
		setlists[i] = setlistName(doc, id)
	}
	size := "missing"
	if n, err := s.lib.AudioSize(ctx, loop.ID); err == nil {
		size = humanize.Bytes(uint64(n))
	}

	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", loop.ID)
	fmt.Fprintf(w, "title\t%s\n", loop.Title)
	fmt.Fprintf(w, "file\t%s (%s, %s)\n", loop.FileName, loop.FileType, size)
	fmt.Fprintf(w, "band\t%s\n", bandName(doc, loop.BandID))
	fmt.Fprintf(w, "setlists\t%s\n", strings.Join(setlists, ", "))
	fmt.Fprintf(w, "pitch\t%s\n", pitch(loop))
	fmt.Fprintf(w, "looping\t%s\n", onOff(loop.Looping))
	fmt.Fprintf(w, "youtube\t%s\n", loop.YoutubeLink)
	fmt.Fprintf(w, "spotify\t%s\n", loop.SpotifyLink)
	if p := preview.ForLoop(loop); p.Kind != preview.None {
		fmt.Fprintf(w, "preview\t%s\n", p.EmbedURL)
	}
	return w.Flush()
}

func (s *Shell) track(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: track <loop>")
	}
	if s.tracks == nil {
		return errors.New("spotify lookup is not configured (set LOOPBOOK_SPOTIFY_CLIENT_ID and LOOPBOOK_SPOTIFY_CLIENT_SECRET)")
	}
	loop, err := s.resolveLoop(args[0])
	if err != nil {
		return err
	}
	t, err := s.tracks.LookupLoop(loop)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "track\t%s\n", t.Name)
	fmt.Fprintf(w, "artists\t%s\n", strings.Join(t.Artists, ", "))
	fmt.Fprintf(w, "album\t%s\n", t.Album)
	fmt.Fprintf(w, "length\t%s\n", time.Duration(t.DurationMs)*time.Millisecond)
	fmt.Fprintf(w, "popularity\t%d\n", t.Popularity)
	return w.Flush()
}

func (s *Shell) set(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: set <loop> <field> <value>")
	}
	loop, err := s.resolveLoop(args[0])
	if err != nil {
		return err
	}
	field, value := strings.ToLower(args[1]), strings.Join(args[2:], " ")
	doc := s.lib.Snapshot()

	switch field {
	case "title":
		loop.Title = value
	case "band":
		if value == "" || value == "none" {
			loop.BandID = nil
			break
		}
		band, ok := findBand(doc, value)
		if !ok {
			return fmt.Errorf("no band %q", value)
		}
		loop.BandID = &band.ID
	case "setlists":
		loop.SetlistIDs = []string{}
		if value == "" || value == "none" {
			break
		}
		for _, name := range strings.Split(value, ",") {
			set, ok := findSetlist(doc, strings.TrimSpace(name))
			if !ok {
				return fmt.Errorf("no setlist %q", strings.TrimSpace(name))
			}
			loop.SetlistIDs = append(loop.SetlistIDs, set.ID)
		}
	case "transpose":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("transpose must be a whole number of semitones: %w", err)
		}
		loop.TransposeSemitones = n
	case "tune":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("tune must be a whole number of cents: %w", err)
		}
		loop.TuneCents = n
	case "looping":
		b, err := parseOnOff(value)
		if err != nil {
			return err
		}
		loop.Looping = b
	case "youtube":
		loop.YoutubeLink = value
	case "spotify":
		loop.SpotifyLink = value
	default:
		return fmt.Errorf("unknown field %q", field)
	}

	if err := s.lib.SaveLoop(ctx, loop); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "saved %s\n", shortID(loop.ID))
	return nil
}

func (s *Shell) remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rm <loop>")
	}
	loop, err := s.resolveLoop(args[0])
	if err != nil {
		return err
	}
	if err := s.lib.DeleteLoop(ctx, loop.ID); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "deleted %q\n", loop.Title)
	return nil
}

func (s *Shell) band(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: band add <name> | band rm <band>")
	}
	switch args[0] {
	case "add":
		band, err := s.lib.AddBand(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "added band %q (%s)\n", band.Name, band.ID)
	case "rm":
		band, ok := findBand(s.lib.Snapshot(), strings.Join(args[1:], " "))
		if !ok {
			return fmt.Errorf("band %s: %w", args[1], library.ErrNotFound)
		}
		if err := s.lib.DeleteBand(ctx, band.ID); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "deleted band %q\n", band.Name)
	default:
		return fmt.Errorf("unknown band command %q", args[0])
	}
	return nil
}

func (s *Shell) setlist(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: setlist add <name> | setlist rm <setlist>")
	}
	switch args[0] {
	case "add":
		set, err := s.lib.AddSetlist(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "added setlist %q (%s)\n", set.Name, set.ID)
	case "rm":
		set, ok := findSetlist(s.lib.Snapshot(), strings.Join(args[1:], " "))
		if !ok {
			return fmt.Errorf("setlist %s: %w", args[1], library.ErrNotFound)
		}
		if err := s.lib.DeleteSetlist(ctx, set.ID); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "deleted setlist %q\n", set.Name)
	default:
		return fmt.Errorf("unknown setlist command %q", args[0])
	}
	return nil
}

func (s *Shell) filter(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: filter <all|setlist>")
	}
	arg := strings.Join(args, " ")
	if strings.EqualFold(arg, library.All) {
		return s.lib.SetFilter(library.All)
	}
	set, ok := findSetlist(s.lib.Snapshot(), arg)
	if !ok {
		return fmt.Errorf("setlist %s: %w", arg, library.ErrNotFound)
	}
	if err := s.lib.SetFilter(set.ID); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "showing setlist %q\n", set.Name)
	return nil
}

func (s *Shell) printStatus() {
	st := s.status.Status()
	switch {
	case st.LoopID == "":
		fmt.Fprintln(s.out, "idle")
	case st.Pending:
		fmt.Fprintf(s.out, "loading %s\n", s.titleOf(st.LoopID))
	default:
		fmt.Fprintf(s.out, "playing %s at %.3fx, %s in\n",
			s.titleOf(st.LoopID), st.Rate, st.Position.Truncate(1e7))
	}
}

func (s *Shell) check(ctx context.Context) error {
	report, err := s.lib.Check(ctx)
	if err != nil {
		return err
	}
	if report.Consistent() {
		fmt.Fprintln(s.out, "ok: every loop has audio and every blob has a loop")
		return nil
	}
	for _, id := range report.MissingAudio {
		fmt.Fprintf(s.out, "missing audio: %s %s\n", id, s.titleOf(id))
	}
	for _, id := range report.OrphanAudio {
		fmt.Fprintf(s.out, "orphan audio: %s\n", id)
	}
	return nil
}

// resolveLoop accepts a full id, a 1-based index into the filtered list,
// or a unique id prefix, in that order.
func (s *Shell) resolveLoop(arg string) (model.Loop, error) {
	if loop, ok := s.lib.Loop(arg); ok {
		return loop, nil
	}
	if n, err := strconv.Atoi(arg); err == nil && len(arg) < 6 {
		loops := s.lib.FilteredLoops()
		if n < 1 || n > len(loops) {
			return model.Loop{}, fmt.Errorf("no loop #%d: %w", n, library.ErrNotFound)
		}
		return loops[n-1], nil
	}

	var match []model.Loop
	for _, l := range s.lib.Snapshot().Loops {
		if strings.HasPrefix(l.ID, arg) {
			match = append(match, l)
		}
	}
	switch len(match) {
	case 0:
		return model.Loop{}, fmt.Errorf("loop %s: %w", arg, library.ErrNotFound)
	case 1:
		return match[0], nil
	default:
		return model.Loop{}, fmt.Errorf("%q matches %d loops", arg, len(match))
	}
}

func (s *Shell) titleOf(id string) string {
	if l, ok := s.lib.Loop(id); ok {
		return strconv.Quote(l.Title)
	}
	return ""
}

func findBand(doc model.Document, arg string) (model.Band, bool) {
	for _, b := range doc.Bands {
		if b.ID == arg || strings.EqualFold(b.Name, arg) {
			return b, true
		}
	}
	return model.Band{}, false
}

func findSetlist(doc model.Document, arg string) (model.Setlist, bool) {
	for _, sl := range doc.Setlists {
		if sl.ID == arg || strings.EqualFold(sl.Name, arg) {
			return sl, true
		}
	}
	return model.Setlist{}, false
}

func bandName(doc model.Document, id *string) string {
	if id == nil {
		return "-"
	}
	if b, ok := doc.Band(*id); ok {
		return b.Name
	}
	return "?"
}

func setlistName(doc model.Document, id string) string {
	if sl, ok := findSetlist(doc, id); ok {
		return sl.Name
	}
	return id
}

func pitch(l model.Loop) string {
	return fmt.Sprintf("%+dst %+dc", l.TransposeSemitones, l.TuneCents)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func parseOnOff(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	}
	return false, errors.New("looping must be on or off")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
