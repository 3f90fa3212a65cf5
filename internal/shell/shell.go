// Package shell is an interactive command line over the library and engine.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chzyer/readline"

	"github.com/satindergrewal/loopbook/internal/library"
	"github.com/satindergrewal/loopbook/internal/model"
	"github.com/satindergrewal/loopbook/internal/playback"
	"github.com/satindergrewal/loopbook/internal/preview"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

// StatusSource reports what the engine is doing.
type StatusSource interface {
	Status() playback.State
}

// TrackSource looks up Spotify details for a loop's link.
type TrackSource interface {
	LookupLoop(loop model.Loop) (preview.Track, error)
}

// Shell runs commands against a library.
type Shell struct {
	lib    *library.Library
	status StatusSource
	tracks TrackSource
	out    io.Writer
	log    *slog.Logger
}

// New creates a shell that prints to out.
func New(lib *library.Library, status StatusSource, out io.Writer, logger *slog.Logger) *Shell {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{lib: lib, status: status, out: out, log: logger}
}

// WithTracks enables the track command.
func (s *Shell) WithTracks(t TrackSource) *Shell {
	s.tracks = t
	return s
}

// Run reads commands until quit, EOF or interrupt.
func (s *Shell) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "loopbook> ",
		HistoryFile:  historyFile,
		AutoComplete: s.completer(),
		Stdout:       s.out,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(s.out, "loopbook shell. Type 'help' for commands.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *Shell) completer() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("ls"),
		readline.PcItem("import"),
		readline.PcItem("play"),
		readline.PcItem("stop"),
		readline.PcItem("show"),
		readline.PcItem("set"),
		readline.PcItem("rm"),
		readline.PcItem("band",
			readline.PcItem("add"),
			readline.PcItem("rm"),
		),
		readline.PcItem("setlist",
			readline.PcItem("add"),
			readline.PcItem("rm"),
		),
		readline.PcItem("filter",
			readline.PcItem("all"),
		),
		readline.PcItem("track"),
		readline.PcItem("status"),
		readline.PcItem("check"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// Exec runs a single command line.
func (s *Shell) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "ls", "list":
		return s.list(ctx)
	case "import":
		return s.importFile(ctx, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0])))
	case "play", "p":
		return s.play(ctx, args)
	case "stop", "s":
		s.lib.Stop()
		fmt.Fprintln(s.out, "stopped")
		return nil
	case "show":
		return s.show(ctx, args)
	case "track":
		return s.track(args)
	case "set":
		return s.set(ctx, args)
	case "rm", "delete":
		return s.remove(ctx, args)
	case "band":
		return s.band(ctx, args)
	case "setlist":
		return s.setlist(ctx, args)
	case "filter":
		return s.filter(args)
	case "status":
		s.printStatus()
		return nil
	case "check":
		return s.check(ctx)
	case "help", "?":
		s.help()
		return nil
	case "quit", "exit", "q":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

func (s *Shell) help() {
	fmt.Fprint(s.out, `Commands:
  ls                          List loops selected by the filter
  import <path>               Import an audio file
  play <loop>                 Play a loop, or stop it if it is playing
  stop                        Stop playback
  show <loop>                 Show a loop's details
  track <loop>                Look up the loop's Spotify track
  set <loop> <field> <value>  Edit title|band|setlists|transpose|tune|looping|youtube|spotify
  rm <loop>                   Delete a loop and its audio
  band add <name> | rm <id>   Manage bands
  setlist add <name> | rm <id>
                              Manage setlists
  filter <all|setlist>        Select which loops ls shows
  status                      Show playback status
  check                       Compare loop records with stored audio
  quit                        Leave the shell
A <loop> is a list number, a full id, or a unique id prefix.
`)
}
