// Package preview turns a loop's reference links into an embeddable player.
package preview

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/zmb3/spotify"

	"github.com/satindergrewal/loopbook/internal/model"
)

// Kind identifies the preview provider.
type Kind string

const (
	None    Kind = ""
	YouTube Kind = "youtube"
	Spotify Kind = "spotify"
)

var errNotAbsolute = errors.New("not an absolute URL")

const (
	youtubeEmbed = "https://www.youtube.com/embed/"
	spotifyEmbed = "https://open.spotify.com/embed/track/"
)

// Preview is an embeddable reference for a loop. Kind is None when no link
// yields an id.
type Preview struct {
	Kind     Kind   `json:"kind"`
	ID       string `json:"id,omitempty"`
	EmbedURL string `json:"embedUrl,omitempty"`
}

// ForLoop resolves the preview for a loop.
func ForLoop(loop model.Loop) Preview {
	return Resolve(loop.YoutubeLink, loop.SpotifyLink)
}

// Resolve picks the preview for a pair of links. A non-empty YouTube link
// takes precedence even when no video id can be read from it; Spotify is
// only consulted when the YouTube link is empty.
func Resolve(youtubeLink, spotifyLink string) Preview {
	if youtubeLink != "" {
		id, ok := youtubeID(youtubeLink)
		if !ok {
			return Preview{}
		}
		return Preview{Kind: YouTube, ID: id, EmbedURL: youtubeEmbed + id}
	}
	if spotifyLink != "" {
		id, ok := spotifyTrackID(spotifyLink)
		if !ok {
			return Preview{}
		}
		return Preview{Kind: Spotify, ID: string(id), EmbedURL: spotifyEmbed + string(id)}
	}
	return Preview{}
}

func youtubeID(link string) (string, bool) {
	u, ok := parse(link, "youtube")
	if !ok {
		return "", false
	}
	var id string
	if strings.EqualFold(u.Hostname(), "youtu.be") {
		id = strings.TrimPrefix(u.Path, "/")
	} else {
		id = u.Query().Get("v")
	}
	return id, id != ""
}

func spotifyTrackID(link string) (spotify.ID, bool) {
	u, ok := parse(link, "spotify")
	if !ok {
		return "", false
	}
	if !strings.EqualFold(u.Hostname(), "open.spotify.com") {
		return "", false
	}
	segments := strings.Split(u.Path, "/")
	id := spotify.ID(segments[len(segments)-1])
	return id, id != ""
}

// parse accepts absolute URLs only.
func parse(link, provider string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err == nil && (u.Scheme == "" || u.Host == "") {
		err = errNotAbsolute
	}
	if err != nil {
		slog.Warn("ignoring malformed link",
			slog.String("provider", provider),
			slog.String("link", link),
			slog.Any("error", err))
		return nil, false
	}
	return u, true
}
