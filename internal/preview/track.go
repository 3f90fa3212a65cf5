package preview

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/zmb3/spotify"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/satindergrewal/loopbook/internal/model"
)

var (
	// ErrNoTrack means the loop has no usable Spotify track link.
	ErrNoTrack = errors.New("no spotify track link")
	// ErrTrackNotFound means Spotify does not know the linked track.
	ErrTrackNotFound = errors.New("spotify track not found")
	// ErrLookup wraps any other failure talking to the Spotify Web API.
	ErrLookup = errors.New("spotify lookup failed")
)

// Track is what Spotify reports about a linked track.
type Track struct {
	ID         spotify.ID `json:"id"`
	Name       string     `json:"name"`
	Artists    []string   `json:"artists"`
	Album      string     `json:"album"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	DurationMs int        `json:"durationMs"`
	Popularity int        `json:"popularity"`
}

// Tracks looks up Spotify track details for loop links.
type Tracks struct {
	client spotify.Client
}

// NewTracks returns a lookup that sends requests through httpClient, which
// must attach a valid bearer token.
func NewTracks(httpClient *http.Client) *Tracks {
	return &Tracks{client: spotify.NewClient(httpClient)}
}

// NewTracksWithCredentials authenticates with the client credentials flow.
// Tokens are fetched on first use and refreshed as they expire.
func NewTracksWithCredentials(ctx context.Context, clientID, clientSecret string) *Tracks {
	config := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotify.TokenURL,
	}
	return NewTracks(config.Client(ctx))
}

// LookupLoop fetches the track behind the loop's Spotify link. The YouTube
// link plays no part here.
func (t *Tracks) LookupLoop(loop model.Loop) (Track, error) {
	return t.Lookup(loop.SpotifyLink)
}

// Lookup fetches the track behind a Spotify track link.
func (t *Tracks) Lookup(link string) (Track, error) {
	if link == "" {
		return Track{}, ErrNoTrack
	}
	id, ok := spotifyTrackID(link)
	if !ok {
		return Track{}, ErrNoTrack
	}

	full, err := t.client.GetTrack(id)
	if err != nil {
		var apiErr spotify.Error
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusBadRequest) {
			return Track{}, fmt.Errorf("track %s: %w", id, ErrTrackNotFound)
		}
		return Track{}, fmt.Errorf("track %s: %w: %v", id, ErrLookup, err)
	}

	track := Track{
		ID:         full.ID,
		Name:       full.Name,
		Album:      full.Album.Name,
		DurationMs: full.Duration,
		Popularity: full.Popularity,
		Artists:    make([]string, 0, len(full.Artists)),
	}
	for _, a := range full.Artists {
		track.Artists = append(track.Artists, a.Name)
	}
	if len(full.Album.Images) > 0 {
		track.ImageURL = full.Album.Images[0].URL
	}
	return track, nil
}
