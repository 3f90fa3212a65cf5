// Package model holds the records persisted in the metadata document.
package model

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
)

const (
	MinTranspose = -12
	MaxTranspose = 12
	MinTune      = -50
	MaxTune      = 50
)

// Loop is one imported audio asset plus its playback and organizational metadata.
// ID keys both this record and the stored audio blob.
type Loop struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	BandID             *string  `json:"bandId"`
	FileName           string   `json:"fileName"`
	FileType           string   `json:"fileType"`
	Looping            bool     `json:"looping"`
	SpotifyLink        string   `json:"spotifyLink"`
	YoutubeLink        string   `json:"youtubeLink"`
	SetlistIDs         []string `json:"setlistIds"`
	TransposeSemitones int      `json:"transposeSemitones"`
	TuneCents          int      `json:"tuneCents"`
}

// Band is a user-defined tag a loop can point at.
type Band struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Setlist is a user-defined grouping of loops.
type Setlist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Document is the single consolidated metadata record. It carries no version tag.
type Document struct {
	Loops    []Loop    `json:"loops"`
	Bands    []Band    `json:"bands"`
	Setlists []Setlist `json:"setlists"`
}

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// NewLoop builds the record for a freshly imported file: the title is the
// file name without its extension, playback loops, no pitch adjustment.
func NewLoop(fileName, fileType string) Loop {
	return Loop{
		ID:         NewID(),
		Title:      TitleFromFileName(fileName),
		FileName:   fileName,
		FileType:   fileType,
		Looping:    true,
		SetlistIDs: []string{},
	}
}

// TitleFromFileName strips the final extension, keeping dotfiles intact.
// A trailing dot with nothing after it is not an extension.
func TitleFromFileName(name string) string {
	ext := filepath.Ext(name)
	if ext == name || len(ext) < 2 {
		return name
	}
	return strings.TrimSuffix(name, ext)
}

// InSetlist reports whether the loop is a member of the given setlist.
func (l Loop) InSetlist(id string) bool {
	return slices.Contains(l.SetlistIDs, id)
}

// HasBand reports whether the loop references the given band.
func (l Loop) HasBand(id string) bool {
	return l.BandID != nil && *l.BandID == id
}

// Clone returns a deep copy so callers can mutate it freely.
func (l Loop) Clone() Loop {
	c := l
	if l.BandID != nil {
		b := *l.BandID
		c.BandID = &b
	}
	c.SetlistIDs = slices.Clone(l.SetlistIDs)
	if c.SetlistIDs == nil {
		c.SetlistIDs = []string{}
	}
	return c
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	c := Document{
		Loops:    make([]Loop, len(d.Loops)),
		Bands:    slices.Clone(d.Bands),
		Setlists: slices.Clone(d.Setlists),
	}
	for i, l := range d.Loops {
		c.Loops[i] = l.Clone()
	}
	if c.Bands == nil {
		c.Bands = []Band{}
	}
	if c.Setlists == nil {
		c.Setlists = []Setlist{}
	}
	return c
}

// LoopIndex returns the position of the loop with the given id, or -1.
func (d Document) LoopIndex(id string) int {
	return slices.IndexFunc(d.Loops, func(l Loop) bool { return l.ID == id })
}

// HasBand reports whether a band with the given id exists.
func (d Document) HasBand(id string) bool {
	return slices.ContainsFunc(d.Bands, func(b Band) bool { return b.ID == id })
}

// HasSetlist reports whether a setlist with the given id exists.
func (d Document) HasSetlist(id string) bool {
	return slices.ContainsFunc(d.Setlists, func(s Setlist) bool { return s.ID == id })
}

// Band returns the band with the given id.
func (d Document) Band(id string) (Band, bool) {
	i := slices.IndexFunc(d.Bands, func(b Band) bool { return b.ID == id })
	if i < 0 {
		return Band{}, false
	}
	return d.Bands[i], true
}
