package audio

import (
	"bytes"

	"github.com/dhowden/tag"
)

// DetectMIME guesses a MIME type from file contents. Tagged containers
// (ID3, FLAC, Ogg, MP4) are identified by their tag layout; plain WAV and
// untagged MP3 fall back to header sniffing. Returns "" when unknown.
func DetectMIME(data []byte) string {
	if _, typ, err := tag.Identify(bytes.NewReader(data)); err == nil {
		switch typ {
		case tag.MP3:
			return "audio/mpeg"
		case tag.FLAC:
			return "audio/flac"
		case tag.OGG:
			return "audio/ogg"
		case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
			return "audio/mp4"
		case tag.DSF:
			return "audio/dsf"
		}
	}

	switch Sniff(data, "") {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	}
	return ""
}
