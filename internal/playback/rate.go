package playback

import "math"

// Rate returns the playback speed multiplier for a pitch offset: 1200 cents
// is one octave, a factor of two. Speed and pitch move together, so
// transposing also changes tempo.
func Rate(transposeSemitones, tuneCents int) float64 {
	cents := float64(transposeSemitones*100 + tuneCents)
	return math.Pow(2, cents/1200)
}
