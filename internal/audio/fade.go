package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeIn ramps the frame's gain along the smoothstep curve from progress
// `from` at its first sample frame to `to` at its last. A voice applies it
// to its first frame so playback does not start with a click.
func FadeIn(frame []int16, from, to float64) {
	n := len(frame) / Channels
	if n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		t := from
		if n > 1 {
			t = from + (to-from)*float64(i)/float64(n-1)
		}
		gain := Smoothstep(t)
		for ch := 0; ch < Channels; ch++ {
			frame[i*Channels+ch] = clip16(float64(frame[i*Channels+ch]) * gain)
		}
	}
}
