package audio

// Normalize converts interleaved samples with the given channel count and
// sample rate to interleaved stereo at SampleRate. Mono is duplicated to both
// channels; extra channels beyond the first two are dropped.
func Normalize(samples []int16, channels, rate int) []int16 {
	if channels <= 0 {
		return nil
	}
	frames := len(samples) / channels

	stereo := make([]int16, frames*Channels)
	for i := 0; i < frames; i++ {
		left := samples[i*channels]
		right := left
		if channels > 1 {
			right = samples[i*channels+1]
		}
		stereo[i*2] = left
		stereo[i*2+1] = right
	}

	if rate == SampleRate || rate <= 0 {
		return stereo
	}
	return Resample(stereo, rate, SampleRate)
}

// Resample converts interleaved stereo from one rate to another with linear
// interpolation.
func Resample(stereo []int16, fromRate, toRate int) []int16 {
	inFrames := len(stereo) / Channels
	if inFrames == 0 || fromRate == toRate {
		return stereo
	}

	outFrames := int(int64(inFrames) * int64(toRate) / int64(fromRate))
	out := make([]int16, outFrames*Channels)
	step := float64(fromRate) / float64(toRate)

	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		i0 := int(pos)
		frac := pos - float64(i0)
		i1 := i0 + 1
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		for ch := 0; ch < Channels; ch++ {
			a := float64(stereo[i0*Channels+ch])
			b := float64(stereo[i1*Channels+ch])
			out[i*Channels+ch] = clip16(a + (b-a)*frac)
		}
	}
	return out
}

func clip16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
