package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupported is returned when no decoder handles the input.
var ErrUnsupported = errors.New("unsupported audio format")

// Format is a container the decoder recognizes.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
)

// Sniff identifies the container from the leading bytes, falling back to
// the MIME type when the header is inconclusive.
func Sniff(data []byte, mimeType string) Format {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}

	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return FormatWAV
	case "audio/mpeg", "audio/mp3", "audio/mpeg3":
		return FormatMP3
	}
	return FormatUnknown
}

// Decoder turns stored bytes into a Clip. WAV and MP3 decode in-process;
// anything else goes through FFmpeg when FFmpegPath is set.
type Decoder struct {
	FFmpegPath string
}

// Decode decodes data into a Clip in the output format.
func (d *Decoder) Decode(ctx context.Context, data []byte, mimeType string) (*Clip, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode: empty input: %w", ErrUnsupported)
	}

	var (
		clip *Clip
		err  error
	)
	switch Sniff(data, mimeType) {
	case FormatWAV:
		clip, err = DecodeWAV(data)
	case FormatMP3:
		clip, err = DecodeMP3(data)
	default:
		if d == nil || d.FFmpegPath == "" {
			return nil, fmt.Errorf("decode %q: %w", mimeType, ErrUnsupported)
		}
		clip, err = d.decodeFFmpeg(ctx, data)
	}
	if err != nil {
		return nil, err
	}
	if clip.Frames() == 0 {
		return nil, fmt.Errorf("decode: no audio frames")
	}
	return clip, nil
}

// DecodeWAV decodes a PCM WAV file held in memory.
func DecodeWAV(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("decode wav: invalid wav file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("decode wav: missing format")
	}

	samples := intsToInt16(buf)
	return &Clip{Samples: Normalize(samples, buf.Format.NumChannels, buf.Format.SampleRate)}, nil
}

func intsToInt16(buf *goaudio.IntBuffer) []int16 {
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch buf.SourceBitDepth {
		case 8:
			out[i] = int16((v - 128) << 8) // 8-bit WAV is unsigned
		case 24:
			out[i] = int16(v >> 8)
		case 32:
			out[i] = int16(v >> 16)
		default:
			out[i] = int16(v)
		}
	}
	return out
}

// DecodeMP3 decodes an MP3 file held in memory. go-mp3 always yields
// 16-bit little-endian stereo.
func DecodeMP3(data []byte) (*Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	return &Clip{Samples: Normalize(BytesToSamples(pcm), 2, dec.SampleRate())}, nil
}

// decodeFFmpeg pipes the bytes through FFmpeg and reads back raw PCM int16
// samples, interleaved stereo at 48kHz.
func (d *Decoder) decodeFFmpeg(ctx context.Context, data []byte) (*Clip, error) {
	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w", err)
	}

	return &Clip{Samples: BytesToSamples(out)}, nil
}

// BytesToSamples converts little-endian bytes to int16 samples, dropping a
// trailing odd byte.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
