package app

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/sphinxlink/pkg/audio"
)

// ErrUnsupportedWAV is returned by [OpenAudio] for WAV files it cannot
// decode: non-PCM encodings and unusual bit depths.
var ErrUnsupportedWAV = errors.New("app: unsupported wav")

// OpenAudio opens the audio file at path and returns its PCM converted to
// target. WAV files (PCM, 8 to 32 bit) are decoded; ".raw" and ".pcm" files
// are read as signed 16-bit little-endian PCM in raw format. Other extensions
// are sniffed for a RIFF header and otherwise treated as raw.
func OpenAudio(path string, target, raw audio.Format) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("app: open audio: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	isWAV := ext == ".wav"
	if ext != ".wav" && ext != ".raw" && ext != ".pcm" {
		var magic [4]byte
		n, _ := io.ReadFull(f, magic[:])
		isWAV = n == 4 && string(magic[:]) == "RIFF"
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("app: rewind %q: %w", path, err)
		}
	}

	if isWAV {
		defer f.Close()
		fr, err := decodeWAV(f, path)
		if err != nil {
			return nil, err
		}
		conv := audio.Converter{Target: target}
		return io.NopCloser(bytes.NewReader(conv.Convert(fr).Data)), nil
	}

	if err := raw.Validate(); err != nil {
		f.Close()
		return nil, err
	}
	if raw == target {
		return f, nil
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("app: read %q: %w", path, err)
	}
	data = data[:len(data)-len(data)%raw.BlockAlign()]
	conv := audio.Converter{Target: target}
	return io.NopCloser(bytes.NewReader(conv.Convert(audio.Frame{Data: data, Format: raw}).Data)), nil
}

// decodeWAV reads a complete PCM WAV stream into one 16-bit frame.
func decodeWAV(r io.ReadSeeker, path string) (audio.Frame, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return audio.Frame{}, fmt.Errorf("app: decode %q: not a valid wav file", path)
	}
	if dec.WavAudioFormat != 1 {
		return audio.Frame{}, fmt.Errorf("%w: %q uses encoding %d, only PCM is supported", ErrUnsupportedWAV, path, dec.WavAudioFormat)
	}
	depth := int(dec.BitDepth)
	switch depth {
	case 8, 16, 24, 32:
	default:
		return audio.Frame{}, fmt.Errorf("%w: %q has bit depth %d", ErrUnsupportedWAV, path, depth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return audio.Frame{}, fmt.Errorf("app: decode %q: %w", path, err)
	}
	if buf == nil || buf.Format == nil {
		return audio.Frame{}, fmt.Errorf("app: decode %q: no audio data", path)
	}

	format := audio.Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	if err := format.Validate(); err != nil {
		return audio.Frame{}, fmt.Errorf("app: decode %q: %w", path, err)
	}
	pcm := pcm16(buf, depth)
	pcm = pcm[:len(pcm)-len(pcm)%format.BlockAlign()]
	return audio.Frame{Data: pcm, Format: format}, nil
}

// pcm16 renders buf as signed 16-bit little-endian PCM.
func pcm16(buf *goaudio.IntBuffer, depth int) []byte {
	pcm := make([]byte, len(buf.Data)*audio.BytesPerSample)
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(toInt16(v, depth)))
	}
	return pcm
}

// toInt16 scales a sample of the given bit depth to 16 bits. 8-bit WAV
// samples are unsigned.
func toInt16(v, depth int) int16 {
	switch depth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}
