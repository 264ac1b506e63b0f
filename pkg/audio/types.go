// Package audio holds the PCM plumbing between audio sources and recognizer
// sessions: format arithmetic, conversion to the recognizer's format and
// slicing of byte streams into fixed-duration frames.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when it
// has more than one channel.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// BytesPerSample is the size of one 16-bit sample of one channel.
const BytesPerSample = 2

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono8k is the usual telephony recognizer input format.
var Mono8k = Format{SampleRate: 8000, Channels: 1}

// Validate reports whether f describes a usable stream.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample rate %d must be positive", f.SampleRate))
	}
	if f.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio: channel count %d must be positive", f.Channels))
	}
	return errors.Join(errs...)
}

// BlockAlign is the number of bytes in one sample of every channel.
func (f Format) BlockAlign() int { return f.Channels * BytesPerSample }

// BytesPerSecond is the data rate of f.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.BlockAlign() }

// FrameBytes returns the size of a frame lasting d, rounded down to whole
// samples. It is at least one block for any positive d.
func (f Format) FrameBytes(d time.Duration) int {
	n := int(int64(f.SampleRate)*int64(d)/int64(time.Second)) * f.BlockAlign()
	if n == 0 && d > 0 {
		n = f.BlockAlign()
	}
	return n
}

// Duration returns how long n bytes of f last.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := n / f.BlockAlign()
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// String returns e.g. "8000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Frame is a chunk of PCM with its format and position in the stream.
type Frame struct {
	Data   []byte
	Format Format

	// Timestamp is the offset of the first sample from the start of the
	// stream.
	Timestamp time.Duration
}

// Duration returns how long the frame lasts.
func (fr Frame) Duration() time.Duration { return fr.Format.Duration(len(fr.Data)) }
