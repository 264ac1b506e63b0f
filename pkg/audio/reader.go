package audio

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// FrameReader slices a PCM byte stream into frames of a fixed duration. The
// last frame of a stream may be shorter; it is always whole samples.
type FrameReader struct {
	r      io.Reader
	format Format
	size   int
	pos    time.Duration
	err    error
}

// NewFrameReader returns a reader yielding frames of frameDur from r, which
// must carry PCM in format f.
func NewFrameReader(r io.Reader, f Format, frameDur time.Duration) (*FrameReader, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if frameDur <= 0 {
		return nil, fmt.Errorf("audio: frame duration %s must be positive", frameDur)
	}
	return &FrameReader{r: r, format: f, size: f.FrameBytes(frameDur)}, nil
}

// FrameSize returns the byte size of a full frame.
func (fr *FrameReader) FrameSize() int { return fr.size }

// Next returns the next frame. It returns io.EOF once the stream is
// exhausted. Each frame owns its data.
func (fr *FrameReader) Next() (Frame, error) {
	if fr.err != nil {
		return Frame{}, fr.err
	}
	buf := make([]byte, fr.size)
	n, err := io.ReadFull(fr.r, buf)
	switch {
	case errors.Is(err, io.EOF):
		fr.err = io.EOF
		return Frame{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		fr.err = io.EOF
		n -= n % fr.format.BlockAlign()
		if n == 0 {
			return Frame{}, io.EOF
		}
	case err != nil:
		fr.err = fmt.Errorf("audio: read frame: %w", err)
		return Frame{}, fr.err
	}
	frame := Frame{Data: buf[:n], Format: fr.format, Timestamp: fr.pos}
	fr.pos += fr.format.Duration(n)
	return frame, nil
}
