package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Converter converts frames to a target format. It logs a warning on the
// first format mismatch and on the first misaligned frame. Create one per
// stream; it is not designed for shared use across goroutines.
type Converter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts fr to the target format. A frame that already matches is
// returned unchanged. Channels are mixed down before resampling so that only
// one channel is resampled. Misaligned frames are replaced by an empty frame.
func (c *Converter) Convert(fr Frame) Frame {
	if fr.Format.Channels <= 0 || len(fr.Data)%fr.Format.BlockAlign() != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: misaligned PCM frame, dropping",
				"bytes", len(fr.Data),
				"format", fr.Format.String(),
			)
		})
		return Frame{Format: c.Target, Timestamp: fr.Timestamp}
	}
	if fr.Format == c.Target {
		return fr
	}
	c.warnedMismatch.Do(func() {
		slog.Info("audio: converting stream",
			"from", fr.Format.String(),
			"to", c.Target.String(),
		)
	})

	pcm := fr.Data
	channels := fr.Format.Channels
	if channels != 1 && c.Target.Channels == 1 {
		pcm = Downmix(pcm, channels)
		channels = 1
	}
	if fr.Format.SampleRate != c.Target.SampleRate {
		if channels == 1 {
			pcm = Resample(pcm, fr.Format.SampleRate, c.Target.SampleRate)
		} else {
			pcm = resampleInterleaved(pcm, channels, fr.Format.SampleRate, c.Target.SampleRate)
		}
	}
	if channels == 1 && c.Target.Channels > 1 {
		pcm = Upmix(pcm, c.Target.Channels)
		channels = c.Target.Channels
	}

	return Frame{
		Data:      pcm,
		Format:    Format{SampleRate: c.Target.SampleRate, Channels: channels},
		Timestamp: fr.Timestamp,
	}
}

// Downmix averages the channels of interleaved PCM into mono.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	block := channels * BytesPerSample
	frames := len(pcm) / block
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sample(pcm, i*channels+ch))
		}
		putSample(out, i, clamp(sum/int32(channels)))
	}
	return out
}

// Upmix copies every mono sample into channels interleaved channels.
func Upmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*channels*BytesPerSample)
	for i := range n {
		s := sample(pcm, i)
		for ch := range channels {
			putSample(out, i*channels+ch, s)
		}
	}
	return out
}

// Resample converts mono PCM from srcRate to dstRate using linear
// interpolation. Non-positive or equal rates return pcm unchanged.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	return resampleInterleaved(pcm, 1, srcRate, dstRate)
}

func resampleInterleaved(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (channels * BytesPerSample)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*BytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := float64(sample(pcm, idx*channels+ch))
			s1 := float64(sample(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

func sample(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*BytesPerSample:], uint16(v))
}

func clamp(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
