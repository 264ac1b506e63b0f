package vad

import "time"

// VADEvent is the classification of a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Level is the measured frame level in the engine's native scale (mean
	// absolute amplitude for the energy engine).
	Level float64

	// Silence is the total duration of consecutive silent frames up to and
	// including this one. It is zero for non-silent frames.
	Silence time.Duration
}

// IsSilence reports whether the frame was classified as silent.
func (e VADEvent) IsSilence() bool {
	return e.Type == VADSilence || e.Type == VADSpeechEnd
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates the first silent frame after speech.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

// String returns the name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}
