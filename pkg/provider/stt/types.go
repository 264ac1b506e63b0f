package stt

import "time"

// Transcript is a recognition result. Both partial and final transcripts use
// this type.
type Transcript struct {
	// Text is the recognized speech.
	Text string

	// IsFinal indicates whether this is the committed result of an utterance
	// or an interim hypothesis.
	IsFinal bool

	// Score is the recognizer's score for Text. Higher is better; the scale is
	// backend specific and may be negative.
	Score int32

	// Grammar is the grammar that was active when Text was recognized.
	Grammar string

	// Timestamp marks when speech was first heard, relative to the start of
	// the stream.
	Timestamp time.Duration

	// Duration is the length of audio from Timestamp to the end of the
	// utterance.
	Duration time.Duration
}
