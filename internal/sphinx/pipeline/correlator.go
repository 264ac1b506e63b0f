package pipeline

import "github.com/MrWong99/sphinxlink/internal/sphinx/wire"

// Correlator matches incoming responses to the requests that expect them.
//
// The recognizer protocol carries no request ids: responses arrive in the
// order requests were sent, so [FIFO] is the only implementation in use. The
// interface keeps that assumption out of the framing code.
type Correlator interface {
	// Expect records that a response to a request of type t is owed.
	Expect(t wire.RequestType)

	// Match consumes the oldest owed response and returns the type of the
	// request it answers. ok is false if nothing was owed.
	Match() (t wire.RequestType, ok bool)

	// Outstanding returns how many responses are still owed, including one
	// that is partially received.
	Outstanding() int

	// Reset forgets all owed responses.
	Reset()
}

// FIFO is a [Correlator] that pairs responses with requests strictly in send
// order. The zero value is ready to use.
type FIFO struct {
	queue []wire.RequestType
}

// Expect implements [Correlator].
func (f *FIFO) Expect(t wire.RequestType) { f.queue = append(f.queue, t) }

// Match implements [Correlator].
func (f *FIFO) Match() (wire.RequestType, bool) {
	if len(f.queue) == 0 {
		return 0, false
	}
	t := f.queue[0]
	f.queue = f.queue[1:]
	if len(f.queue) == 0 {
		f.queue = f.queue[:0:0]
	}
	return t, true
}

// Outstanding implements [Correlator].
func (f *FIFO) Outstanding() int { return len(f.queue) }

// Reset implements [Correlator].
func (f *FIFO) Reset() { f.queue = nil }

// Ensure FIFO implements Correlator at compile time.
var _ Correlator = (*FIFO)(nil)
