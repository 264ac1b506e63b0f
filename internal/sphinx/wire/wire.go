// Package wire encodes and decodes the length-framed recognizer protocol.
//
// A request is an int32 payload length, an int32 request type and the payload.
// A response is an int32 payload length followed by the payload, whose first
// four bytes are an int32 score and whose remainder is the recognised text.
// Responses carry neither a type nor a correlation id; they arrive in the
// order the requests that expect them were sent.
//
// Integers are written in the byte order held by [Codec]. The zero Codec uses
// the host's native order, which only interoperates with a server running on
// the same architecture.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Frame sizes in bytes.
const (
	// RequestHeaderSize is the length plus type prefix of a request.
	RequestHeaderSize = 8

	// ResponseHeaderSize is the length prefix of a response.
	ResponseHeaderSize = 4

	// ScoreSize is the score prefix of a response payload.
	ScoreSize = 4
)

var (
	// ErrIncomplete is returned when a frame is not fully present yet.
	ErrIncomplete = errors.New("wire: incomplete frame")

	// ErrNegativeLength is returned when a length prefix is negative.
	ErrNegativeLength = errors.New("wire: negative payload length")

	// ErrUnknownType is returned when a request type tag is not recognised.
	ErrUnknownType = errors.New("wire: unknown request type")
)

// RequestType is the tag sent after the payload length of a request.
type RequestType int32

const (
	// Grammar selects a server-side grammar. The payload is the grammar name
	// terminated by a NUL byte.
	Grammar RequestType = iota

	// Start begins an utterance. It has no payload.
	Start

	// Data carries 16-bit PCM audio. An empty Data request ends the utterance.
	Data

	// Finish forces the end of the session. It has no payload.
	Finish
)

// String returns the lower-case name of t.
func (t RequestType) String() string {
	switch t {
	case Grammar:
		return "grammar"
	case Start:
		return "start"
	case Data:
		return "data"
	case Finish:
		return "finish"
	default:
		return fmt.Sprintf("RequestType(%d)", int32(t))
	}
}

// Valid reports whether t is one of the defined request types.
func (t RequestType) Valid() bool { return t >= Grammar && t <= Finish }

// Request is one client to server message.
type Request struct {
	Type    RequestType
	Payload []byte
}

// GrammarRequest returns the request that activates the named grammar.
func GrammarRequest(name string) Request {
	p := make([]byte, 0, len(name)+1)
	p = append(p, name...)
	p = append(p, 0)
	return Request{Type: Grammar, Payload: p}
}

// DataRequest returns a Data request carrying pcm. An empty pcm is the
// end-of-utterance signal.
func DataRequest(pcm []byte) Request { return Request{Type: Data, Payload: pcm} }

// IsEndOfUtterance reports whether sending r ends the exchange: an empty Data
// request or a Finish request.
func (r Request) IsEndOfUtterance() bool {
	return r.Type == Finish || (r.Type == Data && len(r.Payload) == 0)
}

// Suppressed reports whether r must not be written because the exchange has
// already ended. Once the session is final, a Finish or an empty Data request
// would desynchronise the server, so it becomes a no-op.
func Suppressed(r Request, final bool) bool {
	return final && r.IsEndOfUtterance()
}

// Result is a decoded response payload.
type Result struct {
	Score int32
	Text  string
}

// Codec encodes and decodes frames with a fixed byte order. The zero value
// uses [binary.NativeEndian].
type Codec struct {
	Order binary.ByteOrder
}

func (c Codec) order() binary.ByteOrder {
	if c.Order == nil {
		return binary.NativeEndian
	}
	return c.Order
}

// EncodedLen returns the number of bytes AppendRequest writes for r.
func EncodedLen(r Request) int { return RequestHeaderSize + len(r.Payload) }

// AppendRequest appends the wire form of r to dst.
func (c Codec) AppendRequest(dst []byte, r Request) []byte {
	var hdr [RequestHeaderSize]byte
	o := c.order()
	o.PutUint32(hdr[0:4], uint32(int32(len(r.Payload))))
	o.PutUint32(hdr[4:8], uint32(r.Type))
	dst = append(dst, hdr[:]...)
	return append(dst, r.Payload...)
}

// DecodeRequest decodes one request from the front of b and returns it with
// the number of bytes it occupied. It returns ErrIncomplete when b holds only
// part of a frame. The payload aliases b.
func (c Codec) DecodeRequest(b []byte) (Request, int, error) {
	if len(b) < RequestHeaderSize {
		return Request{}, 0, ErrIncomplete
	}
	o := c.order()
	n := int32(o.Uint32(b[0:4]))
	t := RequestType(int32(o.Uint32(b[4:8])))
	if n < 0 {
		return Request{}, 0, fmt.Errorf("%w: %d", ErrNegativeLength, n)
	}
	if !t.Valid() {
		return Request{}, 0, fmt.Errorf("%w: %d", ErrUnknownType, int32(t))
	}
	end := RequestHeaderSize + int(n)
	if len(b) < end {
		return Request{}, 0, ErrIncomplete
	}
	return Request{Type: t, Payload: b[RequestHeaderSize:end]}, end, nil
}

// DecodeResponseHeader returns the payload length announced by a response
// header. b must hold at least ResponseHeaderSize bytes.
func (c Codec) DecodeResponseHeader(b []byte) (int, error) {
	if len(b) < ResponseHeaderSize {
		return 0, ErrIncomplete
	}
	n := int32(c.order().Uint32(b[:ResponseHeaderSize]))
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeLength, n)
	}
	return int(n), nil
}

// AppendResponse appends a response frame carrying payload to dst.
func (c Codec) AppendResponse(dst, payload []byte) []byte {
	var hdr [ResponseHeaderSize]byte
	c.order().PutUint32(hdr[:], uint32(int32(len(payload))))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// AppendResult appends the payload form of r (score, text, NUL) to dst.
func (c Codec) AppendResult(dst []byte, r Result) []byte {
	var score [ScoreSize]byte
	c.order().PutUint32(score[:], uint32(r.Score))
	dst = append(dst, score[:]...)
	dst = append(dst, r.Text...)
	return append(dst, 0)
}

// DecodeResult interprets a response payload. Payloads shorter than ScoreSize
// carry no result and report false. Text ends at the first NUL byte.
func (c Codec) DecodeResult(payload []byte) (Result, bool) {
	if len(payload) < ScoreSize {
		return Result{}, false
	}
	text := payload[ScoreSize:]
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	return Result{
		Score: int32(c.order().Uint32(payload[:ScoreSize])),
		Text:  string(text),
	}, true
}

// ParseByteOrder maps a configuration value to a byte order. Accepted values
// are "native" (or empty), "little" and "big".
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "native":
		return binary.NativeEndian, nil
	case "little", "little-endian", "le":
		return binary.LittleEndian, nil
	case "big", "big-endian", "be":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("wire: unknown byte order %q", s)
	}
}
