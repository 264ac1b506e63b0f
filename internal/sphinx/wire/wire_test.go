package wire_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/sphinxlink/internal/sphinx/wire"
)

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()

	orders := map[string]binary.ByteOrder{
		"native": nil,
		"little": binary.LittleEndian,
		"big":    binary.BigEndian,
	}
	reqs := []wire.Request{
		wire.GrammarRequest("digits"),
		{Type: wire.Start},
		wire.DataRequest([]byte{0x01, 0x02, 0x03, 0x04}),
		wire.DataRequest(nil),
		{Type: wire.Finish},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c := wire.Codec{Order: order}
			for _, want := range reqs {
				enc := c.AppendRequest(nil, want)
				if len(enc) != wire.EncodedLen(want) {
					t.Fatalf("%v: encoded %d bytes, want %d", want.Type, len(enc), wire.EncodedLen(want))
				}
				got, n, err := c.DecodeRequest(enc)
				if err != nil {
					t.Fatalf("%v: DecodeRequest: %v", want.Type, err)
				}
				if n != len(enc) {
					t.Errorf("%v: consumed %d bytes, want %d", want.Type, n, len(enc))
				}
				if got.Type != want.Type {
					t.Errorf("type = %v, want %v", got.Type, want.Type)
				}
				if !bytes.Equal(got.Payload, want.Payload) {
					t.Errorf("%v: payload = %v, want %v", want.Type, got.Payload, want.Payload)
				}
			}
		})
	}
}

func TestAppendRequest_Layout(t *testing.T) {
	t.Parallel()

	c := wire.Codec{Order: binary.LittleEndian}
	got := c.AppendRequest(nil, wire.Request{Type: wire.Data, Payload: []byte{0xaa, 0xbb}})
	want := []byte{
		0x02, 0x00, 0x00, 0x00, // length
		0x02, 0x00, 0x00, 0x00, // type
		0xaa, 0xbb,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("AppendRequest = % x, want % x", got, want)
	}

	c = wire.Codec{Order: binary.BigEndian}
	got = c.AppendRequest(nil, wire.GrammarRequest("ab"))
	want = []byte{0, 0, 0, 3, 0, 0, 0, 0, 'a', 'b', 0}
	if !bytes.Equal(got, want) {
		t.Errorf("AppendRequest(grammar) = % x, want % x", got, want)
	}
}

func TestDecodeRequest_Errors(t *testing.T) {
	t.Parallel()

	c := wire.Codec{Order: binary.LittleEndian}
	full := c.AppendRequest(nil, wire.DataRequest([]byte{1, 2, 3}))

	tests := []struct {
		name    string
		in      []byte
		wantErr error
	}{
		{"short header", full[:5], wire.ErrIncomplete},
		{"short payload", full[:len(full)-1], wire.ErrIncomplete},
		{"negative length", []byte{0xff, 0xff, 0xff, 0xff, 2, 0, 0, 0}, wire.ErrNegativeLength},
		{"unknown type", []byte{0, 0, 0, 0, 9, 0, 0, 0}, wire.ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := c.DecodeRequest(tt.in); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	t.Parallel()

	c := wire.Codec{Order: binary.BigEndian}
	payload := c.AppendResult(nil, wire.Result{Score: -42, Text: "hello world"})
	frame := c.AppendResponse(nil, payload)

	n, err := c.DecodeResponseHeader(frame)
	if err != nil {
		t.Fatalf("DecodeResponseHeader: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("length = %d, want %d", n, len(payload))
	}
	res, ok := c.DecodeResult(frame[wire.ResponseHeaderSize:])
	if !ok {
		t.Fatal("DecodeResult reported no result")
	}
	if res.Score != -42 || res.Text != "hello world" {
		t.Errorf("result = %+v, want {-42 hello world}", res)
	}
}

func TestDecodeResult(t *testing.T) {
	t.Parallel()

	c := wire.Codec{Order: binary.LittleEndian}
	tests := []struct {
		name    string
		payload []byte
		want    wire.Result
		wantOK  bool
	}{
		{"empty", nil, wire.Result{}, false},
		{"short", []byte{1, 2}, wire.Result{}, false},
		{"score only", []byte{7, 0, 0, 0}, wire.Result{Score: 7}, true},
		{"text without nul", []byte{1, 0, 0, 0, 'h', 'i'}, wire.Result{Score: 1, Text: "hi"}, true},
		{"cut at first nul", []byte{1, 0, 0, 0, 'h', 'i', 0, 'x'}, wire.Result{Score: 1, Text: "hi"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := c.DecodeResult(tt.payload)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("DecodeResult = %+v, %v; want %+v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDecodeResponseHeader_Negative(t *testing.T) {
	t.Parallel()

	c := wire.Codec{Order: binary.LittleEndian}
	if _, err := c.DecodeResponseHeader([]byte{0xfe, 0xff, 0xff, 0xff}); !errors.Is(err, wire.ErrNegativeLength) {
		t.Errorf("err = %v, want ErrNegativeLength", err)
	}
	if _, err := c.DecodeResponseHeader([]byte{1, 0}); !errors.Is(err, wire.ErrIncomplete) {
		t.Errorf("err = %v, want ErrIncomplete", err)
	}
}

func TestSuppressed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		req   wire.Request
		final bool
		want  bool
	}{
		{"empty data when final", wire.DataRequest(nil), true, true},
		{"finish when final", wire.Request{Type: wire.Finish}, true, true},
		{"audio when final", wire.DataRequest([]byte{1, 2}), true, false},
		{"grammar when final", wire.GrammarRequest("g"), true, false},
		{"empty data before final", wire.DataRequest(nil), false, false},
		{"finish before final", wire.Request{Type: wire.Finish}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := wire.Suppressed(tt.req, tt.final); got != tt.want {
				t.Errorf("Suppressed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseByteOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    binary.ByteOrder
		wantErr bool
	}{
		{"", binary.NativeEndian, false},
		{"native", binary.NativeEndian, false},
		{"Little", binary.LittleEndian, false},
		{"big", binary.BigEndian, false},
		{"middle", nil, true},
	}
	for _, tt := range tests {
		got, err := wire.ParseByteOrder(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseByteOrder(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseByteOrder(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRequestType_String(t *testing.T) {
	t.Parallel()

	if got := wire.Data.String(); got != "data" {
		t.Errorf("Data.String() = %q", got)
	}
	if got := wire.RequestType(7).String(); got != "RequestType(7)" {
		t.Errorf("RequestType(7).String() = %q", got)
	}
}
