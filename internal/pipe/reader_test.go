package pipe

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/smazurov/direttanode/internal/audio"
)

func testHeader(rate uint32) []byte {
	h := audio.Header{Version: 1, Channels: 2, BitDepth: 16, Kind: audio.KindPCM, SampleRate: rate}
	buf := h.Encode()
	return buf[:]
}

// chunkedReader delivers its payload in fixed-size pieces so buffer
// boundary handling gets exercised.
type chunkedReader struct {
	data  []byte
	chunk int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.chunk
	if n > len(c.data) || n == 0 {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func TestReadExact(t *testing.T) {
	r := NewReader(&chunkedReader{data: []byte("0123456789"), chunk: 3})

	dst := make([]byte, 10)
	if err := r.ReadExact(dst); err != nil {
		t.Fatal(err)
	}
	if string(dst) != "0123456789" {
		t.Errorf("ReadExact = %q", dst)
	}

	if err := r.ReadExact(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("ReadExact past end = %v, want EOF", err)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("abcdef")))

	peeked, err := r.Peek(4)
	if err != nil || string(peeked) != "abcd" {
		t.Fatalf("Peek = %q, %v", peeked, err)
	}

	dst := make([]byte, 6)
	if err := r.ReadExact(dst); err != nil || string(dst) != "abcdef" {
		t.Errorf("ReadExact after Peek = %q, %v", dst, err)
	}
}

func TestPeekEOF(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("ab")))
	if _, err := r.Peek(4); !errors.Is(err, io.EOF) {
		t.Errorf("Peek beyond stream = %v, want EOF", err)
	}
}

// P6: audio | header | audio — no ReadUpTo crosses the header, and a
// following Peek sees the magic intact.
func TestReadUpToStopsBeforeHeader(t *testing.T) {
	prefix := bytes.Repeat([]byte{0x42}, 1000)
	header := testHeader(48000)
	suffix := bytes.Repeat([]byte{0x17}, 500)

	stream := append(append(append([]byte{}, prefix...), header...), suffix...)
	r := NewReader(bytes.NewReader(stream))

	var got []byte
	for len(got) < len(prefix) {
		chunk, err := r.ReadUpTo(300)
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Contains(chunk, audio.Magic[:]) {
			t.Fatal("header leaked into audio chunk")
		}
		got = append(got, chunk...)
	}

	if !bytes.Equal(got, prefix) {
		t.Fatalf("audio before header corrupted: %d bytes", len(got))
	}

	peeked, err := r.Peek(4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(peeked, audio.Magic[:]) {
		t.Errorf("Peek after audio = % 02x, want SQFH", peeked)
	}

	// The header parses cleanly from the stream.
	hdr := make([]byte, audio.HeaderSize)
	if err := r.ReadExact(hdr); err != nil {
		t.Fatal(err)
	}
	parsed, err := audio.ParseHeader(hdr)
	if err != nil || parsed.SampleRate != 48000 {
		t.Errorf("ParseHeader = %+v, %v", parsed, err)
	}
}

// A header split across source reads must still be kept whole.
func TestReadUpToHeaderStraddlesReads(t *testing.T) {
	prefix := bytes.Repeat([]byte{0x01}, 10)
	stream := append(append([]byte{}, prefix...), testHeader(44100)...)
	stream = append(stream, bytes.Repeat([]byte{0x02}, 100)...)

	// Source delivers 1 byte at a time: the magic always straddles.
	r := NewReader(&chunkedReader{data: stream, chunk: 1})

	var got []byte
	for len(got) < len(prefix) {
		chunk, err := r.ReadUpTo(64)
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Contains(chunk, audio.Magic[:]) {
			t.Fatal("header consumed as audio")
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, prefix) {
		t.Fatalf("prefix = % 02x", got)
	}

	peeked, err := r.Peek(4)
	if err != nil || !bytes.Equal(peeked, audio.Magic[:]) {
		t.Fatalf("Peek = % 02x, %v", peeked, err)
	}
}

// A stray magic prefix at end of stream is eventually delivered as
// audio rather than held forever.
func TestReadUpToTrailingPartialMagic(t *testing.T) {
	stream := append(bytes.Repeat([]byte{0x55}, 8), 'S', 'Q')
	r := NewReader(bytes.NewReader(stream))

	var got []byte
	for {
		chunk, err := r.ReadUpTo(64)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, stream) {
		t.Errorf("got % 02x, want % 02x", got, stream)
	}
}

// Audio containing 'S' bytes that never form the magic flows through
// untouched.
func TestReadUpToFalsePrefixes(t *testing.T) {
	stream := []byte("SSSQSQFXSQFSQQFH and more audio SQF")
	r := NewReader(bytes.NewReader(stream))

	var got []byte
	for {
		chunk, err := r.ReadUpTo(7)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, stream) {
		t.Errorf("got %q, want %q", got, stream)
	}
}

func TestMagicPrefixLen(t *testing.T) {
	tests := []struct {
		data string
		want int
	}{
		{"audioS", 1},
		{"audioSQ", 2},
		{"audioSQF", 3},
		{"audioSQFH", 0}, // full magic is found by the scan, not held
		{"audio", 0},
		{"SQF", 3},
		{"Q", 0},
	}
	for _, tt := range tests {
		if got := magicPrefixLen([]byte(tt.data)); got != tt.want {
			t.Errorf("magicPrefixLen(%q) = %d, want %d", tt.data, got, tt.want)
		}
	}
}
