// Package pipe reads the squeezelite stdout stream: raw audio bytes
// interleaved with 16-byte SQFH format headers. The reader guarantees
// that an embedded header is never handed out as audio.
package pipe

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/smazurov/direttanode/internal/audio"
)

// bufferSize is the internal read buffer. 64 KiB keeps syscalls rare
// at DSD512 rates while staying cache-friendly.
const bufferSize = 64 * 1024

// Reader is a byte-oriented reader with header-aware chunking.
// Not safe for concurrent use; the bridge owns it.
type Reader struct {
	src io.Reader
	buf []byte
	r   int // read offset into buf
	w   int // write offset into buf
	eof bool
}

// NewReader wraps the child's stdout pipe.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src: src,
		buf: make([]byte, bufferSize),
	}
}

// buffered returns the unconsumed bytes.
func (p *Reader) buffered() []byte {
	return p.buf[p.r:p.w]
}

// fill reads more data from the source into the buffer, compacting
// first when needed. Returns io.EOF only when no byte was added and
// the source is exhausted.
func (p *Reader) fill() error {
	if p.r > 0 {
		n := copy(p.buf, p.buf[p.r:p.w])
		p.r = 0
		p.w = n
	}
	if p.w == len(p.buf) {
		return nil
	}
	if p.eof {
		return io.EOF
	}

	n, err := p.src.Read(p.buf[p.w:])
	p.w += n
	if err != nil {
		if errors.Is(err, io.EOF) {
			p.eof = true
			if n == 0 {
				return io.EOF
			}
			return nil
		}
		return err
	}
	return nil
}

// ReadExact fills dst completely or reports EOF/underlying error.
func (p *Reader) ReadExact(dst []byte) error {
	need := len(dst)
	got := 0
	for got < need {
		if p.r == p.w {
			if err := p.fill(); err != nil {
				return err
			}
		}
		n := copy(dst[got:], p.buffered())
		p.r += n
		got += n
	}
	return nil
}

// Peek makes the next n bytes readable without consuming them. If the
// stream ends before n bytes are available it returns io.EOF.
func (p *Reader) Peek(n int) ([]byte, error) {
	if n > len(p.buf) {
		return nil, errors.New("peek exceeds buffer size")
	}
	for p.w-p.r < n {
		prev := p.w - p.r
		if err := p.fill(); err != nil {
			return nil, err
		}
		if p.w-p.r == prev && p.eof {
			return nil, io.EOF
		}
	}
	return p.buf[p.r : p.r+n], nil
}

// ReadUpTo returns at most n buffered bytes as audio. The buffered
// region is scanned (from offset 1 — a header at offset 0 is the
// caller's to Peek) for the SQFH magic; when one starts inside the
// chunk it is truncated there so a header is never consumed as audio.
// A magic prefix that might continue past the buffered data is held
// back until more bytes arrive. The returned slice aliases the
// internal buffer and is valid until the next call.
func (p *Reader) ReadUpTo(n int) ([]byte, error) {
	for {
		if p.r == p.w {
			if err := p.fill(); err != nil {
				return nil, err
			}
			if p.r == p.w {
				return nil, io.EOF
			}
		}

		avail := p.buffered()
		chunk := avail
		if n < len(chunk) {
			chunk = chunk[:n]
		}

		// A magic starting anywhere before the chunk boundary ends the
		// audio chunk there, even when the header's tail is beyond it.
		if k := findMagic(avail); k > 0 && k < len(chunk) {
			p.r += k
			return avail[:k], nil
		}

		// A magic prefix at the very end of the buffered data may be a
		// header continuing in the next read: hold it back.
		if len(chunk) == len(avail) && !p.eof {
			hold := magicPrefixLen(chunk)
			if hold == len(chunk) {
				// The whole chunk could be a header prefix; need more
				// bytes to decide.
				if err := p.fill(); err != nil {
					if errors.Is(err, io.EOF) {
						p.r += len(chunk)
						return chunk, nil
					}
					return nil, err
				}
				continue
			}
			if hold > 0 {
				chunk = chunk[:len(chunk)-hold]
			}
		}

		p.r += len(chunk)
		return chunk, nil
	}
}

// armDeadline bounds the next source reads when the source supports
// read deadlines (os pipes do). The returned restore func clears the
// deadline. Sources without deadline support block as usual.
func (p *Reader) armDeadline(timeout time.Duration) func() {
	type deadliner interface {
		SetReadDeadline(t time.Time) error
	}
	if d, ok := p.src.(deadliner); ok && timeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(timeout)); err == nil {
			return func() { _ = d.SetReadDeadline(time.Time{}) }
		}
	}
	return func() {}
}

// ReadUpToFor is ReadUpTo with a bounded wait: an empty buffer blocks
// at most timeout, and the deadline error surfaces so the caller can
// inject silence instead of stalling.
func (p *Reader) ReadUpToFor(n int, timeout time.Duration) ([]byte, error) {
	restore := p.armDeadline(timeout)
	defer restore()
	return p.ReadUpTo(n)
}

// PeekFor is Peek with a bounded wait, see ReadUpToFor.
func (p *Reader) PeekFor(n int, timeout time.Duration) ([]byte, error) {
	restore := p.armDeadline(timeout)
	defer restore()
	return p.Peek(n)
}

// findMagic returns the offset of the first SQFH magic after byte 0,
// or 0 when none is present.
func findMagic(data []byte) int {
	if len(data) < 2 {
		return 0
	}
	k := bytes.Index(data[1:], audio.Magic[:])
	if k < 0 {
		return 0
	}
	return k + 1
}

// magicPrefixLen returns the length of the longest proper prefix of
// the magic that ends data (0 when none).
func magicPrefixLen(data []byte) int {
	maxLen := len(audio.Magic) - 1
	if len(data) < maxLen {
		maxLen = len(data)
	}
	for l := maxLen; l > 0; l-- {
		if bytes.Equal(data[len(data)-l:], audio.Magic[:l]) {
			return l
		}
	}
	return 0
}
