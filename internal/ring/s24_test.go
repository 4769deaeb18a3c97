package ring

import (
	"bytes"
	"testing"
)

// lsbSamples builds S24-in-S32 LSB-aligned samples with byte 0 cycling
// through 1..n and byte 3 always zero.
func lsbSamples(n int) []byte {
	src := make([]byte, n*4)
	for i := 0; i < n; i++ {
		src[i*4+0] = byte(i + 1)
		src[i*4+1] = 0xAA
		src[i*4+2] = 0xBB
		src[i*4+3] = 0x00
	}
	return src
}

// msbSamples mirrors lsbSamples with byte 3 cycling and byte 0 zero.
func msbSamples(n int) []byte {
	src := make([]byte, n*4)
	for i := 0; i < n; i++ {
		src[i*4+0] = 0x00
		src[i*4+1] = 0xAA
		src[i*4+2] = 0xBB
		src[i*4+3] = byte(i + 1)
	}
	return src
}

// P3: the first push with non-zero LSB data commits LSB alignment and
// packs bytes [b0 b1 b2].
func TestS24DetectsLSBAligned(t *testing.T) {
	r := New(1<<16, 0x00)

	src := lsbSamples(256)
	consumed := r.Push24Packed(src)
	if consumed != 256*4 {
		t.Fatalf("consumed %d, want %d", consumed, 256*4)
	}
	if r.S24Mode() != S24LSBAligned {
		t.Fatalf("mode = %v, want lsb", r.S24Mode())
	}

	out := make([]byte, 256*3)
	r.Pop(out)
	for i := 0; i < 256; i++ {
		want := []byte{byte(i + 1), 0xAA, 0xBB}
		if !bytes.Equal(out[i*3:i*3+3], want) {
			t.Fatalf("sample %d = % 02x, want % 02x", i, out[i*3:i*3+3], want)
		}
	}
}

func TestS24DetectsMSBAligned(t *testing.T) {
	r := New(1<<16, 0x00)

	consumed := r.Push24Packed(msbSamples(256))
	if consumed != 256*4 {
		t.Fatalf("consumed %d", consumed)
	}
	if r.S24Mode() != S24MSBAligned {
		t.Fatalf("mode = %v, want msb", r.S24Mode())
	}

	out := make([]byte, 256*3)
	r.Pop(out)
	for i := 0; i < 256; i++ {
		want := []byte{0xAA, 0xBB, byte(i + 1)}
		if !bytes.Equal(out[i*3:i*3+3], want) {
			t.Fatalf("sample %d = % 02x, want % 02x", i, out[i*3:i*3+3], want)
		}
	}
}

// P3: sustained silence defers, then commits the hint (or LSB without
// one) after the timeout.
func TestS24SilenceTimeoutCommitsHint(t *testing.T) {
	r := New(1<<20, 0x00)
	r.SetS24Hint(S24MSBAligned)

	silence := make([]byte, 4096*4)
	pushed := 0
	for pushed <= deferredTimeoutSamples {
		n := r.Push24Packed(silence)
		if n == 0 {
			r.Pop(make([]byte, r.Available()))
			continue
		}
		pushed += n / 4
	}

	if r.S24Mode() != S24MSBAligned {
		t.Errorf("mode after silence timeout = %v, want hinted msb", r.S24Mode())
	}
}

func TestS24SilenceTimeoutDefaultsToLSB(t *testing.T) {
	r := New(1<<20, 0x00)

	silence := make([]byte, 4096*4)
	pushed := 0
	for pushed <= deferredTimeoutSamples {
		n := r.Push24Packed(silence)
		if n == 0 {
			r.Pop(make([]byte, r.Available()))
			continue
		}
		pushed += n / 4
	}

	if r.S24Mode() != S24LSBAligned {
		t.Errorf("mode = %v, want default lsb", r.S24Mode())
	}
}

// Sample detection overrides a wrong hint once real audio arrives.
func TestS24SampleDetectionOverridesHint(t *testing.T) {
	r := New(1<<16, 0x00)
	r.SetS24Hint(S24LSBAligned)

	r.Push24Packed(msbSamples(64))
	if r.S24Mode() != S24MSBAligned {
		t.Errorf("mode = %v, want msb (samples beat hint)", r.S24Mode())
	}
}

// Once confirmed the decision is sticky until Clear.
func TestS24DecisionStickyUntilClear(t *testing.T) {
	r := New(1<<16, 0x00)

	r.Push24Packed(msbSamples(64))
	r.Pop(make([]byte, r.Available()))

	// LSB-looking data afterwards must not flip the committed mode.
	r.Push24Packed(lsbSamples(64))
	if r.S24Mode() != S24MSBAligned {
		t.Errorf("mode flipped to %v after commit", r.S24Mode())
	}

	r.Clear()
	if r.S24Mode() != S24Unknown {
		t.Errorf("mode after Clear = %v, want unknown", r.S24Mode())
	}
}

// Ambiguous data (both padding positions carry bits) defaults to LSB.
func TestS24AmbiguousDefaultsToLSB(t *testing.T) {
	r := New(1<<16, 0x00)

	src := make([]byte, 64*4)
	for i := range src {
		src[i] = 0xFF
	}
	r.Push24Packed(src)
	if r.S24Mode() != S24LSBAligned {
		t.Errorf("ambiguous mode = %v, want lsb", r.S24Mode())
	}
}
