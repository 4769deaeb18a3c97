package ring

import (
	"bytes"
	"testing"
)

func TestBitReverseLUT(t *testing.T) {
	tests := []struct{ in, want byte }{
		{0x00, 0x00},
		{0xFF, 0xFF},
		{0x80, 0x01},
		{0x01, 0x80},
		{0xA5, 0xA5},
		{0x0F, 0xF0},
		{0xC3, 0xC3},
		{0x12, 0x48},
	}
	for _, tt := range tests {
		if got := bitReverseLUT[tt.in]; got != tt.want {
			t.Errorf("bitReverseLUT[%#02x] = %#02x, want %#02x", tt.in, got, tt.want)
		}
	}
	// Involution: reversing twice restores every byte.
	for i := 0; i < 256; i++ {
		if bitReverseLUT[bitReverseLUT[i]] != byte(i) {
			t.Fatalf("LUT not an involution at %#02x", i)
		}
	}
}

// P4: exhaustive 16->32 widening over all 65536 sample values.
func TestWiden16To32Exhaustive(t *testing.T) {
	src := make([]byte, 65536*2)
	for s := 0; s < 65536; s++ {
		src[s*2] = byte(s)        // low
		src[s*2+1] = byte(s >> 8) // high
	}

	dst := make([]byte, 65536*4)
	n := widen16To32(dst, src, 65536)
	if n != 65536*4 {
		t.Fatalf("output bytes = %d", n)
	}

	for s := 0; s < 65536; s++ {
		lo, hi := byte(s), byte(s>>8)
		got := dst[s*4 : s*4+4]
		if got[0] != 0 || got[1] != 0 || got[2] != lo || got[3] != hi {
			t.Fatalf("sample %#04x widened to % 02x, want [0 0 %02x %02x]", s, got, lo, hi)
		}
	}
}

func TestWiden16To24(t *testing.T) {
	src := []byte{0x34, 0x12, 0xCD, 0xAB}
	dst := make([]byte, 6)
	if n := widen16To24(dst, src, 2); n != 6 {
		t.Fatalf("output bytes = %d", n)
	}
	want := []byte{0x00, 0x34, 0x12, 0x00, 0xCD, 0xAB}
	if !bytes.Equal(dst, want) {
		t.Errorf("widen16To24 = % 02x, want % 02x", dst, want)
	}
}

func TestPack24(t *testing.T) {
	// LSB-aligned: [b0 b1 b2 pad] keeps bytes 0..2.
	src := []byte{0x11, 0x22, 0x33, 0x00, 0x44, 0x55, 0x66, 0x00}
	dst := make([]byte, 6)
	pack24LSB(dst, src, 2)
	if !bytes.Equal(dst, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}) {
		t.Errorf("pack24LSB = % 02x", dst)
	}

	// MSB-aligned: [pad b1 b2 b3] keeps bytes 1..3.
	src = []byte{0x00, 0x11, 0x22, 0x33, 0x00, 0x44, 0x55, 0x66}
	pack24MSB(dst, src, 2)
	if !bytes.Equal(dst, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}) {
		t.Errorf("pack24MSB = % 02x", dst)
	}
}

// P5: DSD interleave vectors for every conversion mode.
func TestInterleaveDSDModes(t *testing.T) {
	// Planar input: L block then R block.
	src := []byte{0x80, 0x40, 0x20, 0x10, 0x01, 0x02, 0x04, 0x08}

	tests := []struct {
		mode DSDConversionMode
		want []byte
	}{
		{DSDPassthrough, []byte{0x80, 0x40, 0x20, 0x10, 0x01, 0x02, 0x04, 0x08}},
		{DSDBitReverse, []byte{0x01, 0x02, 0x04, 0x08, 0x80, 0x40, 0x20, 0x10}},
		{DSDByteSwap, []byte{0x10, 0x20, 0x40, 0x80, 0x08, 0x04, 0x02, 0x01}},
		{DSDBitReverseAndSwap, []byte{0x08, 0x04, 0x02, 0x01, 0x10, 0x20, 0x40, 0x80}},
	}

	for _, tt := range tests {
		dst := make([]byte, 8)
		n := interleaveDSD(dst, src, 8, 2, tt.mode)
		if n != 8 {
			t.Fatalf("%v: output bytes = %d", tt.mode, n)
		}
		if !bytes.Equal(dst, tt.want) {
			t.Errorf("%v: got % 02x, want % 02x", tt.mode, dst, tt.want)
		}
	}
}

func TestInterleaveDSDMultipleGroups(t *testing.T) {
	// Two 4-byte groups per channel: output alternates L-group, R-group.
	src := []byte{
		1, 2, 3, 4, 5, 6, 7, 8, // L
		11, 12, 13, 14, 15, 16, 17, 18, // R
	}
	dst := make([]byte, 16)
	interleaveDSD(dst, src, 16, 2, DSDPassthrough)
	want := []byte{1, 2, 3, 4, 11, 12, 13, 14, 5, 6, 7, 8, 15, 16, 17, 18}
	if !bytes.Equal(dst, want) {
		t.Errorf("got % 02x, want % 02x", dst, want)
	}
}

func TestPushConversionsThroughRing(t *testing.T) {
	r := New(1024, 0x00)

	// 16->32 through the ring.
	consumed := r.Push16To32([]byte{0x34, 0x12})
	if consumed != 2 {
		t.Fatalf("Push16To32 consumed %d", consumed)
	}
	out := make([]byte, 4)
	r.Pop(out)
	if !bytes.Equal(out, []byte{0x00, 0x00, 0x34, 0x12}) {
		t.Errorf("ring output = % 02x", out)
	}

	// DSD planar through the ring, with bit reversal.
	r.Clear()
	consumed = r.PushDSDPlanar([]byte{0x80, 0x40, 0x20, 0x10, 0x01, 0x02, 0x04, 0x08}, 2, DSDBitReverse)
	if consumed != 8 {
		t.Fatalf("PushDSDPlanar consumed %d", consumed)
	}
	out = make([]byte, 8)
	r.Pop(out)
	if !bytes.Equal(out, []byte{0x01, 0x02, 0x04, 0x08, 0x80, 0x40, 0x20, 0x10}) {
		t.Errorf("ring DSD output = % 02x", out)
	}
}

func TestPushDSDPlanarPartialGroups(t *testing.T) {
	r := New(1024, 0x69)

	// 10 bytes for 2 channels is one complete 4-byte group per channel
	// (8 bytes); the trailing partial group must not be consumed.
	src := make([]byte, 10)
	if consumed := r.PushDSDPlanar(src, 2, DSDPassthrough); consumed != 8 {
		t.Errorf("consumed %d, want 8 (whole groups only)", consumed)
	}
}

func TestPush16To32BackpressureUnits(t *testing.T) {
	// Ring with room for 7 output samples (size 32 keeps 31 free);
	// input consumption must be reported in input bytes.
	r := New(32, 0x00)
	src := make([]byte, 64) // 32 input samples
	consumed := r.Push16To32(src)
	// 31 free bytes / 4 = 7 samples = 14 input bytes.
	if consumed != 14 {
		t.Errorf("consumed %d input bytes, want 14", consumed)
	}
}
