package bridge

import (
	"bytes"
	"testing"
)

// Native DSD: wire [L3 L2 L1 L0 R3 R2 R1 R0] becomes planar
// L0 L1 L2 L3 | R0 R1 R2 R3.
func TestDeinterleaveDSDU32(t *testing.T) {
	src := []byte{
		0x13, 0x12, 0x11, 0x10, // left word, L0=0x10 temporally first
		0x23, 0x22, 0x21, 0x20, // right word
		0x17, 0x16, 0x15, 0x14,
		0x27, 0x26, 0x25, 0x24,
	}
	dst := make([]byte, len(src))
	n := deinterleaveDSDU32(dst, src, 2)
	if n != len(src) {
		t.Fatalf("output = %d bytes", n)
	}
	want := []byte{
		0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, // left plane
		0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27, // right plane
	}
	if !bytes.Equal(dst, want) {
		t.Errorf("got % 02x\nwant % 02x", dst, want)
	}
}

// E4: a DoP frame [00 AA BB 05 | 00 CC DD FA] yields planar [BB AA]
// and [DD CC]; the marker byte is discarded.
func TestExtractDoP(t *testing.T) {
	src := []byte{0x00, 0xAA, 0xBB, 0x05, 0x00, 0xCC, 0xDD, 0xFA}
	dst := make([]byte, 4)
	n := extractDoP(dst, src, 2)
	if n != 4 {
		t.Fatalf("output = %d bytes", n)
	}
	if !bytes.Equal(dst, []byte{0xBB, 0xAA, 0xDD, 0xCC}) {
		t.Errorf("got % 02x", dst)
	}
}

func TestExtractDoPMultipleFrames(t *testing.T) {
	src := []byte{
		0x00, 0x11, 0x22, 0x05, 0x00, 0x33, 0x44, 0x05,
		0x00, 0x55, 0x66, 0xFA, 0x00, 0x77, 0x88, 0xFA,
	}
	dst := make([]byte, 8)
	extractDoP(dst, src, 2)
	// Left plane: frame 0 then frame 1 (MSB, LSB each); right plane after.
	want := []byte{0x22, 0x11, 0x66, 0x55, 0x44, 0x33, 0x88, 0x77}
	if !bytes.Equal(dst, want) {
		t.Errorf("got % 02x\nwant % 02x", dst, want)
	}
}

func TestCompactPlanar(t *testing.T) {
	// Two channels, 8 bytes per channel; 8 bytes consumed total means
	// 4 from each plane.
	planar := []byte{
		1, 2, 3, 4, 5, 6, 7, 8,
		11, 12, 13, 14, 15, 16, 17, 18,
	}
	scratch := make([]byte, len(planar))
	rest := compactPlanar(planar, 8, 2, scratch)
	want := []byte{5, 6, 7, 8, 15, 16, 17, 18}
	if !bytes.Equal(rest, want) {
		t.Errorf("got % 02x, want % 02x", rest, want)
	}
}
