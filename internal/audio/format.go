// Package audio defines the track format model shared by the pipe
// reader, the bridge and the Diretta transport.
package audio

import "fmt"

// DSDLayout is the bit order of incoming DSD bytes. DSF files store
// the temporally first bit in the LSB, DFF files in the MSB. The
// squeezelite pipe always carries MSB-first bytes.
type DSDLayout int

// DSD source bit orders.
const (
	LSBFirst DSDLayout = iota
	MSBFirst
)

// DSD64Rate is the base 1-bit DSD rate (44100 * 64).
const DSD64Rate = 2822400

// Format describes one track's stream format.
type Format struct {
	// SampleRate in Hz. For DSD this is the 1-bit rate, e.g. 2822400
	// for DSD64.
	SampleRate uint32
	// BitDepth is 16, 24 or 32 for PCM and 1 for DSD.
	BitDepth int
	Channels int
	IsDSD    bool
	// IsCompressed hints that the source codec needs decode headroom;
	// it only influences the prefill target.
	IsCompressed bool
	// DSDLayout is meaningful only when IsDSD.
	DSDLayout DSDLayout
}

// Equal reports whether two formats require the same transport
// configuration. IsCompressed is a buffering hint, not format identity.
func (f Format) Equal(o Format) bool {
	return f.SampleRate == o.SampleRate &&
		f.BitDepth == o.BitDepth &&
		f.Channels == o.Channels &&
		f.IsDSD == o.IsDSD
}

// DSDMultiplier returns the rate relative to DSD64, at least 1.
func (f Format) DSDMultiplier() int {
	m := int(f.SampleRate / DSD64Rate)
	if m < 1 {
		m = 1
	}
	return m
}

func (f Format) String() string {
	if f.IsDSD {
		return fmt.Sprintf("DSD%d %dHz/%dch", 64*f.DSDMultiplier(), f.SampleRate, f.Channels)
	}
	return fmt.Sprintf("PCM %dHz/%dbit/%dch", f.SampleRate, f.BitDepth, f.Channels)
}
