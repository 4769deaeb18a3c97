package ring

// Scalar conversion kernels. Each writes packed output to dst and
// returns the number of output bytes. They are free functions so an
// architecture-specific build can swap in vectorized variants without
// touching the ring logic.

// bitReverseLUT maps every byte to its bit-reversed value, used when
// the DSD source bit order does not match the target's.
var bitReverseLUT = func() (lut [256]byte) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		b = b>>4 | b<<4
		b = b&0xCC>>2 | b&0x33<<2
		b = b&0xAA>>1 | b&0x55<<1
		lut[i] = b
	}
	return lut
}()

// pack24LSB packs LSB-aligned S24-in-S32 samples ([b0 b1 b2 pad]) to
// 3-byte samples, dropping the padding byte 3.
func pack24LSB(dst, src []byte, numSamples int) int {
	out := 0
	for i := 0; i < numSamples; i++ {
		dst[out+0] = src[i*4+0]
		dst[out+1] = src[i*4+1]
		dst[out+2] = src[i*4+2]
		out += 3
	}
	return out
}

// pack24MSB packs MSB-aligned S24-in-S32 samples ([pad b1 b2 b3]) to
// 3-byte samples, dropping the padding byte 0.
func pack24MSB(dst, src []byte, numSamples int) int {
	out := 0
	for i := 0; i < numSamples; i++ {
		dst[out+0] = src[i*4+1]
		dst[out+1] = src[i*4+2]
		dst[out+2] = src[i*4+3]
		out += 3
	}
	return out
}

// widen16To32 widens S16LE samples to MSB-aligned S32 ([0 0 b0 b1]),
// the alignment the Diretta target expects.
func widen16To32(dst, src []byte, numSamples int) int {
	out := 0
	for i := 0; i < numSamples; i++ {
		dst[out+0] = 0x00
		dst[out+1] = 0x00
		dst[out+2] = src[i*2+0]
		dst[out+3] = src[i*2+1]
		out += 4
	}
	return out
}

// widen16To24 widens S16LE samples to packed 24-bit ([0 b0 b1]), used
// when the sink accepts 24-bit but not 32-bit.
func widen16To24(dst, src []byte, numSamples int) int {
	out := 0
	for i := 0; i < numSamples; i++ {
		dst[out+0] = 0x00
		dst[out+1] = src[i*2+0]
		dst[out+2] = src[i*2+1]
		out += 3
	}
	return out
}

// DSDConversionMode selects the per-byte transform applied while
// interleaving planar DSD. It is fixed at track open so the hot loops
// carry no per-iteration branches.
type DSDConversionMode int

// DSD conversion modes.
const (
	// DSDPassthrough interleaves only (source bit order and target
	// endianness already match).
	DSDPassthrough DSDConversionMode = iota
	// DSDBitReverse reverses the bits of every byte.
	DSDBitReverse
	// DSDByteSwap reverses byte order within each 4-byte group
	// (little-endian targets).
	DSDByteSwap
	// DSDBitReverseAndSwap applies both.
	DSDBitReverseAndSwap
)

func (m DSDConversionMode) String() string {
	switch m {
	case DSDPassthrough:
		return "passthrough"
	case DSDBitReverse:
		return "bit-reverse"
	case DSDByteSwap:
		return "byte-swap"
	case DSDBitReverseAndSwap:
		return "bit-reverse+swap"
	}
	return "unknown"
}

// interleaveDSD converts planar per-channel DSD runs (channel 0 block,
// then channel 1 block, ...) into interleaved 4-byte groups per
// channel, the 32-bit DSD word layout the transport carries. totalBytes
// must be a multiple of 4*channels.
func interleaveDSD(dst, src []byte, totalBytes, channels int, mode DSDConversionMode) int {
	bytesPerChannel := totalBytes / channels
	out := 0

	switch mode {
	case DSDBitReverse:
		for i := 0; i < bytesPerChannel; i += 4 {
			for ch := 0; ch < channels; ch++ {
				o := ch * bytesPerChannel
				dst[out+0] = bitReverseLUT[src[o+i+0]]
				dst[out+1] = bitReverseLUT[src[o+i+1]]
				dst[out+2] = bitReverseLUT[src[o+i+2]]
				dst[out+3] = bitReverseLUT[src[o+i+3]]
				out += 4
			}
		}
	case DSDByteSwap:
		for i := 0; i < bytesPerChannel; i += 4 {
			for ch := 0; ch < channels; ch++ {
				o := ch * bytesPerChannel
				dst[out+0] = src[o+i+3]
				dst[out+1] = src[o+i+2]
				dst[out+2] = src[o+i+1]
				dst[out+3] = src[o+i+0]
				out += 4
			}
		}
	case DSDBitReverseAndSwap:
		for i := 0; i < bytesPerChannel; i += 4 {
			for ch := 0; ch < channels; ch++ {
				o := ch * bytesPerChannel
				dst[out+0] = bitReverseLUT[src[o+i+3]]
				dst[out+1] = bitReverseLUT[src[o+i+2]]
				dst[out+2] = bitReverseLUT[src[o+i+1]]
				dst[out+3] = bitReverseLUT[src[o+i+0]]
				out += 4
			}
		}
	default:
		for i := 0; i < bytesPerChannel; i += 4 {
			for ch := 0; ch < channels; ch++ {
				o := ch * bytesPerChannel
				copy(dst[out:out+4], src[o+i:o+i+4])
				out += 4
			}
		}
	}
	return out
}
