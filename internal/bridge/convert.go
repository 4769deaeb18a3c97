package bridge

// Wire-to-planar DSD transforms. The Diretta ring's DSD path takes
// planar input (channel 0 block, then channel 1 block, ...), so the
// bridge unwraps the squeezelite wire layouts first.

// deinterleaveDSDU32 converts native DSD carried in S32_LE containers
// to planar bytes in temporal order. Squeezelite packs DSD bytes
// MSB-first into a 32-bit word and writes the word little-endian, so
// a stereo frame arrives as [L3 L2 L1 L0 R3 R2 R1 R0] with L0 the
// temporally first left-channel byte; the byte swap restores time
// order. len(src) must be a multiple of 4*channels.
func deinterleaveDSDU32(dst, src []byte, channels int) int {
	words := len(src) / (4 * channels)
	bytesPerChannel := words * 4

	for w := 0; w < words; w++ {
		for ch := 0; ch < channels; ch++ {
			in := (w*channels + ch) * 4
			out := ch*bytesPerChannel + w*4
			dst[out+0] = src[in+3]
			dst[out+1] = src[in+2]
			dst[out+2] = src[in+1]
			dst[out+3] = src[in+0]
		}
	}
	return words * 4 * channels
}

// extractDoP unwraps DSD-over-PCM to planar native DSD. Each channel's
// 32-bit container holds [pad, DSD_LSB, DSD_MSB, marker]; the two
// payload bytes come out MSB first and the 0x05/0xFA marker is
// discarded. len(src) must be a multiple of 4*channels; output is 2
// bytes per channel per frame.
func extractDoP(dst, src []byte, channels int) int {
	frames := len(src) / (4 * channels)
	bytesPerChannel := frames * 2

	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			in := (f*channels + ch) * 4
			out := ch*bytesPerChannel + f*2
			dst[out+0] = src[in+2]
			dst[out+1] = src[in+1]
		}
	}
	return frames * 2 * channels
}

// compactPlanar rebuilds a contiguous planar buffer from the unsent
// tail after a partial ring push. consumed is the total bytes taken
// (the ring consumes the same count from every channel block).
func compactPlanar(planar []byte, consumed, channels int, scratch []byte) []byte {
	bytesPerChannel := len(planar) / channels
	used := consumed / channels
	remaining := bytesPerChannel - used

	for ch := 0; ch < channels; ch++ {
		copy(scratch[ch*remaining:(ch+1)*remaining],
			planar[ch*bytesPerChannel+used:(ch+1)*bytesPerChannel])
	}
	return scratch[:remaining*channels]
}
