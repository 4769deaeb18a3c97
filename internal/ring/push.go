package ring

// Conversion pushes. Each consumes whole samples from src, converts
// into a staging buffer, copies the staged bytes into the ring, and
// returns the number of *input* bytes consumed (never more than fits).

// Push24Packed consumes S24-in-S32 input (4 bytes per sample), runs
// the alignment detector, and writes packed 3-byte samples.
func (r *Ring) Push24Packed(src []byte) int {
	if r.size == 0 {
		return 0
	}
	numSamples := len(src) / 4
	numSamples = min(numSamples, stagingSize/3, r.FreeSpace()/3)
	if numSamples == 0 {
		return 0
	}

	mode := r.s24.update(src, numSamples)

	var staged int
	if mode == S24MSBAligned {
		staged = pack24MSB(r.staging24, src, numSamples)
	} else {
		staged = pack24LSB(r.staging24, src, numSamples)
	}

	written := r.writeStaged(r.staging24[:staged])
	return written / 3 * 4
}

// Push16To32 widens S16LE input to MSB-aligned S32.
func (r *Ring) Push16To32(src []byte) int {
	if r.size == 0 {
		return 0
	}
	numSamples := len(src) / 2
	numSamples = min(numSamples, stagingSize/4, r.FreeSpace()/4)
	if numSamples == 0 {
		return 0
	}

	staged := widen16To32(r.staging16, src, numSamples)
	written := r.writeStaged(r.staging16[:staged])
	return written / 4 * 2
}

// Push16To24 widens S16LE input to packed 24-bit.
func (r *Ring) Push16To24(src []byte) int {
	if r.size == 0 {
		return 0
	}
	numSamples := len(src) / 2
	numSamples = min(numSamples, stagingSize/3, r.FreeSpace()/3)
	if numSamples == 0 {
		return 0
	}

	staged := widen16To24(r.staging16, src, numSamples)
	written := r.writeStaged(r.staging16[:staged])
	return written / 3 * 2
}

// PushDSDPlanar interleaves planar DSD input into 4-byte groups per
// channel, applying the conversion mode chosen at track open. Only
// complete groups are consumed; the caller keeps partial groups
// buffered.
func (r *Ring) PushDSDPlanar(src []byte, channels int, mode DSDConversionMode) int {
	if r.size == 0 || channels <= 0 {
		return 0
	}

	maxBytes := min(len(src), stagingSize, r.FreeSpace())
	groupBytes := 4 * channels
	perChannel := len(src) / channels
	usable := min(maxBytes/groupBytes*groupBytes, perChannel/4*groupBytes)
	if usable == 0 {
		return 0
	}

	// interleaveDSD takes usable/channels as the channel stride; when only
	// the head of each channel block is taken, gather those heads into a
	// contiguous planar buffer first (staging16 is idle on the DSD path).
	if take := usable / channels; take != perChannel {
		for ch := 0; ch < channels; ch++ {
			copy(r.staging16[ch*take:(ch+1)*take], src[ch*perChannel:ch*perChannel+take])
		}
		src = r.staging16[:usable]
	}

	staged := interleaveDSD(r.stagingDSD, src, usable, channels, mode)
	return r.writeStaged(r.stagingDSD[:staged])
}
