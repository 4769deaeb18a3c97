package ring

// Incoming 24-bit PCM arrives in 32-bit containers with one padding
// byte, and the metadata does not say which end the padding is on.
// s24Detector watches the actual sample bytes: if byte 0 varies while
// byte 3 stays zero the stream is LSB-aligned, the mirror case is
// MSB-aligned. All-zero input (leading silence) defers the decision;
// after about a second of silence the hint (or LSB, the common case)
// is committed. Once a decision is made it is sticky until Clear.

// S24PackMode is the detected alignment of 24-bit samples in their
// 32-bit container.
type S24PackMode int

// S24 alignments.
const (
	S24Unknown S24PackMode = iota
	S24LSBAligned
	S24MSBAligned
	S24Deferred
)

func (m S24PackMode) String() string {
	switch m {
	case S24LSBAligned:
		return "lsb"
	case S24MSBAligned:
		return "msb"
	case S24Deferred:
		return "deferred"
	}
	return "unknown"
}

// deferredTimeoutSamples is roughly one second at 48 kHz.
const deferredTimeoutSamples = 48000

// detectWindowSamples bounds the per-call scan.
const detectWindowSamples = 64

type s24Detector struct {
	mode          S24PackMode
	hint          S24PackMode
	confirmed     bool
	deferredCount int
}

func (d *s24Detector) reset() {
	d.mode = S24Unknown
	d.hint = S24Unknown
	d.confirmed = false
	d.deferredCount = 0
}

// setHint records an alignment hint from track metadata. Sample-based
// detection overrides the hint as soon as non-zero audio is seen.
func (d *s24Detector) setHint(hint S24PackMode) {
	d.hint = hint
	d.confirmed = false
	if d.mode == S24Unknown || d.mode == S24Deferred {
		d.mode = hint
	}
}

// update runs the detection machine over one push's samples and
// returns the alignment to pack with.
func (d *s24Detector) update(src []byte, numSamples int) S24PackMode {
	if d.mode == S24Unknown || d.mode == S24Deferred || (d.mode == d.hint && !d.confirmed) {
		detected := scanS24(src, numSamples)
		if detected != S24Deferred {
			d.mode = detected
			d.confirmed = true
			d.deferredCount = 0
		} else {
			d.deferredCount += numSamples
			if d.deferredCount > deferredTimeoutSamples {
				if d.hint != S24Unknown {
					d.mode = d.hint
				} else {
					d.mode = S24LSBAligned
				}
				d.confirmed = true
			}
		}
	}

	effective := d.mode
	if effective == S24Deferred || effective == S24Unknown {
		if d.hint != S24Unknown {
			effective = d.hint
		} else {
			effective = S24LSBAligned
		}
	}
	return effective
}

// scanS24 examines up to the first 64 samples of one push.
func scanS24(src []byte, numSamples int) S24PackMode {
	check := min(numSamples, detectWindowSamples)
	allZeroLSB := true
	allZeroMSB := true

	for i := 0; i < check; i++ {
		if src[i*4] != 0x00 {
			allZeroLSB = false
		}
		if src[i*4+3] != 0x00 {
			allZeroMSB = false
		}
	}

	switch {
	case !allZeroLSB && allZeroMSB:
		return S24LSBAligned
	case allZeroLSB && !allZeroMSB:
		return S24MSBAligned
	case allZeroLSB && allZeroMSB:
		return S24Deferred
	}
	// Both ends carry data: ambiguous. LSB alignment is by far the
	// more common layout.
	return S24LSBAligned
}

// SetS24Hint seeds the detector for streams that start silent.
func (r *Ring) SetS24Hint(hint S24PackMode) {
	r.s24.setHint(hint)
}

// S24Mode exposes the current detection result for diagnostics.
func (r *Ring) S24Mode() S24PackMode {
	return r.s24.mode
}
