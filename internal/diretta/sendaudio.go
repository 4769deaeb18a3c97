package diretta

import "github.com/smazurov/direttanode/internal/ring"

// SendAudio is the producer entry. numSamples is frames for PCM and
// DSD bits per channel for DSD (total bytes = bits * channels / 8).
// Non-blocking: returns the input bytes consumed, 0 while gated
// (draining, stop requested, not yet online, or mid-reconfigure).
// The caller treats short writes as backpressure.
func (s *Sync) SendAudio(data []byte, numSamples int) int {
	if s.draining.Load() || s.stopRequested.Load() {
		return 0
	}
	if !s.IsOnline() {
		return 0
	}

	if !s.enterRing() {
		return 0
	}
	defer s.leaveRing()

	gen := s.producerGen.Load()
	if gen != s.prodCache.gen {
		s.prodCache = producerCache{
			gen:            gen,
			isDSD:          s.isDSD.Load(),
			pack24:         s.need24Pack.Load(),
			widen16To32:    s.need16To32.Load(),
			widen16To24:    s.need16To24.Load(),
			channels:       int(s.channels.Load()),
			bytesPerSample: int(s.bytesPerSample.Load()),
			dsdMode:        ring.DSDConversionMode(s.dsdMode.Load()),
		}
	}
	cache := &s.prodCache

	var written int
	switch {
	case cache.isDSD:
		totalBytes := numSamples * cache.channels / 8
		written = s.ring.PushDSDPlanar(clip(data, totalBytes), cache.channels, cache.dsdMode)

	case cache.pack24:
		totalBytes := numSamples * 4 * cache.channels
		written = s.ring.Push24Packed(clip(data, totalBytes))

	case cache.widen16To32:
		totalBytes := numSamples * 2 * cache.channels
		written = s.ring.Push16To32(clip(data, totalBytes))

	case cache.widen16To24:
		totalBytes := numSamples * 2 * cache.channels
		written = s.ring.Push16To24(clip(data, totalBytes))

	default:
		totalBytes := numSamples * cache.bytesPerSample * cache.channels
		written = s.ring.Push(clip(data, totalBytes))
	}

	if written > 0 {
		s.pushCount.Add(1)
		if !s.prefillComplete.Load() &&
			uint64(s.ring.Available()) >= s.prefillTarget.Load() {
			s.prefillComplete.Store(true)
			s.logger.Debug("Prefill complete", "bytes", s.ring.Available())
		}
	}
	return written
}

// SetS24Hint forwards a container alignment hint for 24-bit tracks
// that begin with silence.
func (s *Sync) SetS24Hint(mode ring.S24PackMode) {
	s.ring.SetS24Hint(mode)
}

// S24Mode exposes the ring's pack-mode decision for diagnostics.
func (s *Sync) S24Mode() ring.S24PackMode {
	return s.ring.S24Mode()
}

func clip(data []byte, n int) []byte {
	if n > len(data) {
		n = len(data)
	}
	return data[:n]
}
