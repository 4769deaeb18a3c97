package diretta

import (
	"time"

	"github.com/smazurov/direttanode/internal/audio"
	"github.com/smazurov/direttanode/internal/ring"
)

// Ring sizing. DSD gets a deeper ring: the raw bitstream path has no
// decode jitter but rate changes flush more data.
const (
	pcmBufferSeconds = 0.5
	dsdBufferSeconds = 0.8
	minRingBytes     = 64 * 1024
	maxRingBytes     = 16 * 1024 * 1024
)

// Prefill durations per source class. Compressed sources decode with
// variable latency and need the most headroom.
const (
	prefillMsCompressed   = 200
	prefillMsUncompressed = 100
	prefillMsDSD          = 150
	minPrefillBuffers     = 8
)

// DSD idle bytes are 0x69, the conventional DC-free silence pattern.
const dsdSilenceByte = 0x69

// lowBitratePCM marks formats that get the smaller-packet transfer
// mode: at most 16-bit at 48 kHz.
func lowBitratePCM(bytesPerSample int, rate uint32) bool {
	return bytesPerSample <= 2 && rate <= 48000
}

// configureSinkPCM probes the target's accepted container width in
// the order 32, 24, 16 and returns the accepted bit count.
func (s *Sync) configureSinkPCM(format audio.Format) (int, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	for _, bits := range []int{32, 24, 16} {
		flags := PCMFlags(format.SampleRate, bits, format.Channels)
		if s.session.CheckSinkSupport(flags) {
			s.session.SetSinkConfigure(flags)
			s.logger.Info("Sink configured", "rate", format.SampleRate,
				"channels", format.Channels, "bits", bits)
			return bits, nil
		}
	}
	return 0, ErrSinkRejected
}

// configureSinkDSD probes the four DSD orientation variants in
// preference order and derives the ring conversion mode from the
// accepted one.
func (s *Sync) configureSinkDSD(format audio.Format) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	info := s.session.SinkInfo()
	s.logger.Debug("Sink DSD support", "dsd", info.SupportsDSD,
		"lsb", info.SupportsDSDLSB, "msb", info.SupportsDSDMSB)

	for _, variant := range dsdProbeOrder {
		flags := DSDFlags(format.SampleRate, format.Channels, variant.lsb, variant.little)
		if !s.session.CheckSinkSupport(flags) {
			continue
		}
		s.session.SetSinkConfigure(flags)

		reverse, swap := variant.conversionFor(format.DSDLayout)
		mode := ring.DSDPassthrough
		switch {
		case reverse && swap:
			mode = ring.DSDBitReverseAndSwap
		case reverse:
			mode = ring.DSDBitReverse
		case swap:
			mode = ring.DSDByteSwap
		}
		s.dsdMode.Store(int32(mode))

		s.logger.Info("Sink configured", "dsd_rate", format.SampleRate,
			"channels", format.Channels,
			"target_order", orientName(variant.lsb),
			"target_endian", endianName(variant.little),
			"conversion", mode.String())
		return nil
	}
	return ErrSinkRejected
}

func orientName(lsb bool) string {
	if lsb {
		return "lsb"
	}
	return "msb"
}

func endianName(little bool) string {
	if little {
		return "little"
	}
	return "big"
}

// configureRingPCM resizes the ring for a PCM stream and publishes
// the derived transform flags and cycle sizing to the hot paths.
func (s *Sync) configureRingPCM(format audio.Format, acceptedBits int) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	direttaBps := acceptedBits / 8
	inputBps := 2
	if format.BitDepth == 32 || format.BitDepth == 24 {
		inputBps = 4
	}

	s.withReconfigure(func() {
		rate := format.SampleRate
		channels := format.Channels

		s.sampleRate.Store(int32(rate))
		s.channels.Store(int32(channels))
		s.bytesPerSample.Store(int32(direttaBps))
		s.need24Pack.Store(direttaBps == 3 && inputBps == 4)
		s.need16To32.Store(direttaBps == 4 && inputBps == 2)
		s.need16To24.Store(direttaBps == 3 && inputBps == 2)
		s.isDSD.Store(false)
		s.lowBitrate.Store(lowBitratePCM(direttaBps, rate))
		s.dsdMode.Store(int32(ring.DSDPassthrough))

		bytesPerSecond := int(rate) * channels * direttaBps
		s.ring.Resize(ringBytes(bytesPerSecond, pcmBufferSeconds), 0x00)

		bytesPerFrame := channels * direttaBps
		framesBase := int(rate) / 1000
		framesRemainder := rate % 1000
		bytesPerCycle := framesBase * bytesPerFrame

		s.bytesPerFrame.Store(int32(bytesPerFrame))
		s.framesRemainder.Store(framesRemainder)
		s.remainderAcc.Store(0)
		s.bytesPerCycle.Store(int32(bytesPerCycle))

		s.setPrefill(bytesPerSecond, bytesPerCycle, bytesPerFrame,
			framesRemainder, false, format.IsCompressed)

		// Publish the new generation before either side can snapshot.
		s.producerGen.Add(1)
		s.consumerGen.Add(1)
	})

	s.logger.Info("Ring configured",
		"rate", format.SampleRate, "channels", format.Channels,
		"container_bytes", direttaBps, "input_bytes", inputBps,
		"ring", s.ring.Size(), "prefill", s.prefillTarget.Load())
}

// configureRingDSD resizes the ring for a DSD stream: byte rate is
// the bit rate over 8, cycle size a multiple of the 4-byte-per-channel
// word group with a floor of 64 bytes.
func (s *Sync) configureRingDSD(format audio.Format) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	byteRate := format.SampleRate / 8
	channels := format.Channels

	s.withReconfigure(func() {
		s.isDSD.Store(true)
		s.need24Pack.Store(false)
		s.need16To32.Store(false)
		s.need16To24.Store(false)
		s.lowBitrate.Store(false)
		s.sampleRate.Store(int32(format.SampleRate))
		s.channels.Store(int32(channels))
		s.bytesPerSample.Store(4)

		bytesPerSecond := int(byteRate) * channels
		s.ring.Resize(ringBytes(bytesPerSecond, dsdBufferSeconds), dsdSilenceByte)

		group := 4 * channels
		bytesPerCycle := int(byteRate/1000) * channels
		bytesPerCycle = (bytesPerCycle + group - 1) / group * group
		if bytesPerCycle < 64 {
			bytesPerCycle = 64
		}
		s.bytesPerCycle.Store(int32(bytesPerCycle))
		s.bytesPerFrame.Store(0)
		s.framesRemainder.Store(0)
		s.remainderAcc.Store(0)

		s.setPrefill(bytesPerSecond, bytesPerCycle, 0, 0, true, false)

		s.producerGen.Add(1)
		s.consumerGen.Add(1)
	})

	s.logger.Info("Ring configured",
		"dsd_rate", format.SampleRate, "byte_rate", byteRate,
		"channels", channels, "ring", s.ring.Size(),
		"prefill", s.prefillTarget.Load())
}

// ringBytes sizes the ring for a duration at a byte rate, clamped.
func ringBytes(bytesPerSecond int, seconds float64) int {
	size := int(float64(bytesPerSecond) * seconds)
	if size < minRingBytes {
		size = minRingBytes
	}
	if size > maxRingBytes {
		size = maxRingBytes
	}
	return size
}

// setPrefill computes the prefill target as a whole number of cycles.
// For 44.1-family PCM the byte total is summed over the remainder
// accumulator pattern so the threshold lands exactly on a cycle
// boundary. Callers hold configMu inside the reconfigure epoch.
func (s *Sync) setPrefill(bytesPerSecond, bytesPerCycle, bytesPerFrame int,
	framesRemainder uint32, isDSD, isCompressed bool) {

	targetMs := prefillMsUncompressed
	switch {
	case isDSD:
		targetMs = prefillMsDSD
	case isCompressed:
		targetMs = prefillMsCompressed
	}

	targetBytes := bytesPerSecond * targetMs / 1000
	buffers := (targetBytes + bytesPerCycle - 1) / bytesPerCycle

	maxBuffers := 100
	if ringSize := s.ring.Size(); ringSize > 0 && bytesPerCycle > 0 {
		maxBuffers = ringSize / (4 * bytesPerCycle)
	}
	if buffers < minPrefillBuffers {
		buffers = minPrefillBuffers
	}
	if buffers > maxBuffers {
		buffers = maxBuffers
	}
	s.prefillTargetBuffers = buffers

	if framesRemainder == 0 {
		s.prefillTarget.Store(uint64(buffers * bytesPerCycle))
	} else {
		total := 0
		acc := uint32(0)
		for i := 0; i < buffers; i++ {
			bytesThis := bytesPerCycle
			acc += framesRemainder
			if acc >= 1000 {
				acc -= 1000
				bytesThis += bytesPerFrame
			}
			total += bytesThis
		}
		s.prefillTarget.Store(uint64(total))
	}
	s.prefillComplete.Store(false)
}

// applyTransferMode configures the SDK scheduling mode for the new
// cycle time.
func (s *Sync) applyTransferMode(cycle time.Duration) {
	mode := s.cfg.TransferMode
	if mode == TransferAuto {
		if s.isDSD.Load() || s.lowBitrate.Load() {
			mode = TransferVarAuto
		} else {
			mode = TransferVarMax
		}
	}

	switch mode {
	case TransferFixAuto:
		s.session.ConfigTransferFixAuto(cycle)
	case TransferVarAuto:
		s.session.ConfigTransferVarAuto(cycle)
	default:
		s.session.ConfigTransferVarMax(cycle)
	}
	s.logger.Debug("Transfer mode applied", "mode", mode)
}

// cycleTimeFor resolves the per-format cycle period.
func (s *Sync) cycleTimeFor(sampleRate uint32, channels, bitsPerSample int) time.Duration {
	if s.cfg.CycleTime > 0 || s.calc == nil {
		return s.sessionCycle()
	}
	return s.calc.calculate(sampleRate, channels, bitsPerSample)
}
