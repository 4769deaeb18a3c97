package diretta

import (
	"fmt"
	"time"

	"github.com/smazurov/direttanode/internal/audio"
	"github.com/smazurov/direttanode/internal/events"
	"github.com/smazurov/direttanode/internal/ring"
)

// Transition timing. DSD pipelines get deeper with rate, so reset
// delays scale with the DSD64 multiplier.
const (
	dsdResetDelayBase    = 200 * time.Millisecond
	pcmRateChangeDelay   = 100 * time.Millisecond
	highRatePCMDelayUnit = 100 * time.Millisecond
	initialDelayFull     = 500 * time.Millisecond
	initialDelayQuick    = 200 * time.Millisecond
	releaseSettleDelay   = 100 * time.Millisecond
	silenceDrainTimeout  = 150 * time.Millisecond
	pauseDrainTimeout    = 80 * time.Millisecond
	workerIdleTimeout    = 500 * time.Millisecond
)

// Shutdown silence cycle counts (scaled by DSD rate).
const (
	closeSilencePCM  = 20
	closeSilenceDSD  = 50
	pauseSilencePCM  = 10
	pauseSilenceDSD  = 30
	resumeSilenceDSD = 30
)

// highRatePCM marks 4fs-and-up PCM rates that need extra PLL settling.
const highRatePCM = 176400

// highRateDSD is DSD256 at the 44.1 family base.
const highRateDSD = 11289600

// Open establishes (or re-establishes) the connection for a track
// format. Same-format reopens take a fast path that keeps the
// connection; everything else tears down to the degree the transition
// demands, per the rate and clock family involved.
func (s *Sync) Open(format audio.Format) error {
	s.logger.Info("Open", "format", format.String())

	if !s.enabled.Load() {
		return ErrNotEnabled
	}
	if !s.sdkOpen.Load() {
		s.logger.Info("SDK was released, reopening")
		if err := s.openSDK(); err != nil {
			return err
		}
	}

	if s.open.Load() && s.hasPrevFormat() {
		prev := s.previousFormat()
		if prev.Equal(format) {
			return s.quickResume(format)
		}
		if err := s.transitionFrom(prev, format); err != nil {
			return err
		}
	}

	return s.connectAndStart(format, true)
}

func (s *Sync) hasPrevFormat() bool {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	return s.hasPrev
}

func (s *Sync) previousFormat() audio.Format {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	return s.prevFormat
}

// quickResume handles a same-format track change without touching the
// sink: flush, clear, re-arm prefill, play. The post-online
// stabilisation is left done — the DAC is already stable.
func (s *Sync) quickResume(format audio.Format) error {
	s.logger.Info("Same format, quick resume")

	if s.isDSD.Load() {
		s.requestShutdownSilence(resumeSilenceDSD)
		s.awaitSilenceDrain(100 * time.Millisecond)
	}

	s.withReconfigure(func() {
		s.ring.Clear()
	})
	s.prefillComplete.Store(false)
	s.stabilizationCount.Store(0)
	s.stopRequested.Store(false)
	s.draining.Store(false)
	s.silenceRemaining.Store(0)

	s.session.Play()
	s.playing.Store(true)
	s.paused.Store(false)
	s.setCurrentFormat(format)
	events.Publish(s.bus, events.TransportState{State: events.StatePlaying})
	return nil
}

// transitionFrom tears the connection down as far as the old/new
// format pair requires and leaves the SDK reopened, ready for a full
// connect.
func (s *Sync) transitionFrom(prev, next audio.Format) error {
	dsdRateChange := prev.IsDSD && next.IsDSD && prev.SampleRate != next.SampleRate
	pcmRateChange := !prev.IsDSD && !next.IsDSD && prev.SampleRate != next.SampleRate

	switch {
	case prev.IsDSD && (!next.IsDSD || dsdRateChange):
		// DSD to PCM, or DSD rate change: targets need a clean break
		// and time to flush pipelines before the clock domain moves.
		mult := prev.DSDMultiplier()
		delay := dsdResetDelayBase * time.Duration(mult)
		if !next.IsDSD && next.SampleRate >= highRatePCM {
			delay += highRatePCMDelayUnit * time.Duration(next.SampleRate/44100)
		}
		s.logger.Info("DSD teardown transition", "from", prev.String(), "to", next.String(), "settle", delay)
		s.teardownForReset()
		s.interruptibleWait(delay)
		return s.reopenSDK()

	case pcmRateChange:
		s.logger.Info("PCM rate change, full reopen", "from", prev.SampleRate, "to", next.SampleRate)
		s.teardownForReset()
		s.interruptibleWait(pcmRateChangeDelay)
		return s.reopenSDK()

	default:
		// PCM to DSD (or a bit-depth change). Same clock family at
		// high rate wedges the target's PLL unless fully reset;
		// cross-family transitions re-lock naturally on the light
		// path.
		if sameClockFamily(prev.SampleRate, next.SampleRate) &&
			(prev.SampleRate >= highRatePCM || next.SampleRate >= highRateDSD) {
			mult := next.DSDMultiplier()
			delay := dsdResetDelayBase * time.Duration(mult)
			s.logger.Info("High-rate same-family transition, full reopen", "settle", delay)
			s.teardownForReset()
			s.interruptibleWait(delay)
			return s.reopenSDK()
		}
		s.logger.Info("Format change, light reopen")
		return s.reopenForFormatChange()
	}
}

// sameClockFamily reports whether both rates divide evenly into the
// same base clock (44.1 or 48 kHz family).
func sameClockFamily(a, b uint32) bool {
	family := func(rate uint32) int {
		switch {
		case rate%44100 == 0:
			return 441
		case rate%48000 == 0:
			return 480
		}
		return 0
	}
	fa, fb := family(a), family(b)
	return fa != 0 && fa == fb
}

// connectAndStart runs the shared tail of every open: reset, sink and
// ring configuration, setSink, transfer mode, connect and play.
func (s *Sync) connectAndStart(format audio.Format, fullConnect bool) error {
	s.fullReset()
	s.isDSD.Store(format.IsDSD)

	var cycleRate uint32
	var cycleBits int

	if format.IsDSD {
		if err := s.configureSinkDSD(format); err != nil {
			return err
		}
		s.configureRingDSD(format)
		cycleRate = format.SampleRate
		cycleBits = 1
	} else {
		accepted, err := s.configureSinkPCM(format)
		if err != nil {
			return err
		}
		s.configureRingPCM(format, accepted)
		cycleBits = accepted
		cycleRate = format.SampleRate
	}

	cycle := s.cycleTimeFor(cycleRate, format.Channels, cycleBits)

	// The target needs a moment to prepare for the new format before
	// it accepts a sink configuration.
	if fullConnect {
		s.interruptibleWait(initialDelayFull)
	} else {
		s.interruptibleWait(initialDelayQuick)
	}

	attempts, retryDelay := setSinkFullTries, setSinkFullDelay
	if !fullConnect {
		attempts, retryDelay = setSinkQuickTries, setSinkQuickDelay
	}
	sinkSet := false
	for attempt := 0; attempt < attempts && !sinkSet; attempt++ {
		if attempt > 0 {
			s.logger.Debug("setSink retry", "attempt", attempt)
			s.interruptibleWait(retryDelay)
		}
		sinkSet = s.session.SetSink(s.target.Address, cycle, false, s.mtu)
	}
	if !sinkSet {
		return fmt.Errorf("diretta: setSink failed after %d attempts", attempts)
	}

	if fullConnect {
		s.session.InquirySupportFormat(s.target.Address)
	}

	s.applyTransferMode(cycle)

	if fullConnect {
		if !s.session.ConnectPrepare() {
			return fmt.Errorf("diretta: connectPrepare failed")
		}
		connected := false
		for attempt := 0; attempt < connectRetries && !connected; attempt++ {
			if attempt > 0 {
				s.logger.Debug("connect retry", "attempt", attempt)
				s.interruptibleWait(connectDelay)
			}
			connected = s.session.Connect(0)
		}
		if !connected {
			return fmt.Errorf("diretta: connect failed")
		}
		if !s.session.ConnectWait() {
			s.session.Disconnect(false)
			return fmt.Errorf("diretta: connectWait failed")
		}
	}

	s.withReconfigure(func() {
		s.ring.Clear()
	})
	s.prefillComplete.Store(false)
	s.postOnlineDone.Store(false)

	s.session.Play()
	s.startWorker()

	s.waitForOnline(s.cfg.OnlineWait)
	s.postOnlineDone.Store(false)
	s.stabilizationCount.Store(0)

	s.setCurrentFormat(format)
	s.open.Store(true)
	s.playing.Store(true)
	s.paused.Store(false)

	events.Publish(s.bus, events.TransportState{State: events.StatePlaying})
	s.logger.Info("Open complete", "format", format.String(), "cycle", cycle)
	return nil
}

func (s *Sync) setCurrentFormat(format audio.Format) {
	s.configMu.Lock()
	s.prevFormat = format
	s.hasPrev = true
	s.curFormat = format
	s.configMu.Unlock()
}

// Close drains a short burst of silence, stops the transport and
// disconnects, keeping the SDK session open for fast reuse.
func (s *Sync) Close() {
	if !s.open.Load() {
		return
	}
	s.logger.Info("Close")

	silence := closeSilencePCM
	if s.isDSD.Load() {
		silence = closeSilenceDSD
	}
	s.requestShutdownSilence(silence)
	s.awaitSilenceDrain(silenceDrainTimeout)

	s.stopRequested.Store(true)
	s.session.Stop()
	s.session.Disconnect(true)
	s.awaitWorkerIdle(workerIdleTimeout)

	s.open.Store(false)
	s.playing.Store(false)
	s.paused.Store(false)

	underruns := s.underruns.Swap(0)
	if underruns > 0 {
		s.logger.Warn("Session had underruns", "count", underruns)
	}
	events.Publish(s.bus, events.UnderrunSummary{
		Underruns:     underruns,
		SilenceChunks: s.silenceCycles.Load(),
		Cycles:        s.streamCount.Load(),
	})
	events.Publish(s.bus, events.TransportState{State: events.StateEnabled})
}

// Release closes and tears the SDK session down entirely so another
// source can claim the target. The next Open reopens the SDK.
func (s *Sync) Release() {
	if s.open.Load() {
		s.Close()
	}
	if s.sdkOpen.Load() {
		s.logger.Info("Releasing target")
		s.joinWorker()
		s.session.Close()
		s.sdkOpen.Store(false)
		s.interruptibleWait(releaseSettleDelay)
	}
	s.configMu.Lock()
	s.hasPrev = false
	s.configMu.Unlock()
}

// Pause injects a short silence burst and stops the transport,
// keeping the connection.
func (s *Sync) Pause() {
	if !s.playing.Load() || s.paused.Load() {
		return
	}
	silence := pauseSilencePCM
	if s.isDSD.Load() {
		silence = pauseSilenceDSD
	}
	s.requestShutdownSilence(silence)
	s.awaitSilenceDrain(pauseDrainTimeout)

	s.session.Stop()
	s.paused.Store(true)
	s.playing.Store(false)
	events.Publish(s.bus, events.TransportState{State: events.StatePaused})
}

// Resume discards stale buffered audio, re-arms the prefill gate and
// restarts playback.
func (s *Sync) Resume() {
	if !s.paused.Load() {
		return
	}
	s.draining.Store(false)
	s.stopRequested.Store(false)
	s.silenceRemaining.Store(0)

	s.withReconfigure(func() {
		s.ring.Clear()
	})
	s.prefillComplete.Store(false)

	s.session.Play()
	s.paused.Store(false)
	s.playing.Store(true)
	events.Publish(s.bus, events.TransportState{State: events.StatePlaying})
}

// teardownForReset stops playback, disconnects, joins the worker and
// closes the SDK. Used by the heavy format-change paths.
func (s *Sync) teardownForReset() {
	s.silenceRemaining.Store(0)
	s.session.Stop()
	s.session.Disconnect(true)
	s.joinWorker()
	s.session.Close()
	s.sdkOpen.Store(false)
	s.open.Store(false)
	s.playing.Store(false)
	s.paused.Store(false)
}

// reopenForFormatChange is the light path: same teardown but the
// settle time comes from configuration, and the caller performs all
// sink configuration afterwards with the correct cycle time.
func (s *Sync) reopenForFormatChange() error {
	s.session.Stop()
	s.session.Disconnect(true)
	s.joinWorker()
	s.session.Close()
	s.sdkOpen.Store(false)

	s.logger.Debug("Format switch settle", "delay", s.cfg.FormatSwitchDelay)
	s.interruptibleWait(s.cfg.FormatSwitchDelay)

	return s.reopenSDK()
}

// fullReset excludes both ring sides and clears every per-track flag
// and counter. The generation counters are bumped by the ring
// configuration that always follows, before any consumer snapshot can
// be taken against the new state.
func (s *Sync) fullReset() {
	s.stopRequested.Store(true)
	s.awaitWorkerIdle(workerIdleTimeout)

	s.configMu.Lock()
	s.withReconfigure(func() {
		s.draining.Store(false)
		s.prefillComplete.Store(false)
		s.postOnlineDone.Store(false)
		s.silenceRemaining.Store(0)
		s.stabilizationCount.Store(0)
		s.streamCount.Store(0)
		s.pushCount.Store(0)
		s.isDSD.Store(false)
		s.need24Pack.Store(false)
		s.need16To32.Store(false)
		s.need16To24.Store(false)
		s.lowBitrate.Store(false)
		s.dsdMode.Store(int32(ring.DSDPassthrough))
		s.bytesPerFrame.Store(0)
		s.framesRemainder.Store(0)
		s.remainderAcc.Store(0)
		s.ring.Clear()
	})
	s.configMu.Unlock()

	s.stopRequested.Store(false)
}

// requestShutdownSilence asks the worker for n cycles of silence
// before a stop; DSD scales n with the rate multiplier since higher
// rates have deeper target pipelines.
func (s *Sync) requestShutdownSilence(cycles int) {
	if s.isDSD.Load() {
		mult := int(s.sampleRate.Load()) / audio.DSD64Rate
		if mult < 1 {
			mult = 1
		}
		cycles *= mult
	}
	s.silenceRemaining.Store(int32(cycles))
	s.draining.Store(true)
	s.logger.Debug("Shutdown silence requested", "cycles", cycles)
}

// awaitSilenceDrain waits (bounded) for the worker to emit the
// requested silence cycles.
func (s *Sync) awaitSilenceDrain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for s.silenceRemaining.Load() > 0 {
		if time.Now().After(deadline) {
			s.logger.Debug("Silence drain timeout")
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// awaitWorkerIdle waits (bounded) for the cycle callback to finish.
func (s *Sync) awaitWorkerIdle(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for s.workerActive.Load() {
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
