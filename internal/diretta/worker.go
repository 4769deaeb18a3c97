package diretta

import (
	"runtime"
	"time"
)

// Post-online stabilisation: silence cycles emitted after the link
// reports online so the DAC's clock can lock before audible output.
const (
	stabilizationCyclesPCM = 20
	dsdWarmupBase          = 50 * time.Millisecond
	stabilizationMinDSD    = 50
	stabilizationMaxDSD    = 3000
)

// workerBackoff is the idle sleep when a cycle had nothing to do.
const workerBackoff = 100 * time.Microsecond

// startWorker spawns the consumer goroutine on first use. Reuse after
// a join is fine; a fresh done channel is allocated per run.
func (s *Sync) startWorker() {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()

	if s.running.Load() {
		return
	}

	s.running.Store(true)
	s.stopRequested.Store(false)
	done := make(chan struct{})
	s.workerDone = done

	go s.worker(done)
}

// joinWorker stops the consumer goroutine and waits for it. Must be
// called before any SDK close: the cycle callback reaches into SDK
// state.
func (s *Sync) joinWorker() {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()

	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	if s.workerDone != nil {
		<-s.workerDone
		s.workerDone = nil
	}
}

// worker drives the SDK transfer cycles. It tries for real-time
// scheduling; failure is expected without privileges and playback
// continues on the default scheduler.
func (s *Sync) worker(done chan struct{}) {
	defer close(done)
	setRealtimePriority(s.logger)

	for s.running.Load() {
		if !s.session.RunCycle(s) {
			time.Sleep(workerBackoff)
		}
	}
}

// enterRing joins the ring-user epoch. A false return means a
// reconfigure is in progress and the caller must not touch the ring.
func (s *Sync) enterRing() bool {
	if s.reconfiguring.Load() {
		return false
	}
	s.ringUsers.Add(1)
	if s.reconfiguring.Load() {
		s.ringUsers.Add(-1)
		return false
	}
	return true
}

func (s *Sync) leaveRing() {
	s.ringUsers.Add(-1)
}

// withReconfigure excludes both ring sides, runs fn, and reopens the
// gate. The excluded consumer emits silence for the affected cycles.
func (s *Sync) withReconfigure(fn func()) {
	s.reconfiguring.Store(true)
	for s.ringUsers.Load() > 0 {
		runtime.Gosched()
	}
	fn()
	s.reconfiguring.Store(false)
}

// WaitForSpace blocks until the consumer signals a pop or the timeout
// passes. Returns true when signalled.
func (s *Sync) WaitForSpace(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.spaceCh:
		return true
	case <-timer.C:
		return false
	}
}

// notifySpace is the consumer-side signal after a successful pop.
// Non-blocking: a pending notification is enough.
func (s *Sync) notifySpace() {
	select {
	case s.spaceCh <- struct{}{}:
	default:
	}
}

// BufferLevel returns the ring fill ratio in [0,1].
func (s *Sync) BufferLevel() float64 {
	if !s.enterRing() {
		return 0
	}
	defer s.leaveRing()
	size := s.ring.Size()
	if size == 0 {
		return 0
	}
	return float64(s.ring.Available()) / float64(size)
}

// IsPrefillComplete reports whether the ring has reached its prefill
// target since the last clear.
func (s *Sync) IsPrefillComplete() bool {
	return s.prefillComplete.Load()
}

// PrefillTarget returns the current prefill threshold in ring bytes.
func (s *Sync) PrefillTarget() int {
	return int(s.prefillTarget.Load())
}

func fillSilence(dst []byte, b byte) {
	for i := range dst {
		dst[i] = b
	}
}

// ProduceStream implements the SDK cycle callback. Exactly one cycle
// of bytes is produced per call: audio from the ring when every gate
// is open, the format's silence byte otherwise. Never blocks.
func (s *Sync) ProduceStream(st *Stream) bool {
	s.workerActive.Store(true)
	defer s.workerActive.Store(false)

	// One atomic load in the common case; a generation bump reloads
	// the consumer snapshot.
	gen := s.consumerGen.Load()
	if gen != s.consCache.gen {
		s.consCache = consumerCache{
			gen:             gen,
			bytesPerCycle:   int(s.bytesPerCycle.Load()),
			silenceByte:     s.ring.SilenceByte(),
			isDSD:           s.isDSD.Load(),
			sampleRate:      int(s.sampleRate.Load()),
			channels:        int(s.channels.Load()),
			bytesPerFrame:   int(s.bytesPerFrame.Load()),
			framesRemainder: s.framesRemainder.Load(),
		}
	}
	cache := &s.consCache

	cycleBytes := cache.bytesPerCycle
	if cycleBytes <= 0 {
		return true
	}

	// 44.1 family rates leave a per-millisecond frame remainder; the
	// accumulator stretches one cycle per wrap so the long-term byte
	// rate is exact.
	if cache.framesRemainder != 0 {
		acc := s.remainderAcc.Load() + cache.framesRemainder
		if acc >= 1000 {
			acc -= 1000
			cycleBytes += cache.bytesPerFrame
		}
		s.remainderAcc.Store(acc)
	}

	if cap(s.streamData) < cycleBytes {
		s.streamData = make([]byte, cycleBytes)
	}
	dst := s.streamData[:cycleBytes]
	st.Data = dst

	if !s.enterRing() {
		fillSilence(dst, cache.silenceByte)
		return true
	}
	defer s.leaveRing()

	if s.silenceRemaining.Load() > 0 {
		fillSilence(dst, cache.silenceByte)
		s.silenceRemaining.Add(-1)
		s.silenceCycles.Add(1)
		return true
	}

	if s.stopRequested.Load() {
		fillSilence(dst, cache.silenceByte)
		return true
	}

	if !s.prefillComplete.Load() {
		fillSilence(dst, cache.silenceByte)
		return true
	}

	if !s.postOnlineDone.Load() {
		target := s.stabilizationTarget(cache)
		count := s.stabilizationCount.Add(1)
		if int(count) >= target {
			s.postOnlineDone.Store(true)
			s.stabilizationCount.Store(0)
			s.logger.Debug("Post-online stabilisation complete", "cycles", count)
		}
		fillSilence(dst, cache.silenceByte)
		s.silenceCycles.Add(1)
		return true
	}

	s.streamCount.Add(1)

	if s.ring.Available() < cycleBytes {
		// Underruns are counted, not logged: summarised at close.
		s.underruns.Add(1)
		fillSilence(dst, cache.silenceByte)
		return true
	}

	s.ring.Pop(dst)
	s.notifySpace()
	return true
}

// stabilizationTarget converts the warmup time into cycles. PCM uses
// a fixed count; DSD scales the warmup with rate and converts through
// the MTU-derived cycle duration so the wall-clock warmup is stable
// across MTU sizes.
func (s *Sync) stabilizationTarget(cache *consumerCache) int {
	if !cache.isDSD {
		return stabilizationCyclesPCM
	}

	mult := cache.sampleRate / 2822400
	if mult < 1 {
		mult = 1
	}
	warmup := dsdWarmupBase * time.Duration(mult)

	channels := cache.channels
	if channels <= 0 {
		channels = 2
	}
	bytesPerSecond := float64(cache.sampleRate) * float64(channels) / 8.0
	efficientMTU := float64(int(s.mtu) - ipv6Overhead)
	if efficientMTU <= 0 || bytesPerSecond <= 0 {
		return stabilizationMinDSD
	}
	cycleSeconds := efficientMTU / bytesPerSecond

	cycles := int(warmup.Seconds()/cycleSeconds) + 1
	if cycles < stabilizationMinDSD {
		cycles = stabilizationMinDSD
	}
	if cycles > stabilizationMaxDSD {
		cycles = stabilizationMaxDSD
	}
	return cycles
}
