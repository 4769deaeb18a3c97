package diretta

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/direttanode/internal/audio"
	"github.com/smazurov/direttanode/internal/events"
	"github.com/smazurov/direttanode/internal/ring"
)

// TransferMode selects the SDK transfer scheduling policy.
type TransferMode int

// Transfer modes. Auto picks VarAuto for DSD and low-bitrate PCM,
// VarMax otherwise.
const (
	TransferAuto TransferMode = iota
	TransferFixAuto
	TransferVarAuto
	TransferVarMax
)

// Retry limits for SDK state changes.
const (
	openRetries       = 3
	openRetryDelay    = 500 * time.Millisecond
	setSinkFullTries  = 20
	setSinkFullDelay  = 500 * time.Millisecond
	setSinkQuickTries = 15
	setSinkQuickDelay = 300 * time.Millisecond
	connectRetries    = 3
	connectDelay      = 500 * time.Millisecond
)

// defaultSessionID identifies this source to targets ("DRT").
const defaultSessionID = 0x44525400

// Config tunes the sync adapter.
type Config struct {
	// CycleTime forces the transfer cycle period; zero derives it from
	// the measured MTU per format.
	CycleTime time.Duration
	// TransferMode defaults to TransferAuto.
	TransferMode TransferMode
	// ThreadMode is the SDK thread mode bitmask.
	ThreadMode int
	// MTU overrides measurement when non-zero.
	MTU uint32
	// MTUFallback is used when measurement fails (default 1500).
	MTUFallback uint32
	// TargetIndex selects among discovered targets, 0-based; negative
	// picks the first.
	TargetIndex int
	// OnlineWait bounds the wait for the target to report online after
	// play (default 2s).
	OnlineWait time.Duration
	// FormatSwitchDelay is the settle time on the light format-change
	// path (default 800ms).
	FormatSwitchDelay time.Duration
	// PlayerName is announced to the target.
	PlayerName string
}

func (c Config) withDefaults() Config {
	if c.MTUFallback == 0 {
		c.MTUFallback = 1500
	}
	if c.OnlineWait == 0 {
		c.OnlineWait = 2 * time.Second
	}
	if c.FormatSwitchDelay == 0 {
		c.FormatSwitchDelay = 800 * time.Millisecond
	}
	if c.ThreadMode == 0 {
		c.ThreadMode = 1
	}
	if c.PlayerName == "" {
		c.PlayerName = "direttanode"
	}
	return c
}

// sessionCycleTime is the cycle hint passed to the SDK open call
// before the per-format cycle is known.
const sessionCycleTime = 2620 * time.Microsecond

// Sync owns the Diretta session, the ring and the consumer worker.
type Sync struct {
	cfg    Config
	logger *slog.Logger
	bus    *events.Bus

	newSession func() (Session, error)
	newFinder  func() (Finder, error)

	session Session
	target  Target
	mtu     uint32
	calc    *cycleCalculator

	// Connection state.
	enabled atomic.Bool
	sdkOpen atomic.Bool
	open    atomic.Bool
	playing atomic.Bool
	paused  atomic.Bool

	// Format tracking, guarded by configMu.
	configMu   sync.Mutex
	curFormat  audio.Format
	prevFormat audio.Format
	hasPrev    bool

	// Worker lifecycle.
	workerMu      sync.Mutex
	running       atomic.Bool
	stopRequested atomic.Bool
	draining      atomic.Bool
	workerActive  atomic.Bool
	workerDone    chan struct{}

	// Reconfigure epoch: both ring sides are excluded while the ring's
	// shape changes.
	reconfiguring atomic.Bool
	ringUsers     atomic.Int32

	// Flow control: the consumer signals after each pop; the producer
	// waits here above the high-water mark.
	spaceCh chan struct{}

	// Interruptible transition waits: Disable closes the current
	// channel to wake every sleeper.
	wakeMu sync.Mutex
	wakeCh chan struct{}

	ring       *ring.Ring
	streamData []byte // consumer-owned cycle buffer handed to the SDK

	// Live format parameters published to the hot paths.
	sampleRate      atomic.Int32
	channels        atomic.Int32
	bytesPerSample  atomic.Int32
	bytesPerCycle   atomic.Int32
	bytesPerFrame   atomic.Int32
	framesRemainder atomic.Uint32
	remainderAcc    atomic.Uint32
	need24Pack      atomic.Bool
	need16To32      atomic.Bool
	need16To24      atomic.Bool
	isDSD           atomic.Bool
	lowBitrate      atomic.Bool
	dsdMode         atomic.Int32

	// Generation counters: one per hot path, bumped on format change.
	producerGen atomic.Uint32
	consumerGen atomic.Uint32

	prodCache producerCache
	consCache consumerCache

	// Prefill and stabilisation.
	prefillTarget        atomic.Uint64
	prefillTargetBuffers int
	prefillComplete      atomic.Bool
	postOnlineDone       atomic.Bool
	stabilizationCount   atomic.Int32
	silenceRemaining     atomic.Int32

	// Statistics.
	streamCount   atomic.Int64
	pushCount     atomic.Int64
	underruns     atomic.Uint32
	silenceCycles atomic.Uint64
}

// producerCache holds SendAudio's snapshot of the format state; only
// the producer goroutine touches it.
type producerCache struct {
	gen            uint32
	isDSD          bool
	pack24         bool
	widen16To32    bool
	widen16To24    bool
	channels       int
	bytesPerSample int
	dsdMode        ring.DSDConversionMode
}

// consumerCache is the worker-side snapshot.
type consumerCache struct {
	gen             uint32
	bytesPerCycle   int
	silenceByte     byte
	isDSD           bool
	sampleRate      int
	channels        int
	bytesPerFrame   int
	framesRemainder uint32
}

// Option customises construction; used to inject fakes in tests.
type Option func(*Sync)

// WithSessionFactory overrides how the SDK session is created.
func WithSessionFactory(f func() (Session, error)) Option {
	return func(s *Sync) { s.newSession = f }
}

// WithFinderFactory overrides how the discovery finder is created.
func WithFinderFactory(f func() (Finder, error)) Option {
	return func(s *Sync) { s.newFinder = f }
}

// New creates a sync adapter. The bus may be nil.
func New(cfg Config, logger *slog.Logger, bus *events.Bus, opts ...Option) *Sync {
	s := &Sync{
		cfg:        cfg.withDefaults(),
		logger:     logger,
		bus:        bus,
		newSession: platformSession,
		newFinder:  platformFinder,
		spaceCh:    make(chan struct{}, 1),
		wakeCh:     make(chan struct{}),
		ring:       ring.New(44100*2*4, 0x00),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enable discovers the target, measures the MTU and opens the SDK.
func (s *Sync) Enable() error {
	if s.enabled.Load() {
		return nil
	}

	// A prior Disable left the wake channel closed; arm a fresh one so
	// transition waits block again.
	s.wakeMu.Lock()
	select {
	case <-s.wakeCh:
		s.wakeCh = make(chan struct{})
	default:
	}
	s.wakeMu.Unlock()

	if err := s.discoverTarget(); err != nil {
		return err
	}
	s.measureMTU()
	s.calc = newCycleCalculator(s.mtu)

	if err := s.openSDK(); err != nil {
		return err
	}

	s.enabled.Store(true)
	s.logger.Info("Transport enabled", "target", s.target.Name, "mtu", s.mtu)
	events.Publish(s.bus, events.TransportState{State: events.StateEnabled})
	return nil
}

// Disable is the hard cancellation point: it wakes pending transition
// waits, closes the session and joins the worker. Idempotent.
func (s *Sync) Disable() {
	s.wakeMu.Lock()
	select {
	case <-s.wakeCh:
	default:
		close(s.wakeCh)
	}
	s.wakeMu.Unlock()

	if s.open.Load() {
		s.Close()
	}

	if s.enabled.Load() {
		s.joinWorker()
		if s.session != nil {
			s.session.Close()
		}
		s.sdkOpen.Store(false)
		s.calc = nil
		s.enabled.Store(false)
	}

	s.configMu.Lock()
	s.hasPrev = false
	s.configMu.Unlock()

	events.Publish(s.bus, events.TransportState{State: events.StateDisabled})
	s.logger.Info("Transport disabled")
}

// IsEnabled reports whether Enable succeeded.
func (s *Sync) IsEnabled() bool { return s.enabled.Load() }

// IsOpen reports whether a playback connection is established.
func (s *Sync) IsOpen() bool { return s.open.Load() }

// IsPlaying reports whether playback is running.
func (s *Sync) IsPlaying() bool { return s.playing.Load() }

// IsOnline reports the SDK's link state.
func (s *Sync) IsOnline() bool {
	return s.session != nil && s.session.IsOnline()
}

// Format returns the current track format.
func (s *Sync) Format() audio.Format {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	return s.curFormat
}

// Underruns returns the count of consumer cycles that had to emit
// silence for lack of data.
func (s *Sync) Underruns() uint32 { return s.underruns.Load() }

// discoverTarget runs one discovery pass and picks the configured
// target.
func (s *Sync) discoverTarget() error {
	finder, err := s.newFinder()
	if err != nil {
		return err
	}
	if !finder.Open() {
		return fmt.Errorf("diretta: finder open failed")
	}
	defer finder.Close()

	targets := finder.FindOutputs()
	if len(targets) == 0 {
		return ErrNoTargets
	}
	s.logger.Info("Targets found", "count", len(targets))

	idx := s.cfg.TargetIndex
	if idx < 0 || idx >= len(targets) {
		idx = 0
	}
	s.target = targets[idx]
	s.logger.Info("Target selected", "index", idx+1, "name", s.target.Name)
	return nil
}

// measureMTU resolves the effective MTU: override, measurement, then
// fallback.
func (s *Sync) measureMTU() {
	if s.cfg.MTU > 0 {
		s.mtu = s.cfg.MTU
		s.logger.Info("Using configured MTU", "mtu", s.mtu)
		return
	}

	finder, err := s.newFinder()
	if err == nil && finder.Open() {
		defer finder.Close()
		if measured, ok := finder.MeasureSendMTU(s.target.Address); ok && measured > 0 {
			s.mtu = measured
			s.logger.Info("Measured MTU", "mtu", s.mtu)
			return
		}
	}

	s.mtu = s.cfg.MTUFallback
	s.logger.Warn("MTU measurement failed, using fallback", "mtu", s.mtu)
}

// openSDK opens the session with retries and queries target
// capabilities.
func (s *Sync) openSDK() error {
	if s.session == nil {
		session, err := s.newSession()
		if err != nil {
			return err
		}
		s.session = session
	}

	cfg := SessionConfig{
		ThreadMode: s.cfg.ThreadMode,
		CycleTime:  s.sessionCycle(),
		Name:       s.cfg.PlayerName,
		ID:         defaultSessionID,
		MSMode:     MSMode3,
	}

	opened := false
	for attempt := 0; attempt < openRetries && !opened; attempt++ {
		if attempt > 0 {
			s.logger.Debug("SDK open retry", "attempt", attempt)
			s.interruptibleWait(openRetryDelay)
		}
		opened = s.session.Open(cfg)
	}
	if !opened {
		return fmt.Errorf("diretta: SDK open failed after %d attempts", openRetries)
	}

	s.sdkOpen.Store(true)
	s.session.InquirySupportFormat(s.target.Address)
	s.logSinkCapabilities()
	return nil
}

// reopenSDK is the single-attempt reopen used mid format change.
func (s *Sync) reopenSDK() error {
	if !s.session.Open(SessionConfig{
		ThreadMode: s.cfg.ThreadMode,
		CycleTime:  s.sessionCycle(),
		Name:       s.cfg.PlayerName,
		ID:         defaultSessionID,
		MSMode:     MSMode3,
	}) {
		return fmt.Errorf("diretta: SDK reopen failed")
	}
	s.sdkOpen.Store(true)
	return nil
}

func (s *Sync) sessionCycle() time.Duration {
	if s.cfg.CycleTime > 0 {
		return s.cfg.CycleTime
	}
	return sessionCycleTime
}

func (s *Sync) logSinkCapabilities() {
	info := s.session.SinkInfo()
	s.logger.Debug("Sink capabilities",
		"pcm", info.SupportsPCM,
		"dsd", info.SupportsDSD,
		"dsd_lsb", info.SupportsDSDLSB,
		"dsd_msb", info.SupportsDSDMSB,
		"ms_modes", info.MSModes)
	if info.MSModes != 0 && info.MSModes&0x04 == 0 {
		s.logger.Warn("Target does not advertise MS3 mode, using it anyway")
	}
}

// interruptibleWait sleeps for d unless Disable wakes it first.
// Returns true when the full wait elapsed.
func (s *Sync) interruptibleWait(d time.Duration) bool {
	s.wakeMu.Lock()
	wake := s.wakeCh
	s.wakeMu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-wake:
		return false
	}
}

// waitForOnline polls the link state until it reports online or the
// timeout passes.
func (s *Sync) waitForOnline(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !s.session.IsOnline() {
		if time.Now().After(deadline) {
			s.logger.Warn("Target did not come online", "timeout", timeout)
			return false
		}
		if !s.interruptibleWait(5 * time.Millisecond) {
			return false
		}
	}
	return true
}

// DumpStats logs a snapshot of the session counters; wired to SIGUSR1.
func (s *Sync) DumpStats() {
	level := 0.0
	if s.ring.Size() > 0 {
		level = float64(s.ring.Available()) / float64(s.ring.Size())
	}
	s.logger.Info("Transport stats",
		"cycles", s.streamCount.Load(),
		"pushes", s.pushCount.Load(),
		"underruns", s.underruns.Load(),
		"silence_cycles", s.silenceCycles.Load(),
		"ring_fill", fmt.Sprintf("%.1f%%", level*100),
		"s24_mode", s.ring.S24Mode().String(),
		"prefill_complete", s.prefillComplete.Load(),
		"online", s.IsOnline())
}
