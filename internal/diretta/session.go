// Package diretta adapts the audio ring to a Diretta-protocol network
// DAC. It owns the SDK session lifecycle (open, setSink, connect,
// play), the real-time consumer worker, and the format-change state
// machine. The SDK itself is vendor code reached through the narrow
// Session/Finder contract below.
package diretta

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by the adapter.
var (
	ErrSDKUnavailable = errors.New("diretta: SDK transport not available in this build")
	ErrNoTargets      = errors.New("diretta: no targets found")
	ErrNotEnabled     = errors.New("diretta: not enabled")
	ErrSinkRejected   = errors.New("diretta: target accepted no compatible format")
)

// Target describes one discovered Diretta output.
type Target struct {
	Address    string
	Name       string
	OutputName string
	ProductID  uint32
	Version    uint32
	Multiport  bool
}

// SinkInfo reports target capabilities queried after the SDK opens.
type SinkInfo struct {
	SupportsPCM    bool
	SupportsDSD    bool
	SupportsDSDLSB bool
	SupportsDSDMSB bool
	// MSModes is a bitmask: bit0=MS1, bit1=MS2, bit2=MS3.
	MSModes uint16
}

// MultiStreamMode selects the SDK's multi-stream operation mode.
type MultiStreamMode int

// Multi-stream modes; the bridge always runs MS3.
const (
	MSModeAuto MultiStreamMode = iota
	MSMode1
	MSMode2
	MSMode3
)

// SessionConfig carries the arguments of the SDK open call.
type SessionConfig struct {
	ThreadMode int
	CycleTime  time.Duration
	Name       string
	ID         uint32
	MSMode     MultiStreamMode
}

// Stream is the cycle-scoped destination descriptor handed to the
// producer callback. The callback sets Data to the bytes for this
// cycle; the slice must stay valid until the callback returns again.
type Stream struct {
	Data []byte
}

// StreamProducer is implemented by the sync adapter: the SDK invokes
// ProduceStream once per transfer cycle. Invocations are serialised.
// State-changing Session calls are not safe concurrently with it.
type StreamProducer interface {
	ProduceStream(s *Stream) bool
}

// Session is the contract the adapter needs from the vendor SDK.
type Session interface {
	Open(cfg SessionConfig) bool
	Close()

	SetSink(addr string, cycleTime time.Duration, flag bool, mtu uint32) bool
	CheckSinkSupport(f FormatFlags) bool
	SetSinkConfigure(f FormatFlags)
	GetSinkConfigure() FormatFlags
	SinkInfo() SinkInfo
	InquirySupportFormat(addr string)

	ConfigTransferFixAuto(cycle time.Duration)
	ConfigTransferVarAuto(cycle time.Duration)
	ConfigTransferVarMax(cycle time.Duration)

	ConnectPrepare() bool
	Connect(flag int) bool
	ConnectWait() bool
	Disconnect(wait bool)
	IsOnline() bool

	Play()
	Stop()

	// RunCycle drives one transfer cycle, invoking p.ProduceStream when
	// the transport wants data. It returns false when there was nothing
	// to do, letting the worker back off briefly.
	RunCycle(p StreamProducer) bool
}

// Finder is the discovery side of the SDK.
type Finder interface {
	Open() bool
	Close()
	FindOutputs() []Target
	MeasureSendMTU(addr string) (uint32, bool)
}
