package events

import (
	"github.com/kelindar/event"

	"github.com/smazurov/direttanode/internal/audio"
)

// Event type IDs for the kelindar dispatcher.
const (
	typeFormatChanged uint32 = iota + 1
	typeTransportState
	typeUnderrunSummary
	typeChildExited
)

// Event is implemented by every event published on the bus.
type Event = event.Event

// FormatChanged fires when the bridge parses a header that differs
// from the current stream format.
type FormatChanged struct {
	Previous audio.Format
	Current  audio.Format
	First    bool
}

// Type implements event.Event.
func (FormatChanged) Type() uint32 { return typeFormatChanged }

// TransportState values.
type State string

// Transport lifecycle states.
const (
	StateDisabled State = "disabled"
	StateEnabled  State = "enabled"
	StateOpen     State = "open"
	StatePlaying  State = "playing"
	StatePaused   State = "paused"
)

// TransportState fires on every sync adapter state transition.
type TransportState struct {
	State State
}

// Type implements event.Event.
func (TransportState) Type() uint32 { return typeTransportState }

// UnderrunSummary fires when a playback session closes.
type UnderrunSummary struct {
	Underruns     uint32
	SilenceChunks uint64
	Cycles        int64
}

// Type implements event.Event.
func (UnderrunSummary) Type() uint32 { return typeUnderrunSummary }

// ChildExited fires when the squeezelite child terminates.
type ChildExited struct {
	ExitCode int
}

// Type implements event.Event.
func (ChildExited) Type() uint32 { return typeChildExited }
