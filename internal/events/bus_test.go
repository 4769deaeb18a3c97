package events

import (
	"testing"
	"time"

	"github.com/smazurov/direttanode/internal/audio"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()

	got := make(chan FormatChanged, 1)
	unsub := Subscribe(bus, func(e FormatChanged) {
		got <- e
	})
	defer unsub()

	want := FormatChanged{
		Current: audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2},
		First:   true,
	}
	Publish(bus, want)

	select {
	case e := <-got:
		if e.Current.SampleRate != 44100 || !e.First {
			t.Errorf("received %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribersAreTypeScoped(t *testing.T) {
	bus := New()

	formats := make(chan FormatChanged, 1)
	unsub := Subscribe(bus, func(e FormatChanged) { formats <- e })
	defer unsub()

	Publish(bus, TransportState{State: StatePlaying})

	select {
	case e := <-formats:
		t.Fatalf("format handler received foreign event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus
	Publish(bus, TransportState{State: StateDisabled})
	unsub := Subscribe(bus, func(TransportState) {})
	unsub()
}
