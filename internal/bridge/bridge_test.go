package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/direttanode/internal/audio"
	"github.com/smazurov/direttanode/internal/pipe"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeOutput records everything the bridge pushes.
type fakeOutput struct {
	mu        sync.Mutex
	opens     []audio.Format
	sent      []byte
	sendUnits []int
	closed    bool

	prefillDone bool
	level       float64
	openErr     error
}

func (f *fakeOutput) Open(format audio.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opens = append(f.opens, format)
	return nil
}

func (f *fakeOutput) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeOutput) SendAudio(data []byte, numSamples int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data...)
	f.sendUnits = append(f.sendUnits, numSamples)
	return len(data)
}

func (f *fakeOutput) IsPrefillComplete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefillDone
}

func (f *fakeOutput) BufferLevel() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *fakeOutput) WaitForSpace(timeout time.Duration) bool {
	time.Sleep(time.Millisecond)
	return true
}

func (f *fakeOutput) sentBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeOutput) openedFormats() []audio.Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]audio.Format, len(f.opens))
	copy(out, f.opens)
	return out
}

func header(kind audio.StreamKind, bits uint8, rate uint32) []byte {
	h := audio.Header{Version: 1, Channels: 2, BitDepth: bits, Kind: kind, SampleRate: rate}
	buf := h.Encode()
	return buf[:]
}

func runBridge(t *testing.T, stream []byte, out *fakeOutput) error {
	t.Helper()
	b := New(pipe.NewReader(bytes.NewReader(stream)), out, testLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return b.Run(ctx)
}

// E1: one header, continuous audio, no ring resets in between; every
// audio byte reaches the transport exactly once.
func TestGaplessPCMStream(t *testing.T) {
	audioBytes := make([]byte, 2*176400) // two seconds of S16/44100 stereo
	for i := range audioBytes {
		audioBytes[i] = byte(i % 253)
	}
	stream := append(header(audio.KindPCM, 16, 44100), audioBytes...)

	out := &fakeOutput{prefillDone: true}
	if err := runBridge(t, stream, out); err != nil {
		t.Fatal(err)
	}

	opens := out.openedFormats()
	if len(opens) != 1 {
		t.Fatalf("transport opened %d times, want 1", len(opens))
	}
	if opens[0].SampleRate != 44100 || opens[0].BitDepth != 16 || opens[0].IsDSD {
		t.Errorf("opened with %+v", opens[0])
	}
	if got := out.sentBytes(); !bytes.Equal(got, audioBytes) {
		t.Errorf("transport received %d bytes, want %d intact", len(got), len(audioBytes))
	}
	if !out.closed {
		t.Error("transport not closed at EOF")
	}
}

func TestFormatChangeReopens(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 100)
	// One native DSD wire frame per repetition.
	dsdWire := bytes.Repeat([]byte{
		0x13, 0x12, 0x11, 0x10,
		0x23, 0x22, 0x21, 0x20,
	}, 50)

	stream := append(header(audio.KindPCM, 16, 44100), pcm...)
	stream = append(stream, header(audio.KindDSDU32BE, 1, 88200)...)
	stream = append(stream, dsdWire...)

	out := &fakeOutput{prefillDone: true}
	if err := runBridge(t, stream, out); err != nil {
		t.Fatal(err)
	}

	opens := out.openedFormats()
	if len(opens) != 2 {
		t.Fatalf("transport opened %d times, want 2", len(opens))
	}
	if !opens[1].IsDSD || opens[1].SampleRate != 88200*32 {
		t.Errorf("second open = %+v", opens[1])
	}

	// Transport receives the PCM bytes untouched, then the planar
	// conversion of the DSD wire data.
	sent := out.sentBytes()
	if !bytes.Equal(sent[:len(pcm)], pcm) {
		t.Error("PCM segment corrupted")
	}
	wantPlanar := make([]byte, len(dsdWire))
	deinterleaveDSDU32(wantPlanar, dsdWire, 2)
	if !bytes.Equal(sent[len(pcm):], wantPlanar) {
		t.Error("DSD segment not planar-converted")
	}
}

// E4: a DoP stream configures the DAC at the native DSD rate and
// unwraps the payload bytes.
func TestDoPStream(t *testing.T) {
	frame := []byte{0x00, 0xAA, 0xBB, 0x05, 0x00, 0xCC, 0xDD, 0xFA}
	stream := append(header(audio.KindDoP, 24, 176400), bytes.Repeat(frame, 8)...)

	out := &fakeOutput{prefillDone: true}
	if err := runBridge(t, stream, out); err != nil {
		t.Fatal(err)
	}

	opens := out.openedFormats()
	if len(opens) != 1 || !opens[0].IsDSD || opens[0].SampleRate != 2822400 {
		t.Fatalf("opens = %+v", opens)
	}

	sent := out.sentBytes()
	// 8 frames: left plane [BB AA]x8, then right plane [DD CC]x8.
	wantLeft := bytes.Repeat([]byte{0xBB, 0xAA}, 8)
	wantRight := bytes.Repeat([]byte{0xDD, 0xCC}, 8)
	want := append(append([]byte{}, wantLeft...), wantRight...)
	if !bytes.Equal(sent, want) {
		t.Errorf("sent % 02x\nwant % 02x", sent, want)
	}
}

func TestDesyncTerminates(t *testing.T) {
	stream := []byte("this is not a header and never will be")
	out := &fakeOutput{prefillDone: true}
	err := runBridge(t, stream, out)
	if !errors.Is(err, ErrStreamDesync) {
		t.Errorf("Run = %v, want ErrStreamDesync", err)
	}
}

func TestEmptyStreamIsClean(t *testing.T) {
	out := &fakeOutput{prefillDone: true}
	if err := runBridge(t, nil, out); err != nil {
		t.Errorf("empty stream: %v", err)
	}
}

func TestOpenFailurePropagates(t *testing.T) {
	out := &fakeOutput{openErr: errors.New("target rejected format")}
	stream := header(audio.KindPCM, 16, 44100)
	if err := runBridge(t, stream, out); err == nil {
		t.Error("expected open failure to propagate")
	}
}

// stallSource delivers its payload, then fails reads with a deadline
// error a few times before EOF, mimicking a blocked pipe with read
// deadlines armed.
type stallSource struct {
	data   []byte
	stalls int
}

func (s *stallSource) Read(p []byte) (int, error) {
	if len(s.data) > 0 {
		n := copy(p, s.data)
		s.data = s.data[n:]
		return n, nil
	}
	if s.stalls > 0 {
		s.stalls--
		time.Sleep(5 * time.Millisecond)
		return 0, os.ErrDeadlineExceeded
	}
	return 0, io.EOF
}

func (s *stallSource) SetReadDeadline(time.Time) error { return nil }

// A stalled pipe during burst fill produces counted silence chunks
// instead of a producer stall.
func TestBurstFillInjectsSilenceOnStall(t *testing.T) {
	src := &stallSource{
		data:   append(header(audio.KindPCM, 16, 48000), bytes.Repeat([]byte{0x7F}, 64)...),
		stalls: 3,
	}

	out := &fakeOutput{} // prefill never completes
	b := New(pipe.NewReader(src), out, testLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatal(err)
	}

	_, _, silence := b.Stats()
	if silence == 0 {
		t.Error("no silence chunks injected during stalled burst fill")
	}
	if len(out.sentBytes()) <= 64 {
		t.Error("silence chunks did not reach the transport")
	}
}

func TestStatsCounters(t *testing.T) {
	audioBytes := bytes.Repeat([]byte{9}, 400)
	stream := append(header(audio.KindPCM, 16, 44100), audioBytes...)

	out := &fakeOutput{prefillDone: true}
	b := New(pipe.NewReader(bytes.NewReader(stream)), out, testLogger(), nil)
	if err := b.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	headers, bytesIn, _ := b.Stats()
	if headers != 1 {
		t.Errorf("headers = %d", headers)
	}
	if bytesIn != uint64(len(audioBytes)) {
		t.Errorf("bytesIn = %d, want %d", bytesIn, len(audioBytes))
	}
}
