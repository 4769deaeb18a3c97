// Package bridge orchestrates the data plane: it parses the in-band
// SQFH headers from the squeezelite pipe, drives transport reopens on
// format changes, burst-fills the ring until prefill, and pumps audio
// with consumer-driven flow control.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/smazurov/direttanode/internal/audio"
	"github.com/smazurov/direttanode/internal/events"
	"github.com/smazurov/direttanode/internal/pipe"
)

// ErrStreamDesync means the pipe position no longer lines up with a
// valid header. There is no safe recovery: resyncing risks sending
// noise to the DAC, so the bridge terminates.
var ErrStreamDesync = errors.New("bridge: stream desynchronised, invalid format header")

// Flow control tuning.
const (
	readChunk         = 16 * 1024
	burstReadTimeout  = 50 * time.Millisecond
	burstFillTimeout  = 5 * time.Second
	silenceChunkBytes = 4 * 1024
	highWaterMark     = 0.75
	spaceWaitTimeout  = 50 * time.Millisecond
	sendStallTimeout  = 5 * time.Second
)

// Output is the transport surface the bridge drives; *diretta.Sync
// implements it.
type Output interface {
	Open(format audio.Format) error
	Close()
	SendAudio(data []byte, numSamples int) int
	IsPrefillComplete() bool
	BufferLevel() float64
	WaitForSpace(timeout time.Duration) bool
}

// Bridge pumps one squeezelite stream into one transport.
type Bridge struct {
	reader *pipe.Reader
	out    Output
	logger *slog.Logger
	bus    *events.Bus

	format    audio.Format
	kind      audio.StreamKind
	hasFormat bool

	pending []byte // carry of partial wire frames between reads
	planarA []byte
	planarB []byte

	// Counters are read from the signal handler's stats dump while the
	// pump goroutine updates them.
	headersSeen   atomic.Uint64
	bytesIn       atomic.Uint64
	silenceChunks atomic.Uint64
}

// New creates a bridge over the child's stdout.
func New(reader *pipe.Reader, out Output, logger *slog.Logger, bus *events.Bus) *Bridge {
	return &Bridge{
		reader:  reader,
		out:     out,
		logger:  logger,
		bus:     bus,
		planarA: make([]byte, readChunk),
		planarB: make([]byte, readChunk),
	}
}

// Run reads the pipe until EOF or cancellation. A clean child exit
// returns nil; a protocol desync returns ErrStreamDesync.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.out.Close()

	for ctx.Err() == nil {
		var hdrBuf [audio.HeaderSize]byte
		if err := b.reader.ReadExact(hdrBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				b.logger.Info("Stream ended", "headers", b.headersSeen.Load(), "bytes", b.bytesIn.Load())
				return nil
			}
			return fmt.Errorf("bridge: header read: %w", err)
		}

		header, err := audio.ParseHeader(hdrBuf[:])
		if err != nil {
			b.logger.Error("Stream desynchronised", "error", err)
			return ErrStreamDesync
		}
		b.headersSeen.Add(1)

		format := header.Format()
		b.logger.Info("Format header", "kind", header.Kind.String(), "format", format.String())
		if !b.hasFormat || !format.Equal(b.format) {
			events.Publish(b.bus, events.FormatChanged{
				Previous: b.format,
				Current:  format,
				First:    !b.hasFormat,
			})
		}

		// Every header reopens the transport; a same-format reopen
		// takes the transport's quick path.
		if err := b.out.Open(format); err != nil {
			return fmt.Errorf("bridge: open transport: %w", err)
		}
		b.format = format
		b.kind = header.Kind
		b.hasFormat = true
		b.pending = b.pending[:0]

		if err := b.burstFill(ctx); err != nil {
			return err
		}

		again, err := b.steadyState(ctx)
		if err != nil {
			return err
		}
		if !again {
			b.logger.Info("Stream ended", "headers", b.headersSeen.Load(), "bytes", b.bytesIn.Load())
			return nil
		}
	}
	return ctx.Err()
}

// burstFill pushes audio as fast as the pipe delivers until the
// transport reports prefill, so the prefill threshold cannot become an
// equilibrium trap where push rate equals pull rate. When the pipe
// stalls, bounded silence chunks keep the producer side moving.
func (b *Bridge) burstFill(ctx context.Context) error {
	deadline := time.Now().Add(burstFillTimeout)

	for !b.out.IsPrefillComplete() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			b.logger.Warn("Burst fill timed out before prefill")
			return nil
		}

		head, err := b.reader.PeekFor(4, burstReadTimeout)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// Pipe stalled: feed silence so the consumer cannot
				// stall the producer in a bounded-latency system.
				b.injectSilence()
				continue
			}
			return err
		}
		if [4]byte(head) == audio.Magic {
			return nil
		}

		chunk, err := b.reader.ReadUpToFor(readChunk, burstReadTimeout)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				b.injectSilence()
				continue
			}
			return fmt.Errorf("bridge: pipe read: %w", err)
		}

		if err := b.submit(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// steadyState pumps audio until the next header (true), EOF (false)
// or an error.
func (b *Bridge) steadyState(ctx context.Context) (bool, error) {
	for ctx.Err() == nil {
		magic, err := b.peekMagic()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, err
		}
		if magic {
			return true, nil
		}

		chunk, err := b.reader.ReadUpTo(readChunk)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, fmt.Errorf("bridge: pipe read: %w", err)
		}

		// Consumer-driven backpressure above the high-water mark.
		for b.out.BufferLevel() > highWaterMark && ctx.Err() == nil {
			b.out.WaitForSpace(spaceWaitTimeout)
		}

		if err := b.submit(ctx, chunk); err != nil {
			return false, err
		}
	}
	return false, ctx.Err()
}

// peekMagic reports whether the next four pipe bytes are a header.
func (b *Bridge) peekMagic() (bool, error) {
	head, err := b.reader.Peek(4)
	if err != nil {
		return false, err
	}
	return [4]byte(head) == audio.Magic, nil
}

// submit converts one pipe chunk as the current format requires and
// pushes it fully, honouring ring backpressure.
func (b *Bridge) submit(ctx context.Context, chunk []byte) error {
	b.bytesIn.Add(uint64(len(chunk)))

	// Whole wire frames only; the tail carries to the next chunk.
	b.pending = append(b.pending, chunk...)
	unit := b.wireFrameBytes()
	if b.kind == audio.KindDoP {
		// Two DoP frames make one 4-byte DSD group per channel; an odd
		// trailing frame waits in pending for its partner.
		unit *= 2
	}
	usable := len(b.pending) / unit * unit
	if usable == 0 {
		return nil
	}
	data := b.pending[:usable]

	var err error
	if b.format.IsDSD {
		err = b.sendDSD(ctx, data)
	} else {
		err = b.sendPCM(ctx, data)
	}

	tail := copy(b.pending, b.pending[usable:])
	b.pending = b.pending[:tail]
	return err
}

// wireFrameBytes is the size of one frame as it appears on the pipe.
func (b *Bridge) wireFrameBytes() int {
	if b.format.IsDSD {
		// Native DSD and DoP both ride in 32-bit containers.
		return 4 * b.format.Channels
	}
	if b.format.BitDepth == 16 {
		return 2 * b.format.Channels
	}
	return 4 * b.format.Channels
}

// sendPCM pushes interleaved PCM, retrying on backpressure.
func (b *Bridge) sendPCM(ctx context.Context, data []byte) error {
	frameBytes := b.wireFrameBytes()
	stall := time.Now()

	off := 0
	for off < len(data) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frames := (len(data) - off) / frameBytes
		if frames == 0 {
			break
		}
		n := b.out.SendAudio(data[off:], frames)
		if n == 0 {
			if time.Since(stall) > sendStallTimeout {
				b.logger.Warn("Transport gated, dropping chunk", "bytes", len(data)-off)
				return nil
			}
			b.out.WaitForSpace(spaceWaitTimeout)
			continue
		}
		stall = time.Now()
		off += n
	}
	return nil
}

// sendDSD unwraps the wire layout to planar DSD and pushes it,
// compacting the planar remainder on partial consumption.
func (b *Bridge) sendDSD(ctx context.Context, data []byte) error {
	channels := b.format.Channels

	if need := len(data); cap(b.planarA) < need {
		b.planarA = make([]byte, need)
		b.planarB = make([]byte, need)
	}

	var planar []byte
	if b.kind == audio.KindDoP {
		n := extractDoP(b.planarA[:cap(b.planarA)], data, channels)
		planar = b.planarA[:n]
	} else {
		n := deinterleaveDSDU32(b.planarA[:cap(b.planarA)], data, channels)
		planar = b.planarA[:n]
	}

	scratch := b.planarB
	stall := time.Now()
	for len(planar) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bits := len(planar) * 8 / channels
		n := b.out.SendAudio(planar, bits)
		if n == len(planar) {
			break
		}
		if n == 0 {
			if time.Since(stall) > sendStallTimeout {
				b.logger.Warn("Transport gated, dropping DSD chunk", "bytes", len(planar))
				return nil
			}
			b.out.WaitForSpace(spaceWaitTimeout)
			continue
		}
		stall = time.Now()
		next := compactPlanar(planar, n, channels, scratch[:cap(scratch)])
		scratch, planar = planar, next
	}
	return nil
}

// injectSilence feeds one silence chunk in the source domain while the
// pipe is stalled during burst fill.
func (b *Bridge) injectSilence() {
	b.silenceChunks.Add(1)

	fill := byte(0x00)
	if b.format.IsDSD {
		fill = 0x69
	}

	chunk := make([]byte, silenceChunkBytes)
	for i := range chunk {
		chunk[i] = fill
	}

	if b.format.IsDSD {
		bits := len(chunk) * 8 / b.format.Channels
		b.out.SendAudio(chunk, bits)
	} else {
		frames := len(chunk) / b.wireFrameBytes()
		b.out.SendAudio(chunk, frames)
	}
}

// Stats returns the bridge counters for the SIGUSR1 dump.
func (b *Bridge) Stats() (headers, bytesIn, silenceChunks uint64) {
	return b.headersSeen.Load(), b.bytesIn.Load(), b.silenceChunks.Load()
}
