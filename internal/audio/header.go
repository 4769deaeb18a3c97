package audio

import (
	"encoding/binary"
	"fmt"
)

// In-band format header injected by the patched squeezelite between
// tracks:
//   - Magic (4): "SQFH"
//   - Version (1): 0x01
//   - Channels (1)
//   - Bit depth (1): PCM 16/24/32, native DSD 1, DoP 24
//   - Stream kind (1): 0=PCM, 1=DoP, 2=DSD U32_LE, 3=DSD U32_BE
//   - Sample rate (4): uint32 little-endian, Hz
//   - Reserved (4): zero
//
// After a header the next byte starts on a frame boundary of the
// declared format; the pipe carries no other framing.

const (
	// HeaderSize is the wire size of the SQFH header.
	HeaderSize = 16
	// HeaderVersion is the only accepted header version.
	HeaderVersion = 1
)

// Magic are the four bytes that introduce a header.
var Magic = [4]byte{'S', 'Q', 'F', 'H'}

// StreamKind identifies how the payload after a header is encoded.
type StreamKind uint8

// Stream kinds carried in the header.
const (
	KindPCM StreamKind = iota
	KindDoP
	KindDSDU32LE
	KindDSDU32BE
)

func (k StreamKind) String() string {
	switch k {
	case KindPCM:
		return "pcm"
	case KindDoP:
		return "dop"
	case KindDSDU32LE:
		return "dsd_u32_le"
	case KindDSDU32BE:
		return "dsd_u32_be"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Header is a decoded SQFH header.
type Header struct {
	Version    uint8
	Channels   uint8
	BitDepth   uint8
	Kind       StreamKind
	SampleRate uint32
}

// ParseHeader decodes and validates a 16-byte header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header truncated: %d bytes", len(data))
	}
	if [4]byte(data[:4]) != Magic {
		return Header{}, fmt.Errorf("bad header magic %q", data[:4])
	}

	h := Header{
		Version:    data[4],
		Channels:   data[5],
		BitDepth:   data[6],
		Kind:       StreamKind(data[7]),
		SampleRate: binary.LittleEndian.Uint32(data[8:12]),
	}

	if h.Version != HeaderVersion {
		return Header{}, fmt.Errorf("unsupported header version %d", h.Version)
	}
	if h.Channels == 0 {
		return Header{}, fmt.Errorf("header has zero channels")
	}
	if h.Kind > KindDSDU32BE {
		return Header{}, fmt.Errorf("unknown stream kind %d", h.Kind)
	}
	if h.SampleRate == 0 {
		return Header{}, fmt.Errorf("header has zero sample rate")
	}
	if h.Kind == KindPCM {
		switch h.BitDepth {
		case 16, 24, 32:
		default:
			return Header{}, fmt.Errorf("unsupported PCM bit depth %d", h.BitDepth)
		}
	}

	return h, nil
}

// Encode renders the header in wire format.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[:4], Magic[:])
	buf[4] = h.Version
	buf[5] = h.Channels
	buf[6] = h.BitDepth
	buf[7] = uint8(h.Kind)
	binary.LittleEndian.PutUint32(buf[8:12], h.SampleRate)
	return buf
}

// Format derives the DAC-side track format. The header rate for native
// DSD counts 32-bit words per channel per second, so the 1-bit rate is
// 32x; DoP carries 16 DSD bits per PCM frame, so 16x. Both reach the
// target as MSB-first native DSD (the bridge unwraps DoP markers at
// send time).
func (h Header) Format() Format {
	switch h.Kind {
	case KindDoP:
		return Format{
			SampleRate: h.SampleRate * 16,
			BitDepth:   1,
			Channels:   int(h.Channels),
			IsDSD:      true,
			DSDLayout:  MSBFirst,
		}
	case KindDSDU32LE, KindDSDU32BE:
		return Format{
			SampleRate: h.SampleRate * 32,
			BitDepth:   1,
			Channels:   int(h.Channels),
			IsDSD:      true,
			DSDLayout:  MSBFirst,
		}
	default:
		return Format{
			SampleRate: h.SampleRate,
			BitDepth:   int(h.BitDepth),
			Channels:   int(h.Channels),
		}
	}
}
