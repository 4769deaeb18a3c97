package diretta

import "github.com/smazurov/direttanode/internal/audio"

// FormatFlags is the SDK's wire format selector: a bitfield combining
// base rate, rate multiplier, PCM width or DSD orientation, and
// channel count.
type FormatFlags uint32

// Base rate family.
const (
	Rate44100 FormatFlags = 1 << 0
	Rate48000 FormatFlags = 1 << 1
)

// Rate multipliers. MP1..MP16 apply to PCM, MP64..MP1024 to DSD.
const (
	MP1 FormatFlags = 1 << (2 + iota)
	MP2
	MP4
	MP8
	MP16
	MP64
	MP128
	MP256
	MP512
	MP1024
)

// PCM sample widths.
const (
	PCMSigned16 FormatFlags = 1 << (12 + iota)
	PCMSigned24
	PCMSigned32
)

// Channel counts.
const (
	Cha1 FormatFlags = 1 << (15 + iota)
	Cha2
	Cha4
	Cha6
	Cha8
)

// DSD selection and orientation.
const (
	DSD1      FormatFlags = 1 << (20 + iota) // 1-bit DSD
	DSDSiz32                                 // 32-bit word container
	DSDLSB                                   // LSB-first bit order
	DSDMSB                                   // MSB-first bit order
	DSDBig                                   // big-endian words
	DSDLittle                                // little-endian words
)

func channelFlag(channels int) FormatFlags {
	switch channels {
	case 1:
		return Cha1
	case 4:
		return Cha4
	case 6:
		return Cha6
	case 8:
		return Cha8
	default:
		return Cha2
	}
}

func rateFlags(sampleRate uint32, dsd bool) FormatFlags {
	var base FormatFlags
	var multiplier uint32
	switch {
	case sampleRate%44100 == 0:
		base = Rate44100
		multiplier = sampleRate / 44100
	case sampleRate%48000 == 0:
		base = Rate48000
		multiplier = sampleRate / 48000
	default:
		return Rate44100 | MP1
	}

	if dsd {
		// DSD multipliers are relative to 64fs.
		switch {
		case multiplier >= 1024:
			return base | MP1024
		case multiplier >= 512:
			return base | MP512
		case multiplier >= 256:
			return base | MP256
		case multiplier >= 128:
			return base | MP128
		default:
			return base | MP64
		}
	}

	switch {
	case multiplier >= 16:
		return base | MP16
	case multiplier >= 8:
		return base | MP8
	case multiplier >= 4:
		return base | MP4
	case multiplier >= 2:
		return base | MP2
	default:
		return base | MP1
	}
}

// PCMFlags builds the selector for a PCM stream.
func PCMFlags(sampleRate uint32, bits, channels int) FormatFlags {
	var width FormatFlags
	switch bits {
	case 16:
		width = PCMSigned16
	case 24:
		width = PCMSigned24
	default:
		width = PCMSigned32
	}
	return rateFlags(sampleRate, false) | width | channelFlag(channels)
}

// DSDFlags builds the selector for a native DSD stream in 32-bit
// words with the given target bit order and endianness.
func DSDFlags(bitRate uint32, channels int, lsb, little bool) FormatFlags {
	f := DSD1 | DSDSiz32 | rateFlags(bitRate, true) | channelFlag(channels)
	if lsb {
		f |= DSDLSB
	} else {
		f |= DSDMSB
	}
	if little {
		f |= DSDLittle
	} else {
		f |= DSDBig
	}
	return f
}

// dsdVariant is one probe candidate for sink DSD negotiation.
type dsdVariant struct {
	lsb    bool
	little bool
}

// dsdProbeOrder is the preference order for DSD sink negotiation:
// big-endian first (no byte swap), LSB before MSB.
var dsdProbeOrder = []dsdVariant{
	{lsb: true, little: false},
	{lsb: false, little: false},
	{lsb: true, little: true},
	{lsb: false, little: true},
}

// conversionFor derives the ring's DSD transform from the source bit
// order and the negotiated target variant: bit reversal whenever the
// orders differ, byte swap for little-endian targets.
func (v dsdVariant) conversionFor(layout audio.DSDLayout) (reverse, swap bool) {
	sourceLSB := layout == audio.LSBFirst
	reverse = sourceLSB != v.lsb
	swap = v.little
	return reverse, swap
}
