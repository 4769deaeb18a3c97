package diretta

import "time"

// ipv6Overhead is the per-packet header cost on the wire: 40 bytes
// IPv6 plus 8 bytes UDP.
const ipv6Overhead = 48

// Cycle time clamps.
const (
	minCycleTime = 100 * time.Microsecond
	maxCycleTime = 50 * time.Millisecond
)

// cycleCalculator derives the transfer cycle period from the measured
// MTU so each cycle carries one MTU-sized payload.
type cycleCalculator struct {
	mtu          uint32
	efficientMTU int
}

func newCycleCalculator(mtu uint32) *cycleCalculator {
	return &cycleCalculator{
		mtu:          mtu,
		efficientMTU: int(mtu) - ipv6Overhead,
	}
}

// calculate returns the cycle period for a stream of the given rate,
// channel count and bits per sample.
func (c *cycleCalculator) calculate(sampleRate uint32, channels, bitsPerSample int) time.Duration {
	bytesPerSecond := float64(sampleRate) * float64(channels) * float64(bitsPerSample) / 8.0
	if bytesPerSecond <= 0 {
		return maxCycleTime
	}
	cycle := time.Duration(float64(c.efficientMTU) / bytesPerSecond * float64(time.Second))
	if cycle < minCycleTime {
		return minCycleTime
	}
	if cycle > maxCycleTime {
		return maxCycleTime
	}
	return cycle
}
