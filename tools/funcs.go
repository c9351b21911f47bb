package tools

import (
	"encoding/binary"
	"time"
)

// FrameSamples returns how many interleaved samples one frame of the given
// duration holds.
func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// PCMBytes converts 16-bit PCM samples to their little-endian byte layout.
func PCMBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
