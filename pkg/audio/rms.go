package audio

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square amplitude of a block of little-endian
// int16 PCM samples, normalised to [0.0, 1.0]. It is the loudness proxy fed
// to the voice activity detector on every analysis tick.
//
// Any trailing odd byte is ignored. An empty block yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:i*2+2]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// RMSInt16 is the int16-slice form of [RMS], for callers that already hold
// decoded samples.
func RMSInt16(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, v := range pcm {
		s := float64(v) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
