package recorder

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/sonantic-labs/parley/pkg/audio"
)

// OpusEncoder compresses mono PCM frames into Opus packets. It implements
// [Encoder].
//
// The encoder carries state between consecutive frames, so one instance
// belongs to one recording stream at a time.
type OpusEncoder struct {
	enc       *gopus.Encoder
	frameSize int
}

// NewOpusEncoder creates an Opus encoder for mono capture audio.
// frameSize is the number of samples per frame (e.g., 960 for 20 ms at
// 48 kHz); bitrate is in bits per second (e.g., 32000 for speech).
func NewOpusEncoder(sampleRate, frameSize, bitrate int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("recorder: create opus encoder: %w", err)
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}
	return &OpusEncoder{enc: enc, frameSize: frameSize}, nil
}

// Encode compresses one frame of little-endian int16 mono PCM into an Opus
// packet. The frame must contain exactly the configured number of samples.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	samples := audio.BytesToInt16s(pcm)
	if len(samples) != e.frameSize {
		return nil, fmt.Errorf("recorder: frame size mismatch: got %d samples, want %d", len(samples), e.frameSize)
	}
	packet, err := e.enc.Encode(samples, e.frameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("recorder: opus encode: %w", err)
	}
	return packet, nil
}
