package playback

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"layeh.com/gopus"

	"github.com/sonantic-labs/parley/pkg/audio"
)

// Codec identifies an audio container/encoding the playback controller can
// render.
type Codec string

const (
	// CodecOggOpus is Opus packets in an Ogg container.
	CodecOggOpus Codec = "ogg-opus"

	// CodecWAV is 16-bit PCM in a RIFF/WAVE container.
	CodecWAV Codec = "wav"

	// CodecPCM16 is headerless little-endian int16 mono PCM at the
	// controller's configured sample rate.
	CodecPCM16 Codec = "pcm16"
)

// ParseCodec returns the Codec for name, or false when the name is not a
// codec this build can decode.
func ParseCodec(name string) (Codec, bool) {
	switch Codec(name) {
	case CodecOggOpus, CodecWAV, CodecPCM16:
		return Codec(name), true
	}
	return "", false
}

// sniffLen is the number of leading bytes needed to identify a container.
const sniffLen = 4

// sniffCodec identifies the payload container from its magic bytes. A
// payload with no recognised magic is treated as raw PCM when pcm16 appears
// in the preference list, otherwise as unsupported.
func sniffCodec(head []byte, preferences []Codec) (Codec, bool) {
	if len(head) >= 4 {
		switch {
		case string(head[:4]) == "OggS":
			return CodecOggOpus, codecAllowed(CodecOggOpus, preferences)
		case string(head[:4]) == "RIFF":
			return CodecWAV, codecAllowed(CodecWAV, preferences)
		}
	}
	if codecAllowed(CodecPCM16, preferences) {
		return CodecPCM16, true
	}
	return "", false
}

func codecAllowed(c Codec, preferences []Codec) bool {
	for _, p := range preferences {
		if p == c {
			return true
		}
	}
	return false
}

// decoder pulls frames of mono little-endian int16 PCM out of a
// streamBuffer. NextFrame returns io.EOF at end of stream, errStalled when
// the source dries up mid-stream, or a decode error.
type decoder interface {
	// NextFrame returns one block of mono PCM and its native sample rate.
	NextFrame() (pcm []byte, sampleRate int, err error)
}

// newDecoder constructs the decoder for codec over buf.
func newDecoder(codec Codec, buf *streamBuffer, stallTimeout time.Duration, pcmRate int) (decoder, error) {
	switch codec {
	case CodecOggOpus:
		return newOggOpusDecoder(buf, stallTimeout)
	case CodecWAV:
		return newWAVDecoder(buf, stallTimeout)
	case CodecPCM16:
		return &pcmDecoder{buf: buf, stallTimeout: stallTimeout, rate: pcmRate}, nil
	default:
		return nil, fmt.Errorf("playback: no decoder for codec %q", codec)
	}
}

// ─── Ogg / Opus ──────────────────────────────────────────────────────────────

// opusDecodeRate is the rate Opus is decoded at regardless of the encoded
// input rate; libopus resamples internally.
const opusDecodeRate = 48000

// maxOpusFrameSamples is the largest Opus frame (120 ms at 48 kHz).
const maxOpusFrameSamples = 5760

// oggOpusDecoder demuxes Opus packets out of Ogg pages and decodes them to
// mono 48 kHz PCM. Only the minimal subset of the Ogg framing spec needed
// for a single logical Opus stream is implemented.
type oggOpusDecoder struct {
	buf          *streamBuffer
	stallTimeout time.Duration
	dec          *gopus.Decoder

	// packets not yet decoded, from the last parsed page.
	pending [][]byte

	// partial holds a packet continued onto the next page.
	partial []byte

	headerPackets int
}

func newOggOpusDecoder(buf *streamBuffer, stallTimeout time.Duration) (*oggOpusDecoder, error) {
	dec, err := gopus.NewDecoder(opusDecodeRate, 1)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Err: fmt.Errorf("create opus decoder: %w", err)}
	}
	return &oggOpusDecoder{buf: buf, stallTimeout: stallTimeout, dec: dec}, nil
}

func (d *oggOpusDecoder) NextFrame() ([]byte, int, error) {
	for {
		pkt, err := d.nextPacket()
		if err != nil {
			return nil, 0, err
		}
		// The first two packets of an Ogg Opus stream are the OpusHead and
		// OpusTags headers, not audio.
		if d.headerPackets < 2 {
			d.headerPackets++
			continue
		}
		pcm, err := d.dec.Decode(pkt, maxOpusFrameSamples, false)
		if err != nil {
			return nil, 0, &Error{Kind: KindDecode, Err: fmt.Errorf("opus decode: %w", err)}
		}
		return audio.Int16sToBytes(pcm), opusDecodeRate, nil
	}
}

// nextPacket returns the next complete Opus packet, parsing further Ogg
// pages as needed.
func (d *oggOpusDecoder) nextPacket() ([]byte, error) {
	for len(d.pending) == 0 {
		if err := d.parsePage(); err != nil {
			return nil, err
		}
	}
	pkt := d.pending[0]
	d.pending = d.pending[1:]
	return pkt, nil
}

// parsePage reads one Ogg page and appends its completed packets to pending.
func (d *oggOpusDecoder) parsePage() error {
	// Fixed 27-byte page header.
	header := make([]byte, 27)
	if _, err := d.buf.ReadFull(header, d.stallTimeout); err != nil {
		if err == io.EOF && len(d.partial) > 0 {
			return &Error{Kind: KindDecode, Err: fmt.Errorf("truncated ogg stream: %d bytes of unterminated packet", len(d.partial))}
		}
		return err
	}
	if string(header[:4]) != "OggS" {
		return &Error{Kind: KindDecode, Err: fmt.Errorf("bad ogg capture pattern %q", header[:4])}
	}
	if header[4] != 0 {
		return &Error{Kind: KindDecode, Err: fmt.Errorf("unsupported ogg version %d", header[4])}
	}

	segments := int(header[26])
	lacing := make([]byte, segments)
	if _, err := d.buf.ReadFull(lacing, d.stallTimeout); err != nil {
		return err
	}

	var bodyLen int
	for _, l := range lacing {
		bodyLen += int(l)
	}
	body := make([]byte, bodyLen)
	if _, err := d.buf.ReadFull(body, d.stallTimeout); err != nil {
		return err
	}

	// Split the body into packets using the lacing values. A lacing value
	// of 255 means the packet continues into the next segment (or page).
	off := 0
	for _, l := range lacing {
		d.partial = append(d.partial, body[off:off+int(l)]...)
		off += int(l)
		if l < 255 {
			pkt := d.partial
			d.partial = nil
			d.pending = append(d.pending, pkt)
		}
	}
	return nil
}

// ─── WAV ─────────────────────────────────────────────────────────────────────

// wavFrameSamples is the number of samples per channel returned per
// NextFrame call (20 ms of audio at the file's rate would vary; a fixed
// sample count keeps frame pacing independent of the source rate).
const wavFrameSamples = 960

// wavDecoder parses a RIFF/WAVE header and streams its 16-bit PCM data
// chunk, down-mixing stereo to mono.
type wavDecoder struct {
	buf          *streamBuffer
	stallTimeout time.Duration

	sampleRate int
	channels   int
	remaining  int
}

func newWAVDecoder(buf *streamBuffer, stallTimeout time.Duration) (*wavDecoder, error) {
	d := &wavDecoder{buf: buf, stallTimeout: stallTimeout}
	if err := d.parseHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *wavDecoder) parseHeader() error {
	riff := make([]byte, 12)
	if _, err := d.buf.ReadFull(riff, d.stallTimeout); err != nil {
		return err
	}
	if string(riff[:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return &Error{Kind: KindUnsupported, Err: fmt.Errorf("not a RIFF/WAVE stream")}
	}

	// Walk chunks until the data chunk. The fmt chunk must come first.
	for {
		chunkHeader := make([]byte, 8)
		if _, err := d.buf.ReadFull(chunkHeader, d.stallTimeout); err != nil {
			return err
		}
		id := string(chunkHeader[:4])
		size := int(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch id {
		case "fmt ":
			fmtChunk := make([]byte, size)
			if _, err := d.buf.ReadFull(fmtChunk, d.stallTimeout); err != nil {
				return err
			}
			if len(fmtChunk) < 16 {
				return &Error{Kind: KindDecode, Err: fmt.Errorf("fmt chunk too short: %d bytes", size)}
			}
			format := binary.LittleEndian.Uint16(fmtChunk[0:2])
			d.channels = int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
			d.sampleRate = int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
			bits := binary.LittleEndian.Uint16(fmtChunk[14:16])
			if format != 1 || bits != 16 {
				return &Error{Kind: KindUnsupported, Err: fmt.Errorf("unsupported wav encoding: format=%d bits=%d", format, bits)}
			}
			if d.channels < 1 || d.channels > 2 {
				return &Error{Kind: KindUnsupported, Err: fmt.Errorf("unsupported wav channel count %d", d.channels)}
			}
		case "data":
			if d.sampleRate == 0 {
				return &Error{Kind: KindDecode, Err: fmt.Errorf("wav data chunk before fmt chunk")}
			}
			d.remaining = size
			return nil
		default:
			if err := d.buf.Skip(size, d.stallTimeout); err != nil {
				return err
			}
		}
	}
}

func (d *wavDecoder) NextFrame() ([]byte, int, error) {
	if d.remaining <= 0 {
		return nil, 0, io.EOF
	}
	want := wavFrameSamples * 2 * d.channels
	if want > d.remaining {
		want = d.remaining
	}
	block := make([]byte, want)
	n, err := d.buf.ReadFull(block, d.stallTimeout)
	d.remaining -= n
	if err != nil && n == 0 {
		return nil, 0, err
	}
	block = block[:n]
	if d.channels == 2 {
		block = audio.StereoToMono(block)
	}
	return block, d.sampleRate, nil
}

// ─── Raw PCM ─────────────────────────────────────────────────────────────────

// pcmDecoder streams headerless mono int16 PCM at a fixed, configured rate.
type pcmDecoder struct {
	buf          *streamBuffer
	stallTimeout time.Duration
	rate         int
}

func (d *pcmDecoder) NextFrame() ([]byte, int, error) {
	block := make([]byte, wavFrameSamples*2)
	n, err := d.buf.ReadFull(block, d.stallTimeout)
	if err != nil && n == 0 {
		return nil, 0, err
	}
	// Drop a trailing odd byte rather than emitting a torn sample.
	n -= n % 2
	if n == 0 {
		return nil, 0, io.EOF
	}
	return block[:n], d.rate, nil
}
