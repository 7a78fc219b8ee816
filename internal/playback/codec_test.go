package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sonantic-labs/parley/pkg/audio"
)

func TestParseCodec(t *testing.T) {
	tests := []struct {
		name string
		want Codec
		ok   bool
	}{
		{"ogg-opus", CodecOggOpus, true},
		{"wav", CodecWAV, true},
		{"pcm16", CodecPCM16, true},
		{"mp3", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseCodec(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseCodec(%q) = %q %v, want %q %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSniffCodec(t *testing.T) {
	all := []Codec{CodecOggOpus, CodecWAV, CodecPCM16}
	tests := []struct {
		name        string
		head        []byte
		preferences []Codec
		want        Codec
		ok          bool
	}{
		{"ogg magic", []byte("OggSxxxx"), all, CodecOggOpus, true},
		{"riff magic", []byte("RIFFxxxx"), all, CodecWAV, true},
		{"no magic falls back to pcm", []byte{0x10, 0x20, 0x30, 0x40}, all, CodecPCM16, true},
		{"ogg not negotiated", []byte("OggSxxxx"), []Codec{CodecWAV}, CodecOggOpus, false},
		{"no magic without pcm", []byte{0x10, 0x20}, []Codec{CodecOggOpus, CodecWAV}, "", false},
		{"empty head with pcm", nil, all, CodecPCM16, true},
	}
	for _, tt := range tests {
		got, ok := sniffCodec(tt.head, tt.preferences)
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: sniffCodec() = %q %v, want %q %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

// oggPage builds a minimal Ogg page with the given lacing values and body.
func oggPage(lacing []byte, body []byte) []byte {
	page := make([]byte, 0, 27+len(lacing)+len(body))
	page = append(page, []byte("OggS")...)
	page = append(page, make([]byte, 22)...) // version, flags, granule, serial, seq, crc
	page = append(page, byte(len(lacing)))
	page = append(page, lacing...)
	page = append(page, body...)
	return page
}

func fedBuffer(data []byte) *streamBuffer {
	b := newStreamBuffer()
	go b.fill(bytes.NewReader(data))
	return b
}

func TestOggPacketSplitting(t *testing.T) {
	// One page holding two packets: 3 bytes, then 257 bytes (255+2 lacing).
	body := make([]byte, 3+257)
	for i := range body {
		body[i] = byte(i)
	}
	page := oggPage([]byte{3, 255, 2}, body)

	d := &oggOpusDecoder{buf: fedBuffer(page), stallTimeout: time.Second}

	first, err := d.nextPacket()
	if err != nil {
		t.Fatalf("nextPacket() error = %v", err)
	}
	if !bytes.Equal(first, body[:3]) {
		t.Errorf("first packet = %v, want %v", first, body[:3])
	}
	second, err := d.nextPacket()
	if err != nil {
		t.Fatalf("nextPacket() error = %v", err)
	}
	if !bytes.Equal(second, body[3:]) {
		t.Errorf("second packet length = %d, want 257", len(second))
	}
}

func TestOggPacketContinuedAcrossPages(t *testing.T) {
	// A 260-byte packet spanning two pages: lacing 255 on the first page
	// marks continuation, lacing 5 on the second terminates it.
	pkt := make([]byte, 260)
	for i := range pkt {
		pkt[i] = byte(255 - i%251)
	}
	data := append(oggPage([]byte{255}, pkt[:255]), oggPage([]byte{5}, pkt[255:])...)

	d := &oggOpusDecoder{buf: fedBuffer(data), stallTimeout: time.Second}
	got, err := d.nextPacket()
	if err != nil {
		t.Fatalf("nextPacket() error = %v", err)
	}
	if !bytes.Equal(got, pkt) {
		t.Errorf("continued packet length = %d, want 260", len(got))
	}
}

func TestOggBadCapturePattern(t *testing.T) {
	d := &oggOpusDecoder{buf: fedBuffer(bytes.Repeat([]byte("nope nope nope "), 4)), stallTimeout: time.Second}
	_, err := d.nextPacket()
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindDecode {
		t.Errorf("nextPacket() on garbage error = %v, want KindDecode", err)
	}
}

func TestOggCleanEOF(t *testing.T) {
	page := oggPage([]byte{2}, []byte{1, 2})
	d := &oggOpusDecoder{buf: fedBuffer(page), stallTimeout: time.Second}
	if _, err := d.nextPacket(); err != nil {
		t.Fatalf("nextPacket() error = %v", err)
	}
	if _, err := d.nextPacket(); err != io.EOF {
		t.Errorf("nextPacket() at end error = %v, want io.EOF", err)
	}
}

// buildWAV assembles a RIFF/WAVE byte stream with a 16-bit PCM data chunk.
func buildWAV(sampleRate, channels int, samples []int16) []byte {
	data := audio.Int16sToBytes(samples)
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func TestWAVDecoderMono(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 10)
	}
	d, err := newWAVDecoder(fedBuffer(buildWAV(8000, 1, samples)), time.Second)
	if err != nil {
		t.Fatalf("newWAVDecoder() error = %v", err)
	}

	pcm, rate, err := d.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame() error = %v", err)
	}
	if rate != 8000 {
		t.Errorf("rate = %d, want 8000", rate)
	}
	if got := audio.BytesToInt16s(pcm); len(got) != 100 || got[7] != 70 {
		t.Errorf("decoded %d samples, sample[7]=%d, want 100 and 70", len(got), got[7])
	}
	if _, _, err := d.NextFrame(); err != io.EOF {
		t.Errorf("NextFrame() at end error = %v, want io.EOF", err)
	}
}

func TestWAVDecoderStereoDownmix(t *testing.T) {
	// L/R pairs average into single mono samples.
	d, err := newWAVDecoder(fedBuffer(buildWAV(16000, 2, []int16{100, 300, -50, -150})), time.Second)
	if err != nil {
		t.Fatalf("newWAVDecoder() error = %v", err)
	}
	pcm, rate, err := d.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame() error = %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	got := audio.BytesToInt16s(pcm)
	if len(got) != 2 || got[0] != 200 || got[1] != -100 {
		t.Errorf("downmixed samples = %v, want [200 -100]", got)
	}
}

func TestWAVDecoderRejectsNonPCM16(t *testing.T) {
	wav := buildWAV(8000, 1, []int16{1, 2, 3})
	// Flip the bits-per-sample field in the fmt chunk to 8.
	wav[34] = 8
	_, err := newWAVDecoder(fedBuffer(wav), time.Second)
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindUnsupported {
		t.Errorf("newWAVDecoder() error = %v, want KindUnsupported", err)
	}
}

func TestWAVDecoderSkipsUnknownChunks(t *testing.T) {
	wav := buildWAV(8000, 1, []int16{42})
	// Splice a LIST chunk between fmt and data.
	var list bytes.Buffer
	list.WriteString("LIST")
	binary.Write(&list, binary.LittleEndian, uint32(6))
	list.Write([]byte("extra."))
	spliced := append(append(append([]byte{}, wav[:36]...), list.Bytes()...), wav[36:]...)

	d, err := newWAVDecoder(fedBuffer(spliced), time.Second)
	if err != nil {
		t.Fatalf("newWAVDecoder() error = %v", err)
	}
	pcm, _, err := d.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame() error = %v", err)
	}
	if got := audio.BytesToInt16s(pcm); len(got) != 1 || got[0] != 42 {
		t.Errorf("decoded = %v, want [42]", got)
	}
}

func TestPCMDecoder(t *testing.T) {
	samples := make([]int16, 1500)
	for i := range samples {
		samples[i] = int16(i)
	}
	d := &pcmDecoder{buf: fedBuffer(audio.Int16sToBytes(samples)), stallTimeout: time.Second, rate: 16000}

	var total int
	for {
		pcm, rate, err := d.NextFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextFrame() error = %v", err)
		}
		if rate != 16000 {
			t.Fatalf("rate = %d, want 16000", rate)
		}
		total += len(pcm) / 2
	}
	if total != 1500 {
		t.Errorf("decoded %d samples, want 1500", total)
	}
}
