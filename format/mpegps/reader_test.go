package mpegps

import (
	"bytes"
	"testing"

	"github.com/go-remux/remux/pkg/ioutil"
	"github.com/go-remux/remux/pkg/remuxopts"
)

// encodePTS90k is the inverse of pts90k, used only to build test fixtures.
func encodePTS90k(guardBits byte, v int64) []byte {
	b := make([]byte, 5)
	b[0] = guardBits | byte((v>>29)&0x0E) | 0x01
	b[1] = byte(v >> 22)
	b[2] = byte((v>>14)&0xFE) | 0x01
	b[3] = byte(v >> 7)
	b[4] = byte((v<<1)&0xFE) | 0x01
	return b
}

func appendPackHeader(buf *bytes.Buffer) {
	buf.Write([]byte{0x00, 0x00, 0x01, 0xBA})
	buf.WriteByte(0x44) // MPEG-2 marker bits '01'
	buf.Write(make([]byte, 8))
}

func appendVideoPES(buf *bytes.Buffer, pts int64, payload []byte) {
	ptsField := encodePTS90k(0x20, pts) // '0010' guard for PTS-only
	hdr := []byte{0x80, 0x80, byte(len(ptsField))}
	body := append(append([]byte{}, hdr...), ptsField...)
	body = append(body, payload...)
	buf.Write([]byte{0x00, 0x00, 0x01, 0xE0})
	buf.WriteByte(byte(len(body) >> 8))
	buf.WriteByte(byte(len(body)))
	buf.Write(body)
}

func appendPrivateStream1(buf *bytes.Buffer, subID byte, payload []byte) {
	hdr := []byte{0x80, 0x00, 0x00} // no PTS/DTS
	body := append(append([]byte{}, hdr...), subID)
	body = append(body, payload...)
	buf.Write([]byte{0x00, 0x00, 0x01, 0xBD})
	buf.WriteByte(byte(len(body) >> 8))
	buf.WriteByte(byte(len(body)))
	buf.Write(body)
}

// TestReaderVideoAndTwoAudioTracks exercises spec.md §8 scenario 3: an
// MPEG PS with a video stream (0xE0) and two private-stream-1 AC-3
// sub-streams (0x80, 0x81).
func TestReaderVideoAndTwoAudioTracks(t *testing.T) {
	var buf bytes.Buffer
	appendPackHeader(&buf)

	videoPayload := []byte{0x00, 0x00, 0x01, 0xB3, 0x01, 0x02, 0x03, 0x04}
	appendVideoPES(&buf, 90000, videoPayload)

	ac3Payload := make([]byte, 3+16) // 3-byte audio header + frame bytes
	appendPrivateStream1(&buf, 0x80, ac3Payload)
	appendPrivateStream1(&buf, 0x81, ac3Payload)

	buf.Write([]byte{0x00, 0x00, 0x01, 0xB9}) // program end code

	src := ioutil.NewFileSource(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	r, err := NewReader(src, remuxopts.Default())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	if len(r.Tracks) != 3 {
		t.Fatalf("want 3 tracks, got %d", len(r.Tracks))
	}
	if r.Tracks[0].Codec != MPG2 {
		t.Errorf("track 0 codec = %v, want MPG2", r.Tracks[0].Codec)
	}
	for _, id := range []ID{{StreamID: 0xBD, SubID: 0x80}, {StreamID: 0xBD, SubID: 0x81}} {
		tr, ok := r.byID[id]
		if !ok {
			t.Fatalf("missing track %+v", id)
		}
		if tr.Codec != AC3 {
			t.Errorf("track %+v codec = %v, want AC3", id, tr.Codec)
		}
	}

	var chunks []Chunk
	for {
		c, err := r.ReadChunk()
		if err != nil {
			break
		}
		chunks = append(chunks, c)
	}
	if len(chunks) != 3 {
		t.Fatalf("want 3 chunks, got %d", len(chunks))
	}
	if !chunks[0].HasPTS {
		t.Errorf("first chunk expected a PTS")
	}
	if chunks[0].PTS != 0 {
		t.Errorf("first chunk PTS should normalize to 0, got %v", chunks[0].PTS)
	}
	if len(chunks[0].Data) != len(videoPayload) {
		t.Errorf("video payload length = %d, want %d", len(chunks[0].Data), len(videoPayload))
	}
	if len(chunks[1].Data) != 16 || len(chunks[2].Data) != 16 {
		t.Errorf("audio payload lengths = %d, %d, want 16, 16", len(chunks[1].Data), len(chunks[2].Data))
	}
}

func TestClassifySubStream(t *testing.T) {
	cases := []struct {
		b     byte
		codec CodecTag
		skip  int
	}{
		{0x80, AC3, 3},
		{0x88, DTS, 3},
		{0xA0, PCM, 3},
		{0xB0, TRHD, 4},
		{0x10, CodecUnknown, 0},
	}
	for _, c := range cases {
		codec, skip := classifySubStream(c.b)
		if codec != c.codec || skip != c.skip {
			t.Errorf("classifySubStream(%#x) = (%v, %d), want (%v, %d)", c.b, codec, skip, c.codec, c.skip)
		}
	}
}

func TestPTS90kRoundTrip(t *testing.T) {
	want := int64(123456789) & 0x1FFFFFFFF
	enc := encodePTS90k(0x20, want)
	got, err := pts90k(enc)
	if err != nil {
		t.Fatalf("pts90k: %v", err)
	}
	if got != want {
		t.Errorf("pts90k round-trip = %d, want %d", got, want)
	}
}
