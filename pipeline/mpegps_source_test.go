package pipeline_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/format/mpegps"
	"github.com/go-remux/remux/pipeline"
	"github.com/go-remux/remux/pkg/ioutil"
	"github.com/go-remux/remux/pkg/remuxopts"
)

func psEncodePTS90k(guardBits byte, v int64) []byte {
	b := make([]byte, 5)
	b[0] = guardBits | byte((v>>29)&0x0E) | 0x01
	b[1] = byte(v >> 22)
	b[2] = byte((v>>14)&0xFE) | 0x01
	b[3] = byte(v >> 7)
	b[4] = byte((v<<1)&0xFE) | 0x01
	return b
}

func appendPSPackHeader(buf *bytes.Buffer) {
	buf.Write([]byte{0x00, 0x00, 0x01, 0xBA})
	buf.WriteByte(0x44) // MPEG-2 marker bits '01'
	buf.Write(make([]byte, 8))
}

func appendPSVideoPES(buf *bytes.Buffer, pts int64, payload []byte) {
	ptsField := psEncodePTS90k(0x20, pts)
	hdr := []byte{0x80, 0x80, byte(len(ptsField))}
	body := append(append([]byte{}, hdr...), ptsField...)
	body = append(body, payload...)
	buf.Write([]byte{0x00, 0x00, 0x01, 0xE0})
	buf.WriteByte(byte(len(body) >> 8))
	buf.WriteByte(byte(len(body)))
	buf.Write(body)
}

// buildMPEGPSVideoStream builds a one-pack program stream whose single
// video PES carries a sequence_header and two picture_start_codes; the
// second picture_start_code closes the first access unit.
func buildMPEGPSVideoStream(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	appendPSPackHeader(&buf)

	// sequence_header (0xB3) with minimal test fields, followed by a
	// picture_start_code (0x00) that opens the first access unit.
	seqHeader := []byte{
		0x00, 0x00, 0x01, 0xB3,
		0x00, 0x10, 0x00, 0x0F, // horizontal_size 1, vertical_size 0, aspect 0, frame_rate_code 15
		0x13, 0xFF, 0xFF, 0xE0, 0x28,
	}
	pic1 := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x08, 0x00, 0x00} // picture_start_code, temporal_ref=0, I frame
	pic2 := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x08, 0x00, 0x01} // second picture, closes the first access unit

	payload := append(append([]byte{}, seqHeader...), pic1...)
	payload = append(payload, pic2...)

	appendPSVideoPES(&buf, 90000, payload)
	buf.Write([]byte{0x00, 0x00, 0x01, 0xB9}) // program end code
	return buf.Bytes()
}

// TestMPEGPSSourceFramesVideoTrack exercises NewMPEGPSSource with a
// single MPEG-2 video track: Tracks() reports the codec sniffed during
// probing, and draining yields at least the first framed access unit
// with its sequence_header parsed into the track's codec state.
func TestMPEGPSSourceFramesVideoTrack(t *testing.T) {
	data := buildMPEGPSVideoStream(t)
	src := ioutil.NewFileSource(bytes.NewReader(data), int64(len(data)))
	r, err := mpegps.NewReader(src, remuxopts.Default())
	if err != nil {
		t.Fatalf("mpegps.NewReader: %v", err)
	}
	if len(r.Tracks) != 1 {
		t.Fatalf("want 1 track, got %d", len(r.Tracks))
	}

	psSrc := pipeline.NewMPEGPSSource(r, remuxopts.Default())
	tracks := psSrc.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("want 1 track descriptor, got %d", len(tracks))
	}
	if got := tracks[0].Codec.Type(); got != av.MPEG2Video {
		t.Fatalf("track codec = %v, want MPEG2Video", got)
	}

	session := pipeline.NewSession(psSrc, remuxopts.Default())
	got, err := pipeline.Drain(session)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) == 0 {
		t.Fatalf("expected at least one framed access unit")
	}
	if !got[0].IsKeyFrame {
		t.Errorf("first access unit should be the I frame")
	}
	if got[0].TrackIndex != 0 {
		t.Errorf("TrackIndex = %d, want 0", got[0].TrackIndex)
	}

	// Tracks() again after draining should reflect the sequence_header
	// the framer parsed while feeding chunks.
	after := psSrc.Tracks()
	vcd, ok := after[0].Codec.(av.VideoCodecData)
	if !ok {
		t.Fatalf("track codec does not implement av.VideoCodecData after framing")
	}
	_ = vcd.Width() // dimensions come from the synthetic header; just confirm no panic

	if _, err := psSrc.ReadPacket(); err != io.EOF {
		t.Fatalf("ReadPacket after drain = %v, want io.EOF", err)
	}
}
