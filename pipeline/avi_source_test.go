package pipeline_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/format/avi"
	"github.com/go-remux/remux/pipeline"
	"github.com/go-remux/remux/pkg/ioutil"
	"github.com/go-remux/remux/pkg/remuxopts"
)

type memWriteSeeker struct {
	buf []byte
	pos int64
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case 0:
		newPos = offset
	case 1:
		newPos = m.pos + offset
	case 2:
		newPos = int64(len(m.buf)) + offset
	}
	m.pos = newPos
	return newPos, nil
}

type fakeH264 struct{ w, h int }

func (f fakeH264) Type() av.CodecType { return av.H264 }
func (f fakeH264) Width() int         { return f.w }
func (f fakeH264) Height() int        { return f.h }
func (f fakeH264) ExtraData() []byte  { return []byte{0x01, 0x64, 0x00, 0x1f, 0xff} }

func buildAVIFixture(t *testing.T, frames [][]byte, keyframes []bool) []byte {
	t.Helper()
	ws := &memWriteSeeker{}
	w := avi.NewWriter(ws)
	if err := w.WriteHeader([]av.CodecData{fakeH264{w: 320, h: 240}}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	for i, data := range frames {
		pkt := av.Packet{Idx: 0, Data: data, IsKeyFrame: keyframes[i]}
		if err := w.WritePacket(pkt); err != nil {
			t.Fatalf("WritePacket(%d): %v", i, err)
		}
	}
	if err := w.WriteTrailer(); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}
	return ws.buf
}

// TestAVISourceDrainsInFileOrderWithCodecClassification exercises
// NewAVISource end to end: Tracks() reports an H264-classified video
// track from the BITMAPINFOHEADER compression FourCC, and ReadPacket replays every frame in
// on-disk order with its keyframe flag intact.
func TestAVISourceDrainsInFileOrderWithCodecClassification(t *testing.T) {
	frames := [][]byte{
		bytes.Repeat([]byte{0xAA}, 50),
		bytes.Repeat([]byte{0xBB}, 40),
		bytes.Repeat([]byte{0xCC}, 60),
	}
	keyframes := []bool{true, false, false}
	buf := buildAVIFixture(t, frames, keyframes)

	src := ioutil.NewFileSource(bytes.NewReader(buf), int64(len(buf)))
	r, err := avi.NewReader(src, remuxopts.Default())
	if err != nil {
		t.Fatalf("avi.NewReader: %v", err)
	}

	aviSrc := pipeline.NewAVISource(r)
	tracks := aviSrc.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("want 1 track, got %d", len(tracks))
	}
	if tracks[0].Codec.Type() != av.H264 {
		t.Fatalf("track codec = %v, want H264", tracks[0].Codec.Type())
	}
	vcd, ok := tracks[0].Codec.(av.VideoCodecData)
	if !ok {
		t.Fatalf("track codec does not implement av.VideoCodecData")
	}
	if vcd.Width() != 320 || vcd.Height() != 240 {
		t.Fatalf("dimensions = %dx%d, want 320x240", vcd.Width(), vcd.Height())
	}

	session := pipeline.NewSession(aviSrc, remuxopts.Default())
	got, err := pipeline.Drain(session)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != len(frames) {
		t.Fatalf("got %d packets, want %d", len(got), len(frames))
	}
	for i, pkt := range got {
		if !bytes.Equal(pkt.Data, frames[i]) {
			t.Errorf("packet %d payload mismatch", i)
		}
		if pkt.IsKeyFrame != keyframes[i] {
			t.Errorf("packet %d keyframe = %v, want %v", i, pkt.IsKeyFrame, keyframes[i])
		}
		if pkt.TrackIndex != 0 {
			t.Errorf("packet %d track index = %d, want 0", i, pkt.TrackIndex)
		}
	}
	if session.FileIsDamaged() {
		t.Errorf("clean fixture reported as damaged")
	}
}

// TestAVISourceReadPacketEOF confirms ReadPacket signals io.EOF once
// every frame has been delivered, without erroring on a second call.
func TestAVISourceReadPacketEOF(t *testing.T) {
	buf := buildAVIFixture(t, [][]byte{bytes.Repeat([]byte{1}, 10)}, []bool{true})
	src := ioutil.NewFileSource(bytes.NewReader(buf), int64(len(buf)))
	r, err := avi.NewReader(src, remuxopts.Default())
	if err != nil {
		t.Fatalf("avi.NewReader: %v", err)
	}
	aviSrc := pipeline.NewAVISource(r)
	if _, err := aviSrc.ReadPacket(); err != nil {
		t.Fatalf("first ReadPacket: %v", err)
	}
	if _, err := aviSrc.ReadPacket(); err != io.EOF {
		t.Fatalf("second ReadPacket error = %v, want io.EOF", err)
	}
}
