package avi_test

import (
	"bytes"
	"testing"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/format/avi"
	"github.com/go-remux/remux/pkg/ioutil"
	"github.com/go-remux/remux/pkg/remuxopts"
)

// memWriteSeeker is a minimal in-memory io.WriteSeeker, used to build
// fixture AVI files without touching the filesystem.
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

// fakeH264 is a trivial av.VideoCodecData + av.ExtraDataProvider stand-in
// for a real format/avc.CodecData, enough to exercise Writer's video
// format-chunk path without depending on that package.
type fakeH264 struct{ w, h int }

func (f fakeH264) Type() av.CodecType { return av.H264 }
func (f fakeH264) Width() int         { return f.w }
func (f fakeH264) Height() int        { return f.h }
func (f fakeH264) ExtraData() []byte  { return []byte{0x01, 0x64, 0x00, 0x1f, 0xff} }

// buildFixture writes a tiny three-frame single-video-stream AVI using
// Writer, then returns the backing bytes.
func buildFixture(t *testing.T, frames [][]byte, keyframes []bool) []byte {
	t.Helper()
	ws := &memWriteSeeker{}
	w := avi.NewWriter(ws)
	cd := fakeH264{w: 320, h: 240}
	if err := w.WriteHeader([]av.CodecData{cd}); err != nil {
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

func openFixture(t *testing.T, buf []byte) *avi.Reader {
	t.Helper()
	src := ioutil.NewFileSource(bytes.NewReader(buf), int64(len(buf)))
	r, err := avi.NewReader(src, remuxopts.Default())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

func TestRoundTripThreeFrames(t *testing.T) {
	frames := [][]byte{
		bytes.Repeat([]byte{0xAA}, 100),
		bytes.Repeat([]byte{0xBB}, 80),
		bytes.Repeat([]byte{0xCC}, 90),
	}
	keyframes := []bool{true, false, false}

	buf := buildFixture(t, frames, keyframes)
	r := openFixture(t, buf)

	if len(r.Streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(r.Streams))
	}
	s := r.Streams[0]
	if s.FrameCount != int64(len(frames)) {
		t.Fatalf("FrameCount = %d, want %d", s.FrameCount, len(frames))
	}

	for i, want := range frames {
		res, err := r.Read(0, int64(i), 0)
		if err != nil {
			t.Fatalf("Read(%d): %v", i, err)
		}
		if !bytes.Equal(res.Data, want) {
			t.Fatalf("frame %d payload mismatch: got %d bytes, want %d", i, len(res.Data), len(want))
		}
		if got := s.IsKeyframe(i); got != keyframes[i] {
			t.Fatalf("IsKeyframe(%d) = %v, want %v", i, got, keyframes[i])
		}
	}
}

func TestKeyframeNavigation(t *testing.T) {
	frames := [][]byte{
		bytes.Repeat([]byte{0x01}, 10),
		bytes.Repeat([]byte{0x02}, 10),
		bytes.Repeat([]byte{0x03}, 10),
		bytes.Repeat([]byte{0x04}, 10),
		bytes.Repeat([]byte{0x05}, 10),
	}
	keyframes := []bool{true, false, false, true, false}
	buf := buildFixture(t, frames, keyframes)
	r := openFixture(t, buf)
	s := r.Streams[0]

	if got := s.PrevKeyframe(2); got != 0 {
		t.Errorf("PrevKeyframe(2) = %d, want 0", got)
	}
	if got := s.NextKeyframe(2); got != 3 {
		t.Errorf("NextKeyframe(2) = %d, want 3", got)
	}
	if got := s.NearestKeyframe(2); got != 3 {
		t.Errorf("NearestKeyframe(2) = %d, want 3 (next keyframe is closer)", got)
	}
	if got := s.NearestKeyframe(1); got != 0 {
		t.Errorf("NearestKeyframe(1) = %d, want 0", got)
	}
}

func TestAppendFileAcceptsCompatibleStream(t *testing.T) {
	buf1 := buildFixture(t, [][]byte{bytes.Repeat([]byte{1}, 10)}, []bool{true})
	buf2 := buildFixture(t, [][]byte{bytes.Repeat([]byte{2}, 10)}, []bool{true})

	r := openFixture(t, buf1)
	beforeFrames := r.Streams[0].FrameCount

	src2 := ioutil.NewFileSource(bytes.NewReader(buf2), int64(len(buf2)))
	if err := r.AppendFile(src2); err != nil {
		t.Fatalf("AppendFile of a compatible single-stream fixture should succeed: %v", err)
	}
	if got := r.Streams[0].FrameCount; got != beforeFrames+1 {
		t.Fatalf("FrameCount after append = %d, want %d", got, beforeFrames+1)
	}
}

func TestFileIsDamagedFalseOnCleanFixture(t *testing.T) {
	buf := buildFixture(t, [][]byte{bytes.Repeat([]byte{1}, 10)}, []bool{true})
	r := openFixture(t, buf)
	if r.FileIsDamaged() {
		t.Errorf("clean fixture reported as damaged")
	}
}
