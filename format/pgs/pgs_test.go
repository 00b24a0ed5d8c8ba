package pgs

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/go-remux/remux/pkg/ioutil"
)

// appendSegment writes one "PG"-magic-prefixed PGS segment, matching the
// wire shape r_pgssup.cpp's read() loop consumes.
func appendSegment(buf *bytes.Buffer, pts90k, dts90k uint32, segType byte, payload []byte) {
	var hdr [11]byte
	binary.BigEndian.PutUint16(hdr[0:2], fileMagic)
	binary.BigEndian.PutUint32(hdr[2:6], pts90k)
	binary.BigEndian.PutUint32(hdr[6:10], dts90k)
	hdr[10] = segType
	buf.Write(hdr[:])
	var sz [2]byte
	binary.BigEndian.PutUint16(sz[:], uint16(len(payload)))
	buf.Write(sz[:])
	buf.Write(payload)
}

func TestReadFrameSingleSegmentDisplaySet(t *testing.T) {
	var buf bytes.Buffer
	appendSegment(&buf, 900000, 900000, segmentTypeEnd, []byte{0xAA, 0xBB})

	src := ioutil.NewFileSource(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	r := NewReader(src)

	pkt, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !pkt.IsKeyFrame {
		t.Errorf("PGS frames should always be keyframes")
	}
	wantTS := ninetyKHzToNanos(900000)
	if pkt.Time != wantTS {
		t.Errorf("Time = %v, want %v", pkt.Time, wantTS)
	}
	wantData := []byte{segmentTypeEnd, 0x00, 0x02, 0xAA, 0xBB}
	if !bytes.Equal(pkt.Data, wantData) {
		t.Errorf("Data = %x, want %x", pkt.Data, wantData)
	}
}

func TestReadFrameMultiSegmentDisplaySet(t *testing.T) {
	var buf bytes.Buffer
	appendSegment(&buf, 90000, 90000, 0x14, []byte{0x01}) // PDS
	appendSegment(&buf, 90000, 90000, 0x15, []byte{0x02}) // ODS
	appendSegment(&buf, 90000, 90000, segmentTypeEnd, nil)

	src := ioutil.NewFileSource(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	r := NewReader(src)

	pkt, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	// Three segments, each a 3-byte re-framed header plus payload: 4 + 4 + 3.
	wantLen := 4 + 4 + 3
	if len(pkt.Data) != wantLen {
		t.Fatalf("Data length = %d, want %d", len(pkt.Data), wantLen)
	}
}

func TestReadFrameEOFAtCleanBoundary(t *testing.T) {
	var buf bytes.Buffer
	appendSegment(&buf, 0, 0, segmentTypeEnd, nil)
	src := ioutil.NewFileSource(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	r := NewReader(src)

	if _, err := r.ReadFrame(); err != nil {
		t.Fatalf("first ReadFrame: %v", err)
	}
	if _, err := r.ReadFrame(); err != io.EOF {
		t.Fatalf("second ReadFrame error = %v, want io.EOF", err)
	}
}
