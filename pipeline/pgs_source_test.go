package pipeline_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/format/pgs"
	"github.com/go-remux/remux/pipeline"
	"github.com/go-remux/remux/pkg/ioutil"
	"github.com/go-remux/remux/pkg/remuxopts"
)

func appendPGSSegment(buf *bytes.Buffer, pts90k uint32, segType byte, payload []byte) {
	var hdr [11]byte
	binary.BigEndian.PutUint16(hdr[0:2], 0x5047)
	binary.BigEndian.PutUint32(hdr[2:6], pts90k)
	hdr[10] = segType
	buf.Write(hdr[:])
	var sz [2]byte
	binary.BigEndian.PutUint16(sz[:], uint16(len(payload)))
	buf.Write(sz[:])
	buf.Write(payload)
}

// TestPGSSourceSingleTrackDrain exercises NewPGSSource end to end: one
// subtitle track, packets delivered until io.EOF.
func TestPGSSourceSingleTrackDrain(t *testing.T) {
	var buf bytes.Buffer
	appendPGSSegment(&buf, 90000, 0x80, []byte{0x01, 0x02})
	appendPGSSegment(&buf, 180000, 0x80, []byte{0x03})

	src := ioutil.NewFileSource(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	r := pgs.NewReader(src)
	pgsSrc := pipeline.NewPGSSource(r)

	tracks := pgsSrc.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("want 1 track, got %d", len(tracks))
	}
	if tracks[0].Codec.Type() != av.PGS {
		t.Fatalf("track codec = %v, want PGS", tracks[0].Codec.Type())
	}

	session := pipeline.NewSession(pgsSrc, remuxopts.Default())
	got, err := pipeline.Drain(session)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d packets, want 2", len(got))
	}
	for _, pkt := range got {
		if !pkt.IsKeyFrame {
			t.Errorf("PGS packet should always be a keyframe")
		}
	}

	if _, err := pgsSrc.ReadPacket(); err != io.EOF {
		t.Fatalf("ReadPacket after drain = %v, want io.EOF", err)
	}
}
