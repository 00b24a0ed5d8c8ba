package pipeline_test

import (
	"io"
	"testing"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/pipeline"
	"github.com/go-remux/remux/pkg/remuxopts"
)

// fakeReader is a minimal pipeline.Reader stand-in, enough to exercise
// Session/Drain without depending on any concrete format package.
type fakeReader struct {
	tracks  []pipeline.TrackInfo
	packets []pipeline.Packet
	pos     int
	damaged bool
}

func (f *fakeReader) Tracks() []pipeline.TrackInfo { return f.tracks }

func (f *fakeReader) ReadPacket() (pipeline.Packet, error) {
	if f.pos >= len(f.packets) {
		return pipeline.Packet{}, io.EOF
	}
	pkt := f.packets[f.pos]
	f.pos++
	return pkt, nil
}

func (f *fakeReader) Damaged() bool { return f.damaged }

type fakeCodec struct{ t av.CodecType }

func (c fakeCodec) Type() av.CodecType { return c.t }

func TestSessionDrainReturnsPacketsInOrder(t *testing.T) {
	r := &fakeReader{
		tracks: []pipeline.TrackInfo{{Index: 0, Codec: fakeCodec{av.H264}}},
		packets: []pipeline.Packet{
			{TrackIndex: 0, Packet: av.Packet{Data: []byte("a")}},
			{TrackIndex: 0, Packet: av.Packet{Data: []byte("b")}},
		},
	}
	s := pipeline.NewSession(r, remuxopts.Default())

	if len(s.Tracks()) != 1 {
		t.Fatalf("want 1 track, got %d", len(s.Tracks()))
	}

	got, err := pipeline.Drain(s)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d packets, want 2", len(got))
	}
	if string(got[0].Data) != "a" || string(got[1].Data) != "b" {
		t.Errorf("packets out of order: %q, %q", got[0].Data, got[1].Data)
	}
}

func TestSessionFileIsDamagedReflectsUnderlyingReader(t *testing.T) {
	r := &fakeReader{damaged: true}
	s := pipeline.NewSession(r, remuxopts.Default())
	if !s.FileIsDamaged() {
		t.Errorf("FileIsDamaged() = false, want true")
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	s1 := pipeline.NewSession(&fakeReader{}, remuxopts.Default())
	s2 := pipeline.NewSession(&fakeReader{}, remuxopts.Default())
	if s1.ID == s2.ID {
		t.Errorf("two sessions got the same id: %v", s1.ID)
	}
}
