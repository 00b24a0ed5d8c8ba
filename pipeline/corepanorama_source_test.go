package pipeline_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/format/corepanorama"
	"github.com/go-remux/remux/pipeline"
)

type memReadCloser struct{ *bytes.Reader }

func (memReadCloser) Close() error { return nil }

// TestCorePanoramaSourceResolvesPicturesInOrder exercises
// NewCorePanoramaSource end to end against an in-memory URL resolver,
// confirming delivery order matches ascending presentation time and
// that each packet's payload carries the resolved image bytes.
func TestCorePanoramaSourceResolvesPicturesInOrder(t *testing.T) {
	const xmlDoc = `<?xml version="1.0"?>
<CorePanorama>
  <Info width="800" height="400"/>
  <Picture time="00:00:02.000" type="jpeg" url="b.jpg"/>
  <Picture time="00:00:00.000" type="png" url="a.png"/>
</CorePanorama>`

	r, err := corepanorama.NewReader(strings.NewReader(xmlDoc))
	if err != nil {
		t.Fatalf("corepanorama.NewReader: %v", err)
	}

	images := map[string][]byte{
		"a.png": bytes.Repeat([]byte{0x01}, 8),
		"b.jpg": bytes.Repeat([]byte{0x02}, 16),
	}
	open := func(url string) (io.ReadCloser, error) {
		data, ok := images[url]
		if !ok {
			t.Fatalf("unexpected url %q", url)
		}
		return memReadCloser{bytes.NewReader(data)}, nil
	}

	src := pipeline.NewCorePanoramaSource(r, open)
	tracks := src.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("want 1 track, got %d", len(tracks))
	}
	if tracks[0].Codec.Type() != av.CorePanorama {
		t.Fatalf("track codec = %v, want CorePanorama", tracks[0].Codec.Type())
	}
	vcd := tracks[0].Codec.(av.VideoCodecData)
	if vcd.Width() != 800 || vcd.Height() != 400 {
		t.Fatalf("dimensions = %dx%d, want 800x400", vcd.Width(), vcd.Height())
	}

	first, err := src.ReadPacket()
	if err != nil {
		t.Fatalf("first ReadPacket: %v", err)
	}
	if !bytes.Contains(first.Data, images["a.png"]) {
		t.Errorf("first packet should embed a.png's bytes")
	}

	second, err := src.ReadPacket()
	if err != nil {
		t.Fatalf("second ReadPacket: %v", err)
	}
	if !bytes.Contains(second.Data, images["b.jpg"]) {
		t.Errorf("second packet should embed b.jpg's bytes")
	}

	if _, err := src.ReadPacket(); err != io.EOF {
		t.Fatalf("third ReadPacket error = %v, want io.EOF", err)
	}
}
