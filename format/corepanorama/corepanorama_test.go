package corepanorama

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"
)

const sampleXML = `<?xml version="1.0"?>
<CorePanorama>
  <Info width="800" height="600"/>
  <Picture time="00:00:02.000" end="00:00:04.000" type="jpeg" panorama="flat" url="b.jpg"/>
  <Picture time="00:00:00.000" type="png" panorama="spherical" url="a.png"/>
</CorePanorama>`

func TestProbeAcceptsCorePanoramaRoot(t *testing.T) {
	if !Probe(strings.NewReader(sampleXML)) {
		t.Fatal("Probe should accept a CorePanorama root element")
	}
}

func TestProbeRejectsOtherRoot(t *testing.T) {
	if Probe(strings.NewReader(`<NotCorePanorama/>`)) {
		t.Fatal("Probe should reject a non-CorePanorama root element")
	}
}

func TestNewReaderSortsAndDecodesAttributes(t *testing.T) {
	r, err := NewReader(strings.NewReader(sampleXML))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.Codec.Width() != 800 || r.Codec.Height() != 600 {
		t.Fatalf("Info dims = %dx%d, want 800x600", r.Codec.Width(), r.Codec.Height())
	}
	if len(r.Pictures) != 2 {
		t.Fatalf("len(Pictures) = %d, want 2", len(r.Pictures))
	}
	// Sorted ascending by time: a.png (t=0) before b.jpg (t=2s).
	if r.Pictures[0].URL != "a.png" || r.Pictures[1].URL != "b.jpg" {
		t.Fatalf("pictures not sorted by time: %+v", r.Pictures)
	}
	if r.Pictures[1].Panorama != PanoramaFlat {
		t.Errorf("b.jpg panorama = %v, want PanoramaFlat", r.Pictures[1].Panorama)
	}
	if !r.Pictures[1].HasEnd || r.Pictures[1].EndTime <= r.Pictures[1].Time {
		t.Errorf("b.jpg should have an end time after its start time")
	}
	extra := r.Codec.ExtraData()
	if len(extra) != 5 {
		t.Fatalf("ExtraData length = %d, want 5", len(extra))
	}
	codecsUsed := binary.BigEndian.Uint32(extra[1:5])
	if codecsUsed&codecUsedJPEG == 0 || codecsUsed&codecUsedPNG == 0 {
		t.Errorf("codecsUsed = %#x, want both JPEG and PNG bits set", codecsUsed)
	}
}

func TestReadPictureFramesImageBytes(t *testing.T) {
	r, err := NewReader(strings.NewReader(sampleXML))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	files := map[string][]byte{
		"a.png": {0x89, 0x50, 0x4E, 0x47},
		"b.jpg": {0xFF, 0xD8, 0xFF},
	}
	open := func(url string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(files[url])), nil
	}

	pkt, err := r.ReadPicture(open)
	if err != nil {
		t.Fatalf("ReadPicture(1): %v", err)
	}
	if !pkt.IsKeyFrame {
		t.Error("CorePanorama pictures should always be keyframes")
	}
	if !bytes.Equal(pkt.Data[7:], files["a.png"]) {
		t.Errorf("image payload = %x, want %x", pkt.Data[7:], files["a.png"])
	}
	if binary.BigEndian.Uint16(pkt.Data[0:2]) != 7 {
		t.Errorf("header length field should always be 7")
	}

	if _, err := r.ReadPicture(open); err != nil {
		t.Fatalf("ReadPicture(2): %v", err)
	}
	if !r.Done() {
		t.Fatal("Done() should be true after delivering every picture")
	}
	if _, err := r.ReadPicture(open); err != io.EOF {
		t.Fatalf("ReadPicture(3) error = %v, want io.EOF", err)
	}
}

func TestParseTimecodeFormats(t *testing.T) {
	cases := map[string]float64{
		"5":            5,
		"5.5":          5.5,
		"01:02":        62,
		"00:01:02.500": 62.5,
	}
	for s, wantSeconds := range cases {
		d, err := parseTimecode(s)
		if err != nil {
			t.Fatalf("parseTimecode(%q): %v", s, err)
		}
		if got := d.Seconds(); got != wantSeconds {
			t.Errorf("parseTimecode(%q) = %v, want %v seconds", s, got, wantSeconds)
		}
	}
}
