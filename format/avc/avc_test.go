package avc

import (
	"testing"
	"time"

	"github.com/go-remux/remux/pkg/remuxopts"
)

// bitWriter is a minimal MSB-first bit writer used only to build NALU
// test fixtures; production code never writes bitstreams at this
// granularity (output is byte-aligned length-prefixed NALUs).
type bitWriter struct {
	bytes []byte
	cur   byte
	nbits int
}

func (w *bitWriter) putBit(b uint32) {
	w.cur = (w.cur << 1) | byte(b&1)
	w.nbits++
	if w.nbits == 8 {
		w.bytes = append(w.bytes, w.cur)
		w.cur = 0
		w.nbits = 0
	}
}

func (w *bitWriter) putBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.putBit((v >> uint(i)) & 1)
	}
}

func (w *bitWriter) putUE(v uint32) {
	v++
	nbits := 0
	for t := v; t > 1; t >>= 1 {
		nbits++
	}
	for i := 0; i < nbits; i++ {
		w.putBit(0)
	}
	w.putBits(v, nbits+1)
}

func (w *bitWriter) bytesPadded() []byte {
	if w.nbits > 0 {
		w.cur <<= uint(8 - w.nbits)
		w.bytes = append(w.bytes, w.cur)
		w.cur = 0
		w.nbits = 0
	}
	return w.bytes
}

// buildBaselineSPS returns a minimal baseline-profile SPS NALU (header
// byte included) for a width x height stream, both multiples of 16, no
// cropping and no VUI.
func buildBaselineSPS(width, height int) []byte {
	w := &bitWriter{}
	w.putBits(0x67, 8) // NALU header: ref_idc=3, type=7 (SPS)
	w.putBits(66, 8)   // profile_idc: Baseline
	w.putBits(0, 8)    // constraint flags + reserved
	w.putBits(30, 8)   // level_idc
	w.putUE(0)         // seq_parameter_set_id
	w.putUE(0)         // log2_max_frame_num_minus4
	w.putUE(0)         // pic_order_cnt_type
	w.putUE(0)         // log2_max_pic_order_cnt_lsb_minus4
	w.putUE(1)         // max_num_ref_frames
	w.putBit(0)        // gaps_in_frame_num_value_allowed_flag
	w.putUE(uint32(width/16 - 1))
	w.putUE(uint32(height/16 - 1))
	w.putBit(1) // frame_mbs_only_flag
	w.putBit(1) // direct_8x8_inference_flag
	w.putBit(0) // frame_cropping_flag
	w.putBit(0) // vui_parameters_present_flag
	return w.bytesPadded()
}

func buildPPS() []byte {
	w := &bitWriter{}
	w.putBits(0x68, 8) // NALU header: ref_idc=3, type=8 (PPS)
	w.putUE(0)         // pic_parameter_set_id
	w.putUE(0)         // seq_parameter_set_id
	w.putBit(0)        // entropy_coding_mode_flag
	w.putBit(0)        // pic_order_present_flag
	return w.bytesPadded()
}

// buildIDRSlice returns a minimal IDR slice NALU consistent with a
// frame_num-width-4 / pic_order_cnt_lsb-width-4 SPS from buildBaselineSPS.
func buildIDRSlice(frameNum uint32) []byte {
	w := &bitWriter{}
	w.putBits(0x65, 8) // NALU header: ref_idc=3, type=5 (IDR slice)
	w.putUE(0)         // first_mb_in_slice
	w.putUE(7)         // slice_type: I
	w.putUE(0)         // pic_parameter_set_id
	w.putBits(frameNum, 4)
	w.putUE(0)  // idr_pic_id
	w.putBits(0, 4) // pic_order_cnt_lsb
	w.putBits(0xFF, 8) // filler slice-data bytes, never parsed
	return w.bytesPadded()
}

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestParseSPSDimensions(t *testing.T) {
	sps, err := ParseSPS(buildBaselineSPS(176, 144))
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if sps.Width != 176 || sps.Height != 144 {
		t.Errorf("dimensions = %dx%d, want 176x144", sps.Width, sps.Height)
	}
	if sps.Profile != 66 {
		t.Errorf("profile = %d, want 66", sps.Profile)
	}
}

func TestParsePPSFields(t *testing.T) {
	pps, err := ParsePPS(buildPPS())
	if err != nil {
		t.Fatalf("ParsePPS: %v", err)
	}
	if pps.ID != 0 || pps.SPSID != 0 {
		t.Errorf("pps ids = %d,%d, want 0,0", pps.ID, pps.SPSID)
	}
	if pps.PicOrderPresent {
		t.Errorf("pic_order_present = true, want false")
	}
}

// TestParserDropsFramesBeforeKeyframe exercises spec.md §4.6's "at least
// one keyframe must precede any non-keyframe delivered" invariant: a
// stream whose first access unit isn't an IDR yields no packets for
// those frames, with the drop recorded.
func TestParserDropsFramesBeforeKeyframe(t *testing.T) {
	p := NewParser(remuxopts.Default(), 40*time.Millisecond)

	sps := buildBaselineSPS(176, 144)
	pps := buildPPS()
	nonIDR := buildIDRSlice(0)
	nonIDR[0] = 0x41 // rewrite to nal_unit_type=1 (non-IDR slice)

	pkts, err := p.Feed(annexB(sps, pps, nonIDR))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	idr := buildIDRSlice(1)
	pkts2, err := p.Feed(annexB(idr))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	pkts = append(pkts, pkts2...)
	if final, err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	} else if final != nil {
		pkts = append(pkts, *final)
	}

	if len(pkts) != 1 {
		t.Fatalf("want 1 emitted packet, got %d", len(pkts))
	}
	if !pkts[0].IsKeyFrame {
		t.Errorf("emitted packet should be the keyframe")
	}
	if p.DroppedBeforeKeyframe() != 1 {
		t.Errorf("DroppedBeforeKeyframe() = %d, want 1", p.DroppedBeforeKeyframe())
	}
}

func TestParserEmitsAVCCOnFirstKeyframe(t *testing.T) {
	p := NewParser(remuxopts.Default(), 40*time.Millisecond)
	sps := buildBaselineSPS(320, 240)
	pps := buildPPS()
	idr := buildIDRSlice(0)

	pkts, err := p.Feed(annexB(sps, pps, idr))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	final, err := p.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if final != nil {
		pkts = append(pkts, *final)
	}
	if len(pkts) != 1 {
		t.Fatalf("want 1 packet, got %d", len(pkts))
	}
	if len(pkts[0].CodecState) == 0 {
		t.Fatalf("first keyframe should carry an avcC codec-state blob")
	}
	if pkts[0].CodecState[0] != 1 {
		t.Errorf("avcC configurationVersion = %d, want 1", pkts[0].CodecState[0])
	}

	codec, ok := p.Codec()
	if !ok {
		t.Fatalf("Codec() not ready after first keyframe")
	}
	if codec.Width() != 320 || codec.Height() != 240 {
		t.Errorf("codec dimensions = %dx%d, want 320x240", codec.Width(), codec.Height())
	}
}

func TestAVCDecoderConfRecordRoundTrip(t *testing.T) {
	sps := buildBaselineSPS(176, 144)
	pps := buildPPS()
	rec := NewCodecDataFromSPSAndPPS(sps, pps, 4)

	buf := make([]byte, rec.Len())
	n := rec.Marshal(buf)
	if n != len(buf) {
		t.Fatalf("Marshal wrote %d bytes, Len() said %d", n, len(buf))
	}

	var got AVCDecoderConfRecord
	if _, err := got.Unmarshal(buf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.AVCProfileIndication != rec.AVCProfileIndication {
		t.Errorf("profile = %d, want %d", got.AVCProfileIndication, rec.AVCProfileIndication)
	}
	if len(got.SPS) != 1 || len(got.PPS) != 1 {
		t.Fatalf("SPS/PPS counts = %d/%d, want 1/1", len(got.SPS), len(got.PPS))
	}
}

func TestSameAccessUnitFrameNumChange(t *testing.T) {
	a := &sliceHeader{frameNum: 0}
	b := &sliceHeader{frameNum: 1}
	if sameAccessUnit(a, b) {
		t.Errorf("differing frame_num should start a new access unit")
	}
	c := &sliceHeader{frameNum: 0}
	if !sameAccessUnit(a, c) {
		t.Errorf("identical slice headers should belong to the same access unit")
	}
}
