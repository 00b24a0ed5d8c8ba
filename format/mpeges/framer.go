package mpeges

import (
	"bytes"
	"time"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/internal/remuxlog"
	"github.com/go-remux/remux/pkg/remuxopts"
	"github.com/go-remux/remux/pkg/startcode"
)

// halfTick is the atomic fabricated-timestamp unit spec.md §4.5
// describes as "half-frame ticks": half of one nominal frame period.
// Most pictures advance the display clock by 2 half-ticks (one frame),
// but progressive-sequence repeat_first_field pulldown stretches that to
// 4 or 6, and field pictures advance by only 1; see pictureDuration.
type halfTick time.Duration

// accessUnit is one decode-order coded picture.
type accessUnit struct {
	data       []byte
	coding     PictureCodingType
	codecState []byte // leading sequence/GOP header bytes, when this unit carries one not yet deduplicated away
}

// CodecData describes the video track once its first sequence_header has
// been seen (spec.md §3 "MPEG-1/2 track descriptor").
type CodecData struct {
	mpeg2          bool
	seq            *SequenceHeader
}

func (c *CodecData) Type() av.CodecType {
	if c.mpeg2 {
		return av.MPEG2Video
	}
	return av.MPEG1Video
}
func (c *CodecData) Width() int       { return c.seq.Width }
func (c *CodecData) Height() int      { return c.seq.Height }
func (c *CodecData) ExtraData() []byte { return c.seq.Raw }

var (
	_ av.VideoCodecData   = (*CodecData)(nil)
	_ av.ExtraDataProvider = (*CodecData)(nil)
)

// Framer turns a byte stream (fed in arbitrary-sized chunks, e.g. from
// mpegps.Reader.ReadChunk) into framed av.Packet access units (spec.md
// §4.5 "Frame boundary detection"). It is the MPEG-1/2 analogue of
// format/avc's NALU-based access-unit assembler.
type Framer struct {
	opts remuxopts.Options

	buf []byte // unterminated bytes of the current access unit, always starting at a boundary start code

	Codec *CodecData

	sawFirstI bool

	frameDuration halfTick
	displayTick   int64 // running half-tick counter, in display order

	heldRef     *accessUnit
	heldRefTick int64
	pendingB    []*accessUnit

	lastEmittedSeq []byte // most recent sequence_header bytes already attached to an emitted access unit

	droppedBeforeFirstI int
}

// NewFramer returns an MPEG-1/2 elementary-stream framer.
func NewFramer(opts remuxopts.Options) *Framer {
	return &Framer{opts: opts}
}

// Feed appends data to the framer and returns every access unit it can
// now fully bound, in emission (display) order.
func (f *Framer) Feed(data []byte) ([]av.Packet, error) {
	f.buf = append(f.buf, data...)
	var out []av.Packet

	for {
		idx := f.nextBoundary(1)
		if idx < 0 {
			break
		}
		au := f.buf[:idx]
		if err := f.completeUnit(au, &out); err != nil {
			return out, err
		}
		f.buf = f.buf[idx:]
	}
	return out, nil
}

// nextBoundary finds the start code at or after byte offset from within
// f.buf that closes the current access unit: the first
// sequence_header/group_start/picture_start code after the unit's own
// picture_start_code. It returns -1 if none is present yet.
func (f *Framer) nextBoundary(from int) int {
	sawPicture := len(f.buf) > 3 && f.buf[0] == 0 && f.buf[1] == 0 && f.buf[2] == 1 && f.buf[3] == startcode.PictureStartCode
	pos := from
	for {
		idx := startcode.Find(f.buf, pos)
		if idx < 0 || idx+3 >= len(f.buf) {
			return -1
		}
		id := f.buf[idx+3]
		if id == startcode.SequenceHeaderCode || id == startcode.GroupStartCode || id == startcode.PictureStartCode {
			if sawPicture {
				return idx
			}
			if id == startcode.PictureStartCode {
				sawPicture = true
			}
		}
		pos = idx + 3
	}
}

// completeUnit classifies one fully-bounded run of bytes (from one
// boundary start code up to, but not including, the next) as an access
// unit and advances the reorder state machine. raw may carry a leading
// sequence_header and/or group_start_code section ahead of the actual
// picture_start_code; both are parsed in place without disturbing raw's
// byte layout.
func (f *Framer) completeUnit(raw []byte, out *[]av.Packet) error {
	offsets := startcode.FindAll(raw)
	picOffset := -1
	seqOffset := -1
	for _, o := range offsets {
		if o+3 >= len(raw) {
			continue
		}
		switch raw[o+3] {
		case startcode.SequenceHeaderCode:
			seqOffset = o
		case startcode.PictureStartCode:
			picOffset = o
		}
		if picOffset >= 0 {
			break
		}
	}
	if picOffset < 0 {
		// A sequence/GOP header with no picture yet in this run: nothing
		// to complete. Any real sequence_header is always followed by a
		// picture before the stream ends, so this is just transient
		// chunk-boundary state that the next completeUnit call resolves.
		return nil
	}
	if seqOffset >= 0 {
		seq, err := parseSequenceHeader(raw[seqOffset+4 : picOffset])
		if err != nil {
			return err
		}
		mpeg2 := hasExtensionStartCode(raw[seqOffset:picOffset])
		if mpeg2 {
			if body := extensionBody(raw[seqOffset:picOffset]); body != nil {
				if progressive, ok := parseSequenceExtension(body); ok {
					seq.ProgressiveSequence = progressive
				}
			}
		}
		if f.Codec == nil {
			f.Codec = &CodecData{seq: seq, mpeg2: mpeg2}
		} else {
			f.Codec.seq = seq
			f.Codec.mpeg2 = mpeg2
		}
		remuxlog.Logger().Debug("sequence_header parsed", "width", seq.Width, "height", seq.Height)
	}

	coding, err := parsePictureHeader(raw[picOffset+4:])
	if err != nil {
		return err
	}

	f.frameDuration = f.pictureDuration(raw[picOffset:])

	// With UseCodecState, a leading sequence/GOP header is stripped from
	// the emitted access unit (it's already available via Codec's
	// ExtraData) rather than repeated inline on every I frame.
	au := &accessUnit{data: raw, coding: coding}
	if seqOffset >= 0 {
		candidate := append([]byte(nil), raw[seqOffset:picOffset]...)
		if f.lastEmittedSeq == nil || !bytes.Equal(candidate, f.lastEmittedSeq) {
			au.codecState = candidate
			f.lastEmittedSeq = candidate
		} else if f.opts.UseCodecState {
			// Same sequence_header as last time: the codec-state side
			// channel already has it, so strip the inline copy.
			au.data = raw[picOffset:]
		}
	}

	if !coding.IsReference() && coding != PictureB {
		return nil
	}

	switch coding {
	case PictureI, PictureP:
		if coding == PictureI {
			f.sawFirstI = true
		}
		if !f.sawFirstI {
			f.droppedBeforeFirstI++
			return nil
		}
		f.flushGroup(out)
		f.heldRef = au
	case PictureB:
		if !f.sawFirstI {
			f.droppedBeforeFirstI++
			return nil
		}
		if f.heldRef == nil {
			// A B frame with no preceding reference in this session: drop,
			// matching the "P/B before first I" rule's intent.
			f.droppedBeforeFirstI++
			return nil
		}
		f.pendingB = append(f.pendingB, au)
	}
	return nil
}

// flushGroup resolves and emits every pending B frame followed by the
// previously held reference frame, now that the next reference (or EOF)
// has fixed their display order (spec.md §4.5 "B-frame reordering").
func (f *Framer) flushGroup(out *[]av.Packet) {
	if f.heldRef == nil {
		return
	}
	numB := int64(len(f.pendingB))
	refTick := f.displayTick + numB*int64(f.frameDuration)

	prevRefTick := f.heldRefTick
	for i, b := range f.pendingB {
		tick := f.displayTick + int64(i)*int64(f.frameDuration)
		pkt := f.packetFor(b, tick)
		back := f.tickDuration(tick - prevRefTick)
		fwd := f.tickDuration(refTick - tick)
		pkt.BackRef = &back
		pkt.ForwardRef = &fwd
		*out = append(*out, pkt)
	}

	pkt := f.packetFor(f.heldRef, refTick)
	pkt.IsKeyFrame = f.heldRef.coding == PictureI
	if !pkt.IsKeyFrame {
		back := f.tickDuration(refTick - prevRefTick)
		pkt.BackRef = &back
	}
	*out = append(*out, pkt)

	f.displayTick = refTick + int64(f.frameDuration)
	f.heldRefTick = refTick
	f.pendingB = nil
}

// Close flushes any buffered reference/B frames at end of stream.
func (f *Framer) Close() []av.Packet {
	var out []av.Packet
	f.flushGroup(&out)
	return out
}

func (f *Framer) packetFor(au *accessUnit, tick int64) av.Packet {
	return av.Packet{
		IsKeyFrame: au.coding == PictureI,
		Time:       f.tickDuration(tick),
		Duration:   f.tickDuration(int64(f.frameDuration)),
		Data:       au.data,
		CodecState: au.codecState,
	}
}

// tickDuration converts a half-tick count to a time.Duration given the
// framer's current frame rate; defaults to 25fps if no sequence_header
// has been seen yet.
func (f *Framer) tickDuration(ticks int64) time.Duration {
	num, den := 25, 1
	if f.Codec != nil && f.Codec.seq != nil {
		num, den = f.Codec.seq.FrameRateNum, f.Codec.seq.FrameRateDen
	}
	// one full frame = 2 half-ticks = den/num seconds
	return time.Duration(ticks) * time.Second * time.Duration(den) / (2 * time.Duration(num))
}

// DroppedBeforeFirstI reports how many P/B access units were discarded
// before the first I frame (spec.md §4.5 edge case).
func (f *Framer) DroppedBeforeFirstI() int { return f.droppedBeforeFirstI }

// hasExtensionStartCode reports whether b contains a
// sequence_extension (ISO/IEC 13818-2 §6.2.2.1), which only ever follows
// an MPEG-2 sequence_header; its absence means MPEG-1.
func hasExtensionStartCode(b []byte) bool {
	for _, o := range startcode.FindAll(b) {
		if o+3 < len(b) && b[o+3] == startcode.ExtensionStartCode {
			return true
		}
	}
	return false
}

// extensionBody returns the bytes immediately following the first
// extension_start_code in b, or nil if b carries none.
func extensionBody(b []byte) []byte {
	for _, o := range startcode.FindAll(b) {
		if o+3 < len(b) && b[o+3] == startcode.ExtensionStartCode && o+4 <= len(b) {
			return b[o+4:]
		}
	}
	return nil
}

// pictureDuration computes the half-tick display duration of the
// picture starting at raw's picture_start_code, per spec.md §4.5's
// half-frame-tick table (ISO/IEC 13818-2 §6.3.10/Table 7-8 pulldown and
// field-picture rules):
//
//   - progressive_sequence: 2 half-ticks, or 4 if top_field_first is
//     clear and repeat_first_field is set, or 6 if both are set (2:3
//     pulldown stretch).
//   - interlaced sequence, frame picture: 3 half-ticks if
//     progressive_frame and repeat_first_field are both set, else 2.
//   - interlaced sequence, field picture: 1 half-tick.
//
// Streams with no picture_coding_extension (plain MPEG-1, or a
// truncated picture) default to 2.
func (f *Framer) pictureDuration(raw []byte) halfTick {
	if f.Codec == nil || f.Codec.seq == nil {
		return 2
	}
	pce, ok := parsePictureCodingExtension(raw)
	if !ok {
		return 2
	}
	if f.Codec.seq.ProgressiveSequence {
		switch {
		case !pce.topFieldFirst && pce.repeatFirstField:
			return 4
		case pce.topFieldFirst && pce.repeatFirstField:
			return 6
		default:
			return 2
		}
	}
	if pce.structure != PictureStructureFrame {
		return 1
	}
	if pce.progressiveFrame && pce.repeatFirstField {
		return 3
	}
	return 2
}
