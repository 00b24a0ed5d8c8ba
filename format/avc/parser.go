package avc

import (
	"time"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/pkg/remuxopts"
	"github.com/go-remux/remux/pkg/startcode"
)

// CodecData exposes the accumulated parameter-set state as the AVC track
// descriptor (spec.md §3 "MPEG PS track descriptor" generalized to any
// AVC source; spec.md §4.6 "avcC emission").
type CodecData struct {
	record AVCDecoderConfRecord
}

func (c *CodecData) Type() av.CodecType { return av.H264 }

func (c *CodecData) Width() int {
	if sps := c.sps(); sps != nil {
		return sps.Width
	}
	return 0
}

func (c *CodecData) Height() int {
	if sps := c.sps(); sps != nil {
		return sps.Height
	}
	return 0
}

// ExtraData returns the avcC blob (ISO/IEC 14496-15 §5.2.4.1.1).
func (c *CodecData) ExtraData() []byte {
	b := make([]byte, c.record.Len())
	c.record.Marshal(b)
	return b
}

func (c *CodecData) sps() *SPS {
	if len(c.record.SPS) == 0 {
		return nil
	}
	sps, err := ParseSPS(c.record.SPS[0])
	if err != nil {
		return nil
	}
	return sps
}

var (
	_ av.VideoCodecData    = (*CodecData)(nil)
	_ av.ExtraDataProvider = (*CodecData)(nil)
)

// Parser assembles NALUs into access-unit av.Packets (spec.md §4.6). It
// accepts either start-code-prefixed or length-prefixed input, detected
// from remuxopts.Options.NALUSizeLength exactly as format/mpegps decides
// pack_header version from marker bits: one fixed field, read once at
// construction.
type Parser struct {
	opts remuxopts.Options

	useLengthPrefix bool
	lengthSize      int

	buf []byte

	spsByID map[uint32]*SPS
	ppsByID map[uint32]*PPS
	curSPS  *SPS
	curPPS  *PPS

	avccEmitted bool
	lastSPSKey  string
	lastPPSKey  string

	lastSlice *sliceHeader
	pending   [][]byte // NALUs collected for the in-progress access unit

	sawKeyframe   bool
	droppedBefore int
	frameDuration time.Duration
	nextTimestamp time.Duration
}

// NewParser returns an AVC elementary-stream parser. defaultDuration
// sets the fabricated-timestamp step (spec.md §4.6 "Timestamp
// fabrication"); it is ignored once the caller starts supplying its own
// timestamps through a future Feed variant (not exercised by this
// module, which always fabricates per spec.md §4.6's stated default).
func NewParser(opts remuxopts.Options, defaultDuration time.Duration) *Parser {
	return &Parser{
		opts:            opts,
		useLengthPrefix: opts.NALUSizeLength != remuxopts.NALUSizeLengthDefault,
		lengthSize:      lengthSizeFor(opts),
		spsByID:         map[uint32]*SPS{},
		ppsByID:         map[uint32]*PPS{},
		frameDuration:   defaultDuration,
	}
}

// Feed appends data to the parser and returns every access unit now
// fully bounded.
func (p *Parser) Feed(data []byte) ([]av.Packet, error) {
	p.buf = append(p.buf, data...)

	var out []av.Packet
	if p.useLengthPrefix {
		nalus, err := sliceNALUsLengthPrefixed(p.buf, p.lengthSize, p.opts.IgnoreNALUSizeLengthErrors)
		p.buf = nil // length-prefixed input is always delivered as complete frames
		if err != nil {
			return nil, err
		}
		for _, n := range nalus {
			pkt, ok, err := p.feedNALU(n)
			if err != nil {
				return out, err
			}
			if ok {
				out = append(out, pkt)
			}
		}
		return out, nil
	}

	// Start-code mode: only a NALU bounded by a *following* start code is
	// confirmed complete. The one running up to the end of p.buf might
	// still be growing, so it's left in place for the next Feed call
	// (mirroring format/mpeges.Framer.Feed's boundary-at-a-time loop).
	for {
		nalu, rest, ok := nextStartCodeNALU(p.buf)
		if !ok {
			break
		}
		p.buf = rest
		pkt, emit, err := p.feedNALU(nalu)
		if err != nil {
			return out, err
		}
		if emit {
			out = append(out, pkt)
		}
	}
	return out, nil
}

// nextStartCodeNALU extracts the first NALU in b that is bounded by a
// following start code (i.e. excludes the possibly-incomplete tail
// after the last start code), trimming the one extra zero byte a
// 4-byte start code (00 00 00 01) leaves at the end of the preceding
// NALU's payload.
func nextStartCodeNALU(b []byte) (nalu, rest []byte, ok bool) {
	first := startcode.Find(b, 0)
	if first < 0 {
		return nil, b, false
	}
	second := startcode.Find(b, first+3)
	if second < 0 {
		return nil, b, false
	}
	start := first + 3
	end := second
	if end > start && b[end-1] == 0 {
		end--
	}
	return b[start:end], b[second:], true
}

func (p *Parser) feedNALU(nalu []byte) (av.Packet, bool, error) {
	if len(nalu) == 0 {
		return av.Packet{}, false, nil
	}
	nalType := NALUType(nalu[0])

	switch nalType {
	case NALUTypeSPS:
		sps, err := ParseSPS(nalu)
		if err != nil {
			return av.Packet{}, false, err
		}
		p.spsByID[sps.ID] = sps
		p.curSPS = sps
		return av.Packet{}, false, nil
	case NALUTypePPS:
		pps, err := ParsePPS(nalu)
		if err != nil {
			return av.Packet{}, false, err
		}
		p.ppsByID[pps.ID] = pps
		p.curPPS = pps
		return av.Packet{}, false, nil
	case NALUTypeAUD:
		return p.boundary(nil)
	case NALUTypeSlice, NALUTypeIDRSlice:
		sps := p.spsForSlice(nalu)
		sh, err := parseSliceHeader(nalu, nalType, sps, func(id uint32) *PPS { return p.ppsByID[id] })
		if err != nil {
			return av.Packet{}, false, err
		}
		if p.lastSlice != nil && !sameAccessUnit(p.lastSlice, sh) {
			pkt, ok, err := p.boundary(nalu)
			p.lastSlice = sh
			return pkt, ok, err
		}
		p.lastSlice = sh
		p.pending = append(p.pending, nalu)
		return av.Packet{}, false, nil
	default:
		// SEI and anything else rides along with the access unit it
		// precedes.
		p.pending = append(p.pending, nalu)
		return av.Packet{}, false, nil
	}
}

// spsForSlice returns the SPS a slice header is parsed against: the
// parser's most recently parsed SPS. The slice's pic_parameter_set_id is
// not resolved to an SPS, so a stream that alternates between several
// SPSs has each slice parsed against the latest one.
func (p *Parser) spsForSlice(nalu []byte) *SPS {
	return p.curSPS
}

// boundary closes out the access unit accumulated in p.pending (emitting
// it as a packet if non-empty) and starts a new one, optionally seeded
// with the NALU that triggered the boundary (an AUD yields none; a
// slice that belongs to the next access unit seeds it with itself).
func (p *Parser) boundary(seed []byte) (av.Packet, bool, error) {
	pending := p.pending
	p.pending = nil
	if seed != nil {
		p.pending = append(p.pending, seed)
	}
	if len(pending) == 0 {
		return av.Packet{}, false, nil
	}
	pkt, err := p.buildPacket(pending)
	if err != nil {
		return av.Packet{}, false, err
	}
	if !p.sawKeyframe {
		return av.Packet{}, false, nil
	}
	return pkt, true, nil
}

// Close flushes what is left at end of stream, one access unit per call.
// In start-code mode the NALU after the last start code, which Feed holds
// back, is parsed first; if it closes the pending access unit, that unit
// is returned and the next call returns the one the NALU started. Close
// returns nil once nothing is left.
func (p *Parser) Close() (*av.Packet, error) {
	if !p.useLengthPrefix {
		if first := startcode.Find(p.buf, 0); first >= 0 {
			tail := p.buf[first+3:]
			p.buf = nil
			pkt, emit, err := p.feedNALU(tail)
			if err != nil {
				return nil, err
			}
			if emit {
				return &pkt, nil
			}
		}
	}
	if len(p.pending) == 0 {
		return nil, nil
	}
	pending := p.pending
	p.pending = nil
	pkt, err := p.buildPacket(pending)
	if err != nil {
		return nil, err
	}
	if !p.sawKeyframe {
		return nil, nil
	}
	return &pkt, nil
}

func (p *Parser) buildPacket(nalus [][]byte) (av.Packet, error) {
	keyframe := false
	for _, n := range nalus {
		if NALUType(n[0]) == NALUTypeIDRSlice {
			keyframe = true
			break
		}
	}

	if keyframe {
		p.sawKeyframe = true
	}
	if !p.sawKeyframe {
		p.droppedBefore++
		return av.Packet{}, nil
	}

	var codecState []byte
	if keyframe {
		blob, changed := p.maybeEmitAVCC()
		if changed {
			codecState = blob
		}
	}

	data := packNALULengthPrefixed(nalus, p.lengthSize)

	pkt := av.Packet{
		IsKeyFrame: keyframe,
		Time:       p.nextTimestamp,
		Duration:   p.frameDuration,
		Data:       data,
		CodecState: codecState,
	}
	p.nextTimestamp += p.frameDuration
	return pkt, nil
}

// maybeEmitAVCC builds the avcC blob from the most recently parsed SPS
// and PPS, reporting it (and true) only the first time it's built or
// whenever the emitted parameter-set identities change (spec.md §4.6
// "avcc_changed is set whenever the set of emitted parameter sets
// differs from the last emission").
func (p *Parser) maybeEmitAVCC() ([]byte, bool) {
	sps := p.curSPS
	if sps == nil {
		sps = p.anySPS()
	}
	pps := p.curPPS
	if pps == nil {
		pps = p.anyPPS()
	}
	if sps == nil || pps == nil {
		return nil, false
	}

	spsKey := string(sps.Raw)
	ppsKey := string(pps.Raw)
	changed := !p.avccEmitted || spsKey != p.lastSPSKey || ppsKey != p.lastPPSKey
	p.lastSPSKey, p.lastPPSKey = spsKey, ppsKey
	p.avccEmitted = true
	if !changed {
		return nil, false
	}

	record := NewCodecDataFromSPSAndPPS(sps.Raw, pps.Raw, p.lengthSize)
	blob := make([]byte, record.Len())
	record.Marshal(blob)
	return blob, true
}

// Codec returns the track's codec descriptor once at least one SPS/PPS
// pair has been seen.
func (p *Parser) Codec() (*CodecData, bool) {
	sps := p.curSPS
	if sps == nil {
		sps = p.anySPS()
	}
	pps := p.curPPS
	if pps == nil {
		pps = p.anyPPS()
	}
	if sps == nil || pps == nil {
		return nil, false
	}
	return &CodecData{record: NewCodecDataFromSPSAndPPS(sps.Raw, pps.Raw, p.lengthSize)}, true
}

// anySPS and anyPPS fall back to the lowest-numbered parameter set when
// curSPS/curPPS (set by the most recently parsed SPS/PPS NALU) is nil,
// so the avcC/Codec output is deterministic across runs instead of
// depending on Go's randomized map iteration order.
func (p *Parser) anySPS() *SPS {
	var id uint32
	var found *SPS
	for k, s := range p.spsByID {
		if found == nil || k < id {
			id, found = k, s
		}
	}
	return found
}

func (p *Parser) anyPPS() *PPS {
	var id uint32
	var found *PPS
	for k, ps := range p.ppsByID {
		if found == nil || k < id {
			id, found = k, ps
		}
	}
	return found
}

// DroppedBeforeKeyframe reports how many access units were discarded
// before the first IDR (spec.md §4.6 edge case).
func (p *Parser) DroppedBeforeKeyframe() int { return p.droppedBefore }
