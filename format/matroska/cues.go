package matroska

import (
	"io"
	"sort"

	"github.com/go-remux/remux/pkg/remuxopts"
	"github.com/go-remux/remux/pkg/vint"
)

// CueKey identifies one (track, timestamp) pair a cue point, a duration
// side-record, or a codec-state side-record may share (spec.md §4.8
// "set_duration_for(id, ts, dur) ... the cue point that is later
// postprocessed with this (id, ts) adopts the duration").
type CueKey struct {
	Track     uint64
	Timecode  uint64 // in TimestampScale ticks
}

// CuePoint is one accumulated cue (spec.md §3 "Cue point").
type CuePoint struct {
	Track           uint64
	Timecode        uint64
	ClusterPosition int64

	RelativePosition int64
	Duration         uint64

	HasCodecState      bool
	CodecStatePosition int64
}

// Cues accumulates cue points for one mux session (spec.md §4.8). It is
// deliberately an ordinary value type threaded explicitly through a
// writer, never a package-level singleton — see DESIGN.md "Global
// mutable state".
type Cues struct {
	opts remuxopts.Options

	points []CuePoint

	durationMap   map[CueKey]uint64
	codecStateMap map[CueKey]int64

	numPostprocessed int
}

// New returns an empty Cues accumulator for one mux session.
func New(opts remuxopts.Options) *Cues {
	return &Cues{
		opts:          opts,
		durationMap:   map[CueKey]uint64{},
		codecStateMap: map[CueKey]int64{},
	}
}

// Add appends a cue point; O(1) (spec.md §4.8 "add(cue_point): O(1)
// append").
func (c *Cues) Add(track, timecode uint64, clusterPosition int64) {
	c.points = append(c.points, CuePoint{
		Track:           track,
		Timecode:        timecode,
		ClusterPosition: clusterPosition,
	})
}

// SetDurationFor records dur into the side map keyed by (track, ts); a
// cue point later postprocessed with this key adopts it as CueDuration.
func (c *Cues) SetDurationFor(track, timecode uint64, dur uint64) {
	if c.opts.NoCueDuration {
		return
	}
	c.durationMap[CueKey{track, timecode}] = dur
}

// SetCodecState records the byte position of a codec-state blob
// (spec.md §4.6 "CueCodecState wiring": the position is wherever the
// caller wrote the access unit's av.Packet.CodecState bytes) into the
// side map keyed by (track, ts).
func (c *Cues) SetCodecState(track, timecode uint64, position int64) {
	c.codecStateMap[CueKey{track, timecode}] = position
}

// PostprocessCues resolves RelativePosition (and pulls in any pending
// Duration/CodecState) for every cue point added since the last call,
// given the absolute byte position where the just-written cluster's
// data begins and the absolute byte positions of that cluster's blocks,
// keyed the same way cue points are (spec.md §4.8
// "postprocess_cues(cluster)").
func (c *Cues) PostprocessCues(clusterDataStart int64, blockPositions map[CueKey]int64) {
	for i := c.numPostprocessed; i < len(c.points); i++ {
		p := &c.points[i]
		key := CueKey{p.Track, p.Timecode}

		if !c.opts.NoCueRelativePosition {
			if bp, ok := blockPositions[key]; ok {
				rel := bp - clusterDataStart
				if rel < 0 {
					rel = 0
				}
				p.RelativePosition = rel
			}
		}
		if !c.opts.NoCueDuration {
			if d, ok := c.durationMap[key]; ok {
				p.Duration = d
			}
		}
		if pos, ok := c.codecStateMap[key]; ok {
			p.HasCodecState = true
			p.CodecStatePosition = pos
		}
	}
	c.numPostprocessed = len(c.points)
}

// sortPoints orders cue points by (timestamp, track_id, cluster_offset)
// ascending (spec.md §4.8 "write(out, seek_head): 1. Sort cue points by
// (timestamp, track_id, cluster_position)").
func (c *Cues) sortPoints() {
	sort.SliceStable(c.points, func(i, j int) bool {
		a, b := c.points[i], c.points[j]
		if a.Timecode != b.Timecode {
			return a.Timecode < b.Timecode
		}
		if a.Track != b.Track {
			return a.Track < b.Track
		}
		return a.ClusterPosition < b.ClusterPosition
	})
}

// uintWidth returns the byte width pkg/vint.Encode would use for v: the
// plain minimal-width unsigned-integer encoding spec.md §6 names for
// vint-valued Cue sub-elements (not the EBML-length-prefixed encoding
// used for element size fields).
func uintWidth(v uint64) int { return len(vint.Encode(v)) }

// elemSize returns the total byte count of an element with the given
// body size: one ID byte (every Cue element id in this package fits in
// one byte, per ids.go) plus whatever width vint.MinWidthEBML picks for
// the size field. writeElemHeader encodes the size field the same way,
// so this always agrees with what actually gets written even once a
// body grows past the 1-byte EBML-size threshold (127).
func elemSize(bodySize int) int {
	return 1 + vint.MinWidthEBML(uint64(bodySize))
}

// cueTrackPositionsBodySize returns the byte size of CueTrackPositions'
// body: CueTrack, CueClusterPosition, and whichever optional fields p
// carries (spec.md §4.8 "Optional fields ... are included only when
// non-zero and only when the corresponding no_* suppression is off").
func (c *Cues) cueTrackPositionsBodySize(p CuePoint) int {
	trackBody := uintWidth(p.Track)
	n := elemSize(trackBody) + trackBody // CueTrack
	clusterBody := uintWidth(uint64(p.ClusterPosition))
	n += elemSize(clusterBody) + clusterBody // CueClusterPosition
	if p.HasCodecState {
		b := uintWidth(uint64(p.CodecStatePosition))
		n += elemSize(b) + b
	}
	if !c.opts.NoCueRelativePosition && p.RelativePosition != 0 {
		b := uintWidth(uint64(p.RelativePosition))
		n += elemSize(b) + b
	}
	if !c.opts.NoCueDuration && p.Duration != 0 {
		b := uintWidth(p.Duration)
		n += elemSize(b) + b
	}
	return n
}

// pointSize returns the total on-wire byte count for one CuePoint
// element, precomputed bottom-up so it matches exactly what writePoint
// emits (spec.md §4.8 "the pre-computed ... size must agree with the
// subsequent writing").
func (c *Cues) pointSize(p CuePoint) int {
	timeBody := uintWidth(p.Timecode)
	cueTimeSize := elemSize(timeBody) + timeBody
	trackPositionsBody := c.cueTrackPositionsBodySize(p)
	trackPositionsSize := elemSize(trackPositionsBody) + trackPositionsBody
	bodySize := cueTimeSize + trackPositionsSize
	return elemSize(bodySize) + bodySize
}

// CalculateTotalSize returns the sum of every cue point's on-wire size
// (spec.md §4.8 "Precompute the exact serialized byte count for every
// cue").
func (c *Cues) CalculateTotalSize() int {
	total := 0
	for _, p := range c.points {
		total += c.pointSize(p)
	}
	return total
}

// Empty reports whether there are no cue points, in which case write()
// skips emitting the Cues element entirely.
func (c *Cues) Empty() bool { return len(c.points) == 0 }

func writeElemHeader(w io.Writer, id uint32, bodySize int) error {
	var idBytes []byte
	switch {
	case id <= 0xFF:
		idBytes = []byte{byte(id)}
	case id <= 0xFFFF:
		idBytes = []byte{byte(id >> 8), byte(id)}
	case id <= 0xFFFFFF:
		idBytes = []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	default:
		idBytes = []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	}
	if _, err := w.Write(idBytes); err != nil {
		return err
	}
	size := vint.EncodeEBML(uint64(bodySize), vint.MinWidthEBML(uint64(bodySize)))
	_, err := w.Write(size)
	return err
}

func writeValueElem(w io.Writer, id byte, value uint64) error {
	val := vint.Encode(value)
	if err := writeElemHeader(w, uint32(id), len(val)); err != nil {
		return err
	}
	_, err := w.Write(val)
	return err
}

func (c *Cues) writePoint(w io.Writer, p CuePoint) error {
	timeBody := uintWidth(p.Timecode)
	cueTimeSize := elemSize(timeBody) + timeBody
	trackPositionsBody := c.cueTrackPositionsBodySize(p)
	trackPositionsSize := elemSize(trackPositionsBody) + trackPositionsBody
	bodySize := cueTimeSize + trackPositionsSize
	if err := writeElemHeader(w, idCuePoint, bodySize); err != nil {
		return err
	}
	if err := writeValueElem(w, idCueTime, p.Timecode); err != nil {
		return err
	}

	if err := writeElemHeader(w, idCueTrackPositions, trackPositionsBody); err != nil {
		return err
	}
	if err := writeValueElem(w, idCueTrack, p.Track); err != nil {
		return err
	}
	if err := writeValueElem(w, idCueClusterPosition, uint64(p.ClusterPosition)); err != nil {
		return err
	}
	if p.HasCodecState {
		if err := writeValueElem(w, idCueCodecState, uint64(p.CodecStatePosition)); err != nil {
			return err
		}
	}
	if !c.opts.NoCueRelativePosition && p.RelativePosition != 0 {
		if err := writeValueElem(w, idCueRelativePosition, uint64(p.RelativePosition)); err != nil {
			return err
		}
	}
	if !c.opts.NoCueDuration && p.Duration != 0 {
		if err := writeValueElem(w, idCueDuration, p.Duration); err != nil {
			return err
		}
	}
	return nil
}

// Write sorts the accumulated cue points, then emits the Cues element
// (header plus every cue point) to w (spec.md §4.8 "write(out,
// seek_head)"). The caller is responsible for recording the Cues
// element's starting position into its own seek head before or after
// calling Write — reserving that slot doesn't require patching here,
// since the size is fully known up front. All accumulated state is
// cleared once written.
func (c *Cues) Write(w io.Writer) error {
	if c.Empty() {
		return nil
	}
	c.sortPoints()

	total := c.CalculateTotalSize()
	if err := writeElemHeader(w, idCues, total); err != nil {
		return err
	}
	for _, p := range c.points {
		if err := c.writePoint(w, p); err != nil {
			return err
		}
	}

	c.points = nil
	c.durationMap = map[CueKey]uint64{}
	c.codecStateMap = map[CueKey]int64{}
	c.numPostprocessed = 0
	return nil
}
