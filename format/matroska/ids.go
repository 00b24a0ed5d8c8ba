// Package matroska implements spec.md §4.7 (the level-1 resynchroniser)
// and §4.8 (the Cues accumulator): the two pieces of Matroska/EBML
// handling this module's core owns, independent of any full muxer.
//
// Grounded on the EBML element-ID table and vint decode shape of
// _examples/luispater-matroska-go/ebml.go, and on the cue precompute-
// then-write algorithm of _examples/original_source/src/merge/cues.cpp
// and cues.h.
package matroska

// EBML element IDs this package reads or writes. All are single-byte
// on the wire (0x80-0xFF lead byte, i.e. CodedSize 1 in pkg/vint terms)
// except the level-1 element IDs resync targets, which are 4-byte.
const (
	idEBML    = 0x1A45DFA3
	idSegment = 0x18538067

	idSeekHead = 0x114D9B74
	idInfo     = 0x1549A966
	idTracks   = 0x1654AE6B
	idCluster  = 0x1F43B675
	idCues     = 0x1C53BB6B
	idTags     = 0x1254C367
	idChapters = 0x1043A770

	idCuePoint           = 0xBB
	idCueTime            = 0xB3
	idCueTrackPositions  = 0xB7
	idCueTrack           = 0xF7
	idCueClusterPosition = 0xF1
	idCueRelativePosition = 0xF0
	idCueDuration        = 0xB2
	idCueCodecState      = 0xEA

	idSimpleBlock  = 0xA3
	idBlockGroup   = 0xA0
	idBlock        = 0xA1
	idTimecode     = 0xE7
)

// level1IDs is the set of top-level Segment children resync targets
// (spec.md §4.7 "resync_to_level1_element(wanted_id)") and also the set
// the 3-header confirmation heuristic accepts as "a well-formed EBML
// element header" candidate, since any genuine level-1 ID is one of
// these.
var level1IDs = map[uint32]bool{
	idSeekHead: true,
	idInfo:     true,
	idTracks:   true,
	idCluster:  true,
	idCues:     true,
	idTags:     true,
	idChapters: true,
}
