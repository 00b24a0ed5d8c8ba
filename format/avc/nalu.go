// Package avc implements spec.md §4.6: the AVC (H.264) elementary-stream
// parser — NALU slicing (start-code or length-prefixed), SPS/PPS
// collection, access-unit boundary detection, and avcC emission.
//
// Grounded on the NALU type constants and avcC-building shape of
// _examples/other_examples/99afe196_bugVanisher-streamer__media-codec-h264parser-parser.go.go
// and the SPS/slice-header field decode order of
// _examples/other_examples/241b888b_ausocean-av__codec-h264-h264dec-sps.go.go;
// access-unit boundary rules from
// _examples/original_source/src/common/mpeg4_p10.h.
package avc

import (
	"github.com/go-remux/remux/internal/remuxerr"
	"github.com/go-remux/remux/pkg/remuxopts"
)

// NALU type identities (ISO/IEC 14496-10 Table 7-1), the set this parser
// cares about.
const (
	NALUTypeSlice    = 1
	NALUTypeIDRSlice = 5
	NALUTypeSEI      = 6
	NALUTypeSPS      = 7
	NALUTypePPS      = 8
	NALUTypeAUD      = 9
)

// NALUType returns the nal_unit_type (bits 3-7 of the NALU header byte).
func NALUType(b byte) int { return int(b & 0x1F) }

// deEmulate strips "emulation prevention" 0x03 bytes from a 0x000003{00,01,02,03}
// run, recovering the raw byte sequence payload the bitreader expects
// (spec.md glossary "NALU"; grounded on bugVanisher's DeEmulationPrevention).
func deEmulate(b []byte) []byte {
	out := make([]byte, 0, len(b))
	zeros := 0
	for _, c := range b {
		if zeros >= 2 && c == 0x03 {
			zeros = 0
			continue
		}
		if c == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, c)
	}
	return out
}

// sliceNALUsLengthPrefixed splits b into NALU payloads using a
// lengthSize-byte (1/2/4) big-endian length prefix before each NALU
// (spec.md §4.6 "length-prefixed, with a configurable 1/2/4-byte length
// field"). An oversized NALU — one whose declared length runs past the
// end of b — is fatal unless ignoreOversized is set, in which case the
// remainder of b is abandoned rather than misparsed.
func sliceNALUsLengthPrefixed(b []byte, lengthSize int, ignoreOversized bool) ([][]byte, error) {
	var out [][]byte
	pos := 0
	for pos < len(b) {
		if pos+lengthSize > len(b) {
			return out, &remuxerr.ExhaustionError{Op: "sliceNALUsLengthPrefixed", Position: int64(pos)}
		}
		length := 0
		for i := 0; i < lengthSize; i++ {
			length = (length << 8) | int(b[pos+i])
		}
		pos += lengthSize
		if pos+length > len(b) {
			if ignoreOversized {
				return out, nil
			}
			return out, &remuxerr.RangeError{Op: "sliceNALUsLengthPrefixed", Position: int64(pos), Detail: "NALU length exceeds remaining buffer"}
		}
		out = append(out, b[pos:pos+length])
		pos += length
	}
	return out, nil
}

// lengthSizeFor resolves the configured NALU length-prefix width,
// defaulting to 4 bytes (spec.md §6 "nalu_size_length: {1,2,4}").
func lengthSizeFor(opts remuxopts.Options) int {
	switch opts.NALUSizeLength {
	case remuxopts.NALUSizeLength1:
		return 1
	case remuxopts.NALUSizeLength2:
		return 2
	case remuxopts.NALUSizeLength4:
		return 4
	default:
		return 4
	}
}

// packNALULengthPrefixed re-encodes nalus with a lengthSize-byte
// big-endian length prefix before each one, the Matroska/MP4 on-wire
// shape spec.md §4.6 "Output frames" names ("length-prefixed NALUs").
func packNALULengthPrefixed(nalus [][]byte, lengthSize int) []byte {
	total := 0
	for _, n := range nalus {
		total += lengthSize + len(n)
	}
	out := make([]byte, 0, total)
	for _, n := range nalus {
		var lb [4]byte
		for i := 0; i < lengthSize; i++ {
			shift := uint(8 * (lengthSize - 1 - i))
			lb[i] = byte(len(n) >> shift)
		}
		out = append(out, lb[:lengthSize]...)
		out = append(out, n...)
	}
	return out
}
