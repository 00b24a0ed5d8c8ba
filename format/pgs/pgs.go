// Package pgs implements spec.md §2's "PGS ... minor readers": a
// presentation-graphic-stream subtitle framer with, per spec.md, "no
// algorithmic content" beyond grouping segments into display sets.
//
// Grounded on _examples/original_source/src/input/r_pgssup.cpp's read()
// loop: accumulate "PG"-magic-prefixed segments, re-framing each as
// {type byte, size uint16 BE, payload}, until (and including) an END
// segment closes the display set.
package pgs

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/internal/remuxerr"
	"github.com/go-remux/remux/pkg/ioutil"
)

// fileMagic is the 2-byte "PG" marker every PGS segment header starts
// with (spec.md §2; r_pgssup.cpp PGSSUP_FILE_MAGIC).
const fileMagic = 0x5047

// segmentTypeEnd is the END segment type that closes a presentation
// composition set (r_pgssup.cpp PGSSUP_DISPLAY_SEGMENT).
const segmentTypeEnd = 0x80

// CodecData is the (parameterless) codec descriptor for a PGS subtitle
// track: the format carries no SPS-like parameter set, only raw segment
// bytes per display set.
type CodecData struct{}

func (CodecData) Type() av.CodecType { return av.PGS }

var _ av.CodecData = CodecData{}

// Reader frames a PGS/SUP elementary stream into one access unit per
// presentation composition set.
type Reader struct {
	src ioutil.Source
}

// NewReader returns a PGS framer reading sequentially from src.
func NewReader(src ioutil.Source) *Reader {
	return &Reader{src: src}
}

// ReadFrame assembles one display set: every segment sharing the first
// segment's presentation timestamp, each re-framed as
// {type, size BE, payload}, stopping once an END segment has been
// consumed (r_pgssup.cpp: "frame->resize ... || DISPLAY_SEGMENT == type
// -> process & break").
func (r *Reader) ReadFrame() (av.Packet, error) {
	var frame []byte
	var ts time.Duration
	first := true

	for {
		var hdr [11]byte // "PG"(2) + pts90k BE(4) + dts90k BE(4) + segment_type(1)
		if _, err := io.ReadFull(r.src, hdr[:]); err != nil {
			if err == io.EOF && !first {
				break
			}
			return av.Packet{}, err
		}
		if binary.BigEndian.Uint16(hdr[0:2]) != fileMagic {
			return av.Packet{}, &remuxerr.StructuralError{Op: "pgs.ReadFrame", Detail: "bad PG segment magic"}
		}
		if first {
			pts90k := binary.BigEndian.Uint32(hdr[2:6])
			ts = ninetyKHzToNanos(pts90k)
			first = false
		}
		segType := hdr[10]

		var szBuf [2]byte
		if _, err := io.ReadFull(r.src, szBuf[:]); err != nil {
			return av.Packet{}, err
		}
		segSize := binary.BigEndian.Uint16(szBuf[:])
		payload := make([]byte, segSize)
		if segSize > 0 {
			if _, err := io.ReadFull(r.src, payload); err != nil {
				return av.Packet{}, err
			}
		}

		frame = append(frame, segType, szBuf[0], szBuf[1])
		frame = append(frame, payload...)

		if segType == segmentTypeEnd {
			break
		}
	}

	return av.Packet{IsKeyFrame: true, Time: ts, Data: frame}, nil
}

// ninetyKHzToNanos converts a 90 kHz PTS tick count to nanoseconds,
// matching spec.md §4.4's PTS/DTS conversion factor (100000/9).
func ninetyKHzToNanos(ticks uint32) time.Duration {
	return time.Duration(uint64(ticks) * 100000 / 9)
}
