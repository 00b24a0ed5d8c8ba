package mpegps

import (
	"io"

	"github.com/go-remux/remux/internal/remuxerr"
)

// pesFlags carries the fields of a generic PES header (spec.md §4.4
// "PES header") needed to recover PTS/DTS and locate the payload.
type pesFlags struct {
	ptsDtsFlags byte
	headerLen   byte
	payload     []byte
}

// readPESOptionalHeader parses the bytes immediately following the
// stream_id/PES_packet_length pair for a "generic" PES stream (every
// stream_id except program_stream_map, padding_stream, private_stream_2,
// ECM/EMM, program_stream_directory, DSMCC_stream and ITU-T Rec. H.222.1
// type E, per spec.md §4.4's "optional PES header" exclusion list mirrored
// from the Comcast gots PESHeader.optionalFieldsExist()).
//
// Layout (ISO/IEC 13818-1 §2.4.3.7), grounded on
// _examples/other_examples/d09b3012_tonalfitness-ivsmeta__pesheader.go.go:
//
//	'10'(2) PES_scrambling_control(2) PES_priority(1)
//	data_alignment_indicator(1) copyright(1) original_or_copy(1)
//	PTS_DTS_flags(2) ESCR_flag(1) ES_rate_flag(1) DSM_trick_mode_flag(1)
//	additional_copy_info_flag(1) PES_CRC_flag(1) PES_extension_flag(1)
//	PES_header_data_length(8)
//
// A non-zero PES_scrambling_control is fatal (spec.md §4.4 "Reading
// encrypted PES (scrambling bits non-zero) is a fatal error"; spec.md §7
// "the core refuses to read encrypted VOBs").
func readPESOptionalHeader(r io.Reader) (pesFlags, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return pesFlags{}, err
	}
	if scrambling := (hdr[0] >> 4) & 0x3; scrambling != 0 {
		return pesFlags{}, &remuxerr.EncryptedError{}
	}
	f := pesFlags{
		ptsDtsFlags: (hdr[1] >> 6) & 0x3,
		headerLen:   hdr[2],
	}
	f.payload = make([]byte, f.headerLen)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return pesFlags{}, err
	}
	return f, nil
}

// pts90k decodes one 5-byte PTS or DTS field into 90kHz clock ticks,
// following the bit-packed layout of ISO/IEC 13818-1 §2.4.3.6:
//
//	'0010'/'0001'/'0011' or '01'(4 bits)  PTS[32..30](3)  marker_bit(1)
//	PTS[29..15](15)  marker_bit(1)  PTS[14..0](15)  marker_bit(1)
//
// Grounded on ExtractTime in
// _examples/other_examples/d09b3012_tonalfitness-ivsmeta__pesheader.go.go.
func pts90k(b []byte) (int64, error) {
	if len(b) < 5 {
		return 0, &remuxerr.StructuralError{Op: "pts90k", Detail: "short PTS/DTS field"}
	}
	if b[0]&0x01 == 0 || b[2]&0x01 == 0 || b[4]&0x01 == 0 {
		return 0, &remuxerr.StructuralError{Op: "pts90k", Detail: "marker bit missing"}
	}
	v := int64(b[0]&0x0E) << 29
	v |= int64(b[1]) << 22
	v |= int64(b[2]&0xFE) << 14
	v |= int64(b[3]) << 7
	v |= int64(b[4]&0xFE) >> 1
	return v, nil
}

// extractTimes returns (pts, dts, havePTS, haveDTS) decoded from the
// optional PES header payload, per the PTS_DTS_flags encoding: 00 none,
// 10 PTS only, 11 PTS+DTS (01 is reserved/forbidden and treated as none).
func (f pesFlags) extractTimes() (pts, dts int64, havePTS, haveDTS bool, err error) {
	switch f.ptsDtsFlags {
	case 0x2:
		if len(f.payload) < 5 {
			return 0, 0, false, false, &remuxerr.StructuralError{Op: "extractTimes", Detail: "truncated PTS"}
		}
		pts, err = pts90k(f.payload[:5])
		havePTS = err == nil
	case 0x3:
		if len(f.payload) < 10 {
			return 0, 0, false, false, &remuxerr.StructuralError{Op: "extractTimes", Detail: "truncated PTS/DTS"}
		}
		pts, err = pts90k(f.payload[:5])
		if err != nil {
			return
		}
		dts, err = pts90k(f.payload[5:10])
		havePTS, haveDTS = true, err == nil
	}
	return
}

// ninetyKHzToNanos converts a 90kHz clock value to a time.Duration-
// compatible nanosecond count (spec.md §4.4 "PTS/DTS are in 90kHz
// units; the demuxer converts to nanoseconds").
func ninetyKHzToNanos(v int64) int64 {
	return v * 1000000000 / 90000
}

// byteReader is a minimal io.Reader over an in-memory slice that exposes
// its unconsumed remainder, used to split a PES packet body into its
// optional header and elementary-stream payload without an extra copy.
type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func (r *byteReader) rest() []byte { return r.b[r.pos:] }
