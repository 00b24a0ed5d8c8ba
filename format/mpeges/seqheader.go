// Package mpeges implements spec.md §4.5: the MPEG-1/2 elementary-stream
// framer — sequence/GOP/picture boundary detection, timestamp
// fabrication, and B-frame display-order reordering.
//
// The start-code scan loop is grounded on
// _examples/other_examples/c7eb3f87_wnielson-go-mediainfo__internal-mediainfo-mpeg_ps_stream.go.go's
// pending-payload coalescing pattern (adapted from PES reassembly to
// picture reassembly); the sequence-header bit layout follows ISO/IEC
// 13818-2 §6.2.2 read with pkg/bitreader the way
// _examples/other_examples/241b888b_ausocean-av__codec-h264-h264dec-sps.go.go
// reads H.264's SPS.
package mpeges

import (
	"github.com/go-remux/remux/internal/remuxerr"
	"github.com/go-remux/remux/pkg/bitreader"
	"github.com/go-remux/remux/pkg/startcode"
)

// extension_start_code_identifier values (ISO/IEC 13818-2 Table 6-1) this
// framer decodes: sequence_extension (carries progressive_sequence) and
// picture_coding_extension (carries picture_structure/top_field_first/
// repeat_first_field/progressive_frame), both needed by spec.md §4.5's
// half-frame-tick duration table.
const (
	extensionIDSequence      = 0x1
	extensionIDPictureCoding = 0x8
)

// frameRateTable maps the MPEG-1/2 frame_rate_code (ISO/IEC 13818-2 Table
// 6-4) to a num/den pair.
var frameRateTable = [16][2]int{
	1:  {24000, 1001},
	2:  {24, 1},
	3:  {25, 1},
	4:  {30000, 1001},
	5:  {30, 1},
	6:  {50, 1},
	7:  {60000, 1001},
	8:  {60, 1},
}

// SequenceHeader holds the fields of a parsed sequence_header (spec.md
// §4.5 "Sequence header capture").
type SequenceHeader struct {
	Width, Height          int
	AspectRatioInfo        int
	FrameRateNum, FrameRateDen int
	ProgressiveSequence    bool // from sequence_extension; false until one is seen (MPEG-1 has none)
	Raw                    []byte // copy of parseSequenceHeader's input (bytes after the 0x000001B3 start code), for codec-state attachment
}

// parseSequenceExtension decodes a sequence_extension (ISO/IEC 13818-2
// §6.2.2.3), returning progressive_sequence. b starts immediately after
// the 0x000001B5 extension start code. ok is false if b does not carry a
// sequence_extension (wrong extension_start_code_identifier) or is too
// short to decode.
func parseSequenceExtension(b []byte) (progressive bool, ok bool) {
	if len(b) < 2 {
		return false, false
	}
	br := bitreader.New(b)
	id, err := br.GetBits(4)
	if err != nil || id != extensionIDSequence {
		return false, false
	}
	if err := br.SkipBits(8); err != nil { // profile_and_level_indication
		return false, false
	}
	v, err := br.GetFlag() // progressive_sequence
	if err != nil {
		return false, false
	}
	return v, true
}

// PictureStructure classifies picture_coding_extension's picture_structure
// field (ISO/IEC 13818-2 Table 6-14).
type PictureStructure int

const (
	PictureStructureUnknown PictureStructure = iota
	PictureStructureTopField
	PictureStructureBottomField
	PictureStructureFrame
)

// pictureCodingExt holds the picture_coding_extension fields spec.md
// §4.5's half-frame-tick duration table needs.
type pictureCodingExt struct {
	structure        PictureStructure
	topFieldFirst    bool
	repeatFirstField bool
	progressiveFrame bool
}

// parsePictureCodingExtension decodes the first extension_start_code
// (0xB5) in b as a picture_coding_extension (ISO/IEC 13818-2 §6.2.3.1).
// ok is false if b has no extension start code or if the first one's
// extension_start_code_identifier is not picture_coding_extension.
func parsePictureCodingExtension(b []byte) (pictureCodingExt, bool) {
	pos := 0
	var body []byte
	for {
		idx := startcode.Find(b, pos)
		if idx < 0 || idx+3 >= len(b) {
			return pictureCodingExt{}, false
		}
		if b[idx+3] == startcode.ExtensionStartCode {
			body = b[idx+4:]
			break
		}
		pos = idx + 3
	}
	br := bitreader.New(body)
	id, err := br.GetBits(4) // extension_start_code_identifier
	if err != nil {
		return pictureCodingExt{}, false
	}
	if id != extensionIDPictureCoding {
		return pictureCodingExt{}, false
	}
	if err := br.SkipBits(16); err != nil { // f_code[0][0..1], f_code[1][0..1] (4x4 bits)
		return pictureCodingExt{}, false
	}
	if err := br.SkipBits(2); err != nil { // intra_dc_precision
		return pictureCodingExt{}, false
	}
	structureBits, err := br.GetBits(2) // picture_structure
	if err != nil {
		return pictureCodingExt{}, false
	}
	tff, err := br.GetFlag() // top_field_first
	if err != nil {
		return pictureCodingExt{}, false
	}
	if err := br.SkipBits(1); err != nil { // frame_predictive_frame_dct
		return pictureCodingExt{}, false
	}
	if err := br.SkipBits(1); err != nil { // concealment_motion_vectors
		return pictureCodingExt{}, false
	}
	if err := br.SkipBits(1); err != nil { // q_scale_type
		return pictureCodingExt{}, false
	}
	if err := br.SkipBits(1); err != nil { // intra_vlc_format
		return pictureCodingExt{}, false
	}
	if err := br.SkipBits(1); err != nil { // alternate_scan
		return pictureCodingExt{}, false
	}
	rff, err := br.GetFlag() // repeat_first_field
	if err != nil {
		return pictureCodingExt{}, false
	}
	if err := br.SkipBits(1); err != nil { // chroma_420_type
		return pictureCodingExt{}, false
	}
	progressiveFrame, err := br.GetFlag() // progressive_frame
	if err != nil {
		return pictureCodingExt{}, false
	}
	return pictureCodingExt{
		structure:        PictureStructure(structureBits),
		topFieldFirst:    tff,
		repeatFirstField: rff,
		progressiveFrame: progressiveFrame,
	}, true
}

// parseSequenceHeader decodes the fixed-length fields of a
// sequence_header following the 0x000001B3 start code. b is the payload
// starting immediately after the start code (i.e. b[0] is
// horizontal_size_value's high byte).
func parseSequenceHeader(b []byte) (*SequenceHeader, error) {
	if len(b) < 7 {
		return nil, &remuxerr.StructuralError{Op: "parseSequenceHeader", Detail: "short sequence_header"}
	}
	br := bitreader.New(b)
	width, err := br.GetBits(12)
	if err != nil {
		return nil, err
	}
	height, err := br.GetBits(12)
	if err != nil {
		return nil, err
	}
	aspect, err := br.GetBits(4)
	if err != nil {
		return nil, err
	}
	rateCode, err := br.GetBits(4)
	if err != nil {
		return nil, err
	}
	rate := frameRateTable[rateCode&0xF]
	if rate[0] == 0 {
		rate = [2]int{25, 1} // unspecified/reserved code: fall back like a 25fps default
	}
	return &SequenceHeader{
		Width:           int(width),
		Height:          int(height),
		AspectRatioInfo: int(aspect),
		FrameRateNum:    rate[0],
		FrameRateDen:    rate[1],
		Raw:             append([]byte(nil), b...),
	}, nil
}

// PictureCodingType classifies a picture_header's picture_coding_type
// field (ISO/IEC 13818-2 Table 6-12).
type PictureCodingType int

const (
	PictureUnknown PictureCodingType = iota
	PictureI
	PictureP
	PictureB
)

func (t PictureCodingType) IsReference() bool { return t == PictureI || t == PictureP }

// parsePictureHeader decodes enough of a picture_header (following the
// 0x00000100 start code) to recover picture_coding_type; b is the
// payload starting immediately after the start code.
func parsePictureHeader(b []byte) (PictureCodingType, error) {
	if len(b) < 2 {
		return PictureUnknown, &remuxerr.StructuralError{Op: "parsePictureHeader", Detail: "short picture_header"}
	}
	br := bitreader.New(b)
	if err := br.SkipBits(10); err != nil { // temporal_reference
		return PictureUnknown, err
	}
	v, err := br.GetBits(3)
	if err != nil {
		return PictureUnknown, err
	}
	switch v {
	case 1:
		return PictureI, nil
	case 2:
		return PictureP, nil
	case 3:
		return PictureB, nil
	default:
		return PictureUnknown, &remuxerr.StructuralError{Op: "parsePictureHeader", Detail: "invalid picture_coding_type"}
	}
}
