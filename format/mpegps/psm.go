package mpegps

// streamType is the MPEG-2 Systems Table 2-29 stream_type byte, carried
// in the program_stream_map (stream_id 0xBC) when present (spec.md §4.4
// "program_stream_map overrides sub-stream classification"). Values and
// their codec mapping are grounded per SPEC_FULL.md "SUPPLEMENTED
// FEATURES" / _examples/original_source/src/input/r_mpeg_ps.cpp.
type streamType byte

const (
	streamTypeMPEG1Video streamType = 0x01
	streamTypeMPEG2Video streamType = 0x02
	streamTypeMPEG1Audio streamType = 0x03
	streamTypeMPEG2Audio streamType = 0x04
	streamTypeAVC        streamType = 0x1B
	streamTypeAC3        streamType = 0x81
	streamTypeDTS        streamType = 0x8A
	streamTypeLPCMHDMV   streamType = 0x80
)

func (t streamType) codecTag() CodecTag {
	switch t {
	case streamTypeMPEG1Video:
		return MPG1
	case streamTypeMPEG2Video:
		return MPG2
	case streamTypeMPEG1Audio:
		return MP2
	case streamTypeMPEG2Audio:
		return MP2
	case streamTypeAVC:
		return AVC1
	case streamTypeAC3:
		return AC3
	case streamTypeDTS:
		return DTS
	case streamTypeLPCMHDMV:
		return PCM
	default:
		return CodecUnknown
	}
}

// psmEntry is one (stream_id -> stream_type) mapping extracted from a
// program_stream_map packet's elementary_stream_map.
type psmEntry struct {
	streamID uint8
	esType   streamType
}

// parsePSM parses the program_stream_map payload (ISO/IEC 13818-1
// §2.5.4): 2 reserved bytes + program_stream_info_length(16) + info +
// elementary_stream_map_length(16) + repeated
// (stream_type(8) elementary_stream_id(8) elementary_stream_info_length(16) + info)
// + CRC32(32), which this parser ignores.
func parsePSM(payload []byte) []psmEntry {
	if len(payload) < 2 {
		return nil
	}
	p := payload[2:]
	if len(p) < 2 {
		return nil
	}
	infoLen := int(p[0])<<8 | int(p[1])
	p = p[2:]
	if infoLen > len(p) {
		return nil
	}
	p = p[infoLen:]
	if len(p) < 2 {
		return nil
	}
	mapLen := int(p[0])<<8 | int(p[1])
	p = p[2:]
	if mapLen > len(p) {
		mapLen = len(p)
	}
	p = p[:mapLen]

	var entries []psmEntry
	for len(p) >= 4 {
		es := streamType(p[0])
		id := p[1]
		esInfoLen := int(p[2])<<8 | int(p[3])
		p = p[4:]
		if esInfoLen > len(p) {
			break
		}
		p = p[esInfoLen:]
		entries = append(entries, psmEntry{streamID: id, esType: es})
	}
	return entries
}

// classifySubStream maps a private_stream_1 payload's first byte (the
// sub-stream id) to its CodecTag and the number of audio-header bytes
// that follow the sub-stream id byte, following the AC-3/DTS/PCM/
// TrueHD sub-id range table of spec.md §4.4 "Sub-stream typing" and the
// Blu-ray/DVD convention mirrored in
// _examples/other_examples/c7eb3f87_wnielson-go-mediainfo__internal-mediainfo-mpeg_ps_stream.go.go.
func classifySubStream(first byte) (codec CodecTag, headerSkip int) {
	switch {
	case first >= 0x80 && first <= 0x87:
		return AC3, AudioHeaderSkipDefault
	case first >= 0x88 && first <= 0x9F:
		return DTS, AudioHeaderSkipDefault
	case first >= 0xA0 && first <= 0xA7:
		return PCM, AudioHeaderSkipDefault
	case first >= 0xB0 && first <= 0xBF:
		return TRHD, AudioHeaderSkipTrueHD
	case first >= 0xC0 && first <= 0xC7:
		return AC3, AudioHeaderSkipDefault
	default:
		return CodecUnknown, 0
	}
}
