package avc

// AVCDecoderConfRecord is the AVCDecoderConfigurationRecord (ISO/IEC
// 14496-15 §5.2.4.1.1), the binary shape Matroska's CodecPrivate and
// MP4's avcC box both carry verbatim (spec.md §4.6 "avcC emission").
//
// Grounded on the Marshal/Unmarshal/Len layout of
// _examples/other_examples/99afe196_bugVanisher-streamer__media-codec-h264parser-parser.go.go's
// AVCDecoderConfRecord.
type AVCDecoderConfRecord struct {
	AVCProfileIndication byte
	ProfileCompatibility byte
	AVCLevelIndication   byte
	LengthSizeMinusOne   byte
	SPS                  [][]byte
	PPS                  [][]byte
}

// NewCodecDataFromSPSAndPPS builds a record directly from one SPS/PPS
// pair, the shape a freshly-parsed AVC stream has on first flush.
// nalSizeLength is the output NALU length-prefix width in bytes (1, 2,
// or 4).
func NewCodecDataFromSPSAndPPS(sps, pps []byte, nalSizeLength int) AVCDecoderConfRecord {
	var r AVCDecoderConfRecord
	if len(sps) >= 4 {
		r.AVCProfileIndication = sps[1]
		r.ProfileCompatibility = sps[2]
		r.AVCLevelIndication = sps[3]
	}
	if nalSizeLength <= 0 {
		nalSizeLength = 4
	}
	r.LengthSizeMinusOne = byte(nalSizeLength - 1)
	r.SPS = [][]byte{append([]byte(nil), sps...)}
	r.PPS = [][]byte{append([]byte(nil), pps...)}
	return r
}

// Len returns the exact number of bytes Marshal writes.
func (r AVCDecoderConfRecord) Len() int {
	n := 6
	for _, s := range r.SPS {
		n += 2 + len(s)
	}
	n++ // PPS count byte
	for _, s := range r.PPS {
		n += 2 + len(s)
	}
	return n
}

// Marshal writes the record into b, which must be at least Len() bytes.
func (r AVCDecoderConfRecord) Marshal(b []byte) int {
	b[0] = 1
	b[1] = r.AVCProfileIndication
	b[2] = r.ProfileCompatibility
	b[3] = r.AVCLevelIndication
	b[4] = r.LengthSizeMinusOne | 0xFC
	b[5] = byte(len(r.SPS)) | 0xE0
	pos := 6
	for _, s := range r.SPS {
		b[pos] = byte(len(s) >> 8)
		b[pos+1] = byte(len(s))
		pos += 2
		copy(b[pos:], s)
		pos += len(s)
	}
	b[pos] = byte(len(r.PPS))
	pos++
	for _, s := range r.PPS {
		b[pos] = byte(len(s) >> 8)
		b[pos+1] = byte(len(s))
		pos += 2
		copy(b[pos:], s)
		pos += len(s)
	}
	return pos
}

// Unmarshal decodes a record from b, returning the number of bytes
// consumed.
func (r *AVCDecoderConfRecord) Unmarshal(b []byte) (int, error) {
	if len(b) < 7 {
		return 0, shortNALU("AVCDecoderConfRecord.Unmarshal")
	}
	r.AVCProfileIndication = b[1]
	r.ProfileCompatibility = b[2]
	r.AVCLevelIndication = b[3]
	r.LengthSizeMinusOne = b[4] & 0x03
	spsCount := int(b[5] & 0x1F)
	pos := 6
	r.SPS = nil
	for i := 0; i < spsCount; i++ {
		if pos+2 > len(b) {
			return 0, shortNALU("AVCDecoderConfRecord.Unmarshal")
		}
		l := int(b[pos])<<8 | int(b[pos+1])
		pos += 2
		if pos+l > len(b) {
			return 0, shortNALU("AVCDecoderConfRecord.Unmarshal")
		}
		r.SPS = append(r.SPS, append([]byte(nil), b[pos:pos+l]...))
		pos += l
	}
	if pos >= len(b) {
		return 0, shortNALU("AVCDecoderConfRecord.Unmarshal")
	}
	ppsCount := int(b[pos])
	pos++
	r.PPS = nil
	for i := 0; i < ppsCount; i++ {
		if pos+2 > len(b) {
			return 0, shortNALU("AVCDecoderConfRecord.Unmarshal")
		}
		l := int(b[pos])<<8 | int(b[pos+1])
		pos += 2
		if pos+l > len(b) {
			return 0, shortNALU("AVCDecoderConfRecord.Unmarshal")
		}
		r.PPS = append(r.PPS, append([]byte(nil), b[pos:pos+l]...))
		pos += l
	}
	return pos, nil
}
