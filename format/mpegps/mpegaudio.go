package mpegps

// MPEG audio frame-header probing (ISO/IEC 11172-3 / 13818-3 §2.4.1.3),
// grounded on the same r_mpeg_ps.cpp stream-typing table SPEC_FULL.md
// names for stream_id 0xC0..0xDF: "MPEG audio (layer 1/2/3 decided by
// frame-header probing)". CodecTag only distinguishes MP2 (layers I/II)
// from MP3 (layer III), matching the two audio tags spec.md §3 names.

var mpegAudioSampleRates = [3][3]int{
	{44100, 48000, 32000}, // MPEG-1
	{22050, 24000, 16000}, // MPEG-2
	{11025, 12000, 8000},  // MPEG-2.5
}

// sniffMPEGAudioFrame scans b for a syntactically valid MPEG-1/2 audio
// frame header and, if found, returns the codec it implies along with
// the sample rate and channel count decoded from it.
func sniffMPEGAudioFrame(b []byte) (codec CodecTag, sampleRate, channels int, ok bool) {
	for i := 0; i+4 <= len(b); i++ {
		if b[i] != 0xFF || b[i+1]&0xE0 != 0xE0 {
			continue
		}
		version := (b[i+1] >> 3) & 0x3
		layer := (b[i+1] >> 1) & 0x3
		if version == 0x1 || layer == 0x0 {
			continue // reserved version / reserved layer
		}
		bitrateIdx := (b[i+2] >> 4) & 0xF
		sampleRateIdx := (b[i+2] >> 2) & 0x3
		if bitrateIdx == 0xF || sampleRateIdx == 0x3 {
			continue
		}

		var rateTableRow int
		switch version {
		case 0x3: // MPEG-1
			rateTableRow = 0
		case 0x2: // MPEG-2
			rateTableRow = 1
		default: // 0x0, MPEG-2.5
			rateTableRow = 2
		}
		rate := mpegAudioSampleRates[rateTableRow][sampleRateIdx]

		chanMode := (b[i+3] >> 6) & 0x3
		ch := 2
		if chanMode == 0x3 {
			ch = 1
		}

		tag := MP2
		if layer == 0x1 { // layer III
			tag = MP3
		}
		return tag, rate, ch, true
	}
	return CodecUnknown, 0, 0, false
}
