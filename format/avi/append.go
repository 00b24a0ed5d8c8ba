package avi

import (
	"bytes"

	"github.com/go-remux/remux/format/avi/aviio"
	"github.com/go-remux/remux/internal/remuxerr"
	"github.com/go-remux/remux/pkg/ioutil"
)

// filePosSourceShift packs a chained file's index into the high 32 bits
// of a stored file_pos (spec.md §4.3 "Appending": "their file_pos high
// word set to the source file number so the reader can dispatch reads to
// the correct backing file"). Source 0 therefore round-trips as a bare
// offset, since 0<<32 contributes nothing.
const filePosSourceShift = 32

func packFilePos(sourceIdx int, offset int64) int64 {
	return int64(sourceIdx)<<filePosSourceShift | (offset & 0xFFFFFFFF)
}

func unpackFilePos(packed int64) (sourceIdx int, offset int64) {
	return int(packed >> filePosSourceShift), packed & 0xFFFFFFFF
}

// AppendFile chains another AVI file onto r, provided every stream is
// compatible (spec.md §4.3 "Appending"). On success the new file's
// streams contribute their index entries to the matching existing
// streams and r.sources grows by one; on incompatibility no state is
// mutated and an error is returned.
func (r *Reader) AppendFile(src ioutil.Source) error {
	if r.opts.DisableMultiFile {
		return &remuxerr.StructuralError{Op: "AppendFile", Detail: "multi-file append disabled by options"}
	}

	next, err := NewReader(src, r.opts)
	if err != nil {
		return err
	}
	if len(next.Streams) != len(r.Streams) {
		return &remuxerr.StructuralError{Op: "AppendFile", Detail: "stream count mismatch"}
	}
	for i, s := range r.Streams {
		if !streamsCompatible(s, next.Streams[i]) {
			return &remuxerr.StructuralError{Op: "AppendFile", Detail: "incompatible stream layout"}
		}
	}

	sourceIdx := len(r.sources)
	r.sources = append(r.sources, src)
	size, err := src.Size()
	if err != nil {
		return err
	}
	r.fileSizes = append(r.fileSizes, size)

	for i, s := range r.Streams {
		merged := &indexChain{}
		for _, e := range s.IndexEntries() {
			merged.append(e)
		}
		for _, e := range next.Streams[i].IndexEntries() {
			// Historical quirk (spec.md §9): the keyframe bit is XORed,
			// not merely reinterpreted, when merging a chained file's
			// entries into the base stream.
			flipped := e.SizeAndKeyframe ^ int32(-1<<31)
			_, localOffset := unpackFilePos(e.FilePos)
			packed := packFilePos(sourceIdx, localOffset)
			merged.append(aviio.IndexEntry2{
				ChunkID:         e.ChunkID,
				FilePos:         packed,
				SizeAndKeyframe: flipped,
			})
		}
		s.chain = merged
		s.index = nil
		s.FrameCount = int64(len(s.MaterializeIndex2()))
	}

	return nil
}

// streamsCompatible implements spec.md §4.3's per-stream append
// compatibility check: matching fccType, integer scale/rate ratio,
// sample_size, and format_blob bytes, with a PCM-specific relaxation
// that compares only the fixed PCMWAVEFORMAT prefix.
func streamsCompatible(a, b *Stream) bool {
	if a.Header == nil || b.Header == nil {
		return false
	}
	if a.Header.Type != b.Header.Type {
		return false
	}
	if a.Header.SampleSize != b.Header.SampleSize {
		return false
	}
	if !sameRatio(int64(a.Header.Scale), int64(a.Header.Rate), int64(b.Header.Scale), int64(b.Header.Rate)) {
		return false
	}
	return formatBlobCompatible(a, b)
}

func sameRatio(aNum, aDen, bNum, bDen int64) bool {
	if aDen == 0 || bDen == 0 {
		return aNum == bNum && aDen == bDen
	}
	return aNum*bDen == bNum*aDen
}

// pcmWaveFormatPrefixSize is sizeof(PCMWAVEFORMAT): the fixed 16-byte
// WAVEFORMATEX prefix shared by every PCM variant, excluding cbSize and
// any codec-specific extra bytes.
const pcmWaveFormatPrefixSize = 16

func formatBlobCompatible(a, b *Stream) bool {
	var wfxA, wfxB aviio.WaveFormatEx
	aIsPCM := a.IsAudio() && a.parseWaveFormat(&wfxA) && wfxA.FormatTag == 0x0001
	bIsPCM := b.IsAudio() && b.parseWaveFormat(&wfxB) && wfxB.FormatTag == 0x0001
	if aIsPCM && bIsPCM {
		n := pcmWaveFormatPrefixSize
		if len(a.FormatBlob) < n || len(b.FormatBlob) < n {
			return false
		}
		return bytes.Equal(a.FormatBlob[:n], b.FormatBlob[:n])
	}
	return bytes.Equal(a.FormatBlob, b.FormatBlob)
}
