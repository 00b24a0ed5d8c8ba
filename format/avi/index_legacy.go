package avi

import (
	"encoding/binary"
	"io"

	"github.com/go-remux/remux/format/avi/aviio"
	"github.com/go-remux/remux/pkg/ioutil"
)

// fourCCrec is the 'rec ' pseudo-chunk idx1 sometimes nests synchronized
// group entries under; it carries no data of its own and is skipped.
var fourCCrec = aviio.FourCC("rec ")

// parseLegacyIndex implements spec.md §4.1 "Legacy idx1": read size/16
// 16-byte records, apply the absolute-vs-relative heuristic once for the
// whole block, then append to the owning stream's index chain.
func (r *Reader) parseLegacyIndex(src ioutil.Source, size uint32, sourceIdx int) error {
	count := int(size / 16)
	if count == 0 {
		return nil
	}
	raw := make([]aviio.IndexEntry, 0, count)
	var buf [16]byte
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(src, buf[:]); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				break
			}
			return err
		}
		raw = append(raw, aviio.IndexEntry{
			ChunkID: binary.LittleEndian.Uint32(buf[0:4]),
			Flags:   binary.LittleEndian.Uint32(buf[4:8]),
			Offset:  binary.LittleEndian.Uint32(buf[8:12]),
			Size:    binary.LittleEndian.Uint32(buf[12:16]),
		})
	}
	if len(raw) == 0 {
		return nil
	}

	// Spec.md §4.1 "Legacy idx1": "if any entry's offset is strictly less
	// than the movi chunk's file offset, the entire table is treated as
	// relative to movi - 4 (the chunk-ID position) rather than absolute.
	// This decision is made once per index block, deterministically."
	//
	// The anchor is taken as moviPayloadStart (the position of the first
	// sample chunk's own ckid, immediately after the 'movi' list type):
	// offset 0 then lands exactly on a chunk header, the "chunk-ID
	// position" the wording above names, matching how this package's own
	// Writer emits offsets (format/avi/writer.go's WritePacket).
	relativeToMovi := false
	for _, e := range raw {
		if int64(e.Offset) < r.moviChunkOffset {
			relativeToMovi = true
			break
		}
	}
	anchor := r.moviPayloadStart

	for _, e := range raw {
		if e.ChunkID == fourCCrec || e.ChunkID == 0 {
			continue
		}
		streamIdx, _, ok := aviio.ParseChunkStreamNumber(e.ChunkID)
		if !ok || streamIdx >= len(r.Streams) {
			r.sawInvalidFourCC = true
			continue
		}
		var abs int64
		if relativeToMovi {
			abs = anchor + int64(e.Offset)
		} else {
			abs = int64(e.Offset)
		}
		isKey := e.Flags&aviio.AVIIF_KEYFRAME != 0
		r.Streams[streamIdx].Append(e.ChunkID, abs, int32(e.Size), isKey)
	}

	for _, s := range r.Streams {
		s.MaterializeIndex2()
	}
	return nil
}
