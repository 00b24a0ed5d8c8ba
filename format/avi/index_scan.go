package avi

import (
	"encoding/binary"

	"github.com/go-remux/remux/format/avi/aviio"
	"github.com/go-remux/remux/internal/remuxlog"
	"github.com/go-remux/remux/pkg/ioutil"
)

// fileScanReindex implements spec.md §4.1 "File-scan fallback": when
// neither a legacy idx1 nor an OpenDML super-index was found (or either
// referenced a chunk id that doesn't belong to any known stream), rebuild
// every stream's index by walking the movi payload chunk-by-chunk,
// falling back to a byte-granularity scan ("aggressive mode") if the
// first pass's declared chunk sizes stop lining up with real chunk
// boundaries.
func (r *Reader) fileScanReindex(src ioutil.Source, sourceIdx int) error {
	for _, s := range r.Streams {
		s.Clear()
	}

	size, err := src.Size()
	if err != nil {
		return err
	}

	ok := r.scanChunkWalk(src, r.moviPayloadStart, size)
	if !ok {
		r.aggressiveMode = true
		remuxlog.AggressiveModeEngaged(r.moviPayloadStart)
		for _, s := range r.Streams {
			s.Clear()
		}
		if err := r.scanByteGranular(src, r.moviPayloadStart, size); err != nil {
			return err
		}
		r.fileIsDamaged = true
	}

	for _, s := range r.Streams {
		s.MaterializeIndex2()
	}
	return nil
}

// scanChunkWalk is the first-stage, trusting scan: it walks the chunk
// range [start, end) strictly by each chunk's declared size, appending
// an index entry whenever a chunk id resolves to a known stream. RIFF/
// LIST containers of subtype movi, AVIX or rec are descended into
// rather than skipped (spec.md §4.1), since an OpenDML AVIX extension or
// an interleaved 'rec ' group nests its stream chunks one level deeper
// than the top-level movi payload. It reports false (triggering
// aggressive mode) if it runs off the end of the range before reaching
// it, or if a chunk size would require seeking past end.
func (r *Reader) scanChunkWalk(src ioutil.Source, start, end int64) bool {
	pos := start
	var hdr [8]byte
	for pos+8 <= end {
		if err := ioutil.ReadAt(src, pos, hdr[:]); err != nil {
			return false
		}
		fourCC := binary.LittleEndian.Uint32(hdr[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		if chunkSize < 0 || pos+8+chunkSize > end {
			return false
		}

		if fourCC == aviio.FourCCLIST || fourCC == aviio.FourCCRIFF {
			if chunkSize < 4 {
				return false
			}
			var listType [4]byte
			if err := ioutil.ReadAt(src, pos+8, listType[:]); err != nil {
				return false
			}
			switch binary.LittleEndian.Uint32(listType[:]) {
			case aviio.FourCCmovi, aviio.FourCCAVIX, fourCCrec:
				if !r.scanChunkWalk(src, pos+12, pos+8+chunkSize) {
					return false
				}
			}
			pos += 8 + aviio.Align64(chunkSize)
			continue
		}

		if streamIdx, _, ok := aviio.ParseChunkStreamNumber(fourCC); ok && streamIdx < len(r.Streams) {
			isKey := true // no flags available from a bare scan; spec.md
			// §4.1 "File-scan fallback" treats every recovered frame as a
			// keyframe candidate unless the codec parser later says
			// otherwise.
			r.Streams[streamIdx].Append(fourCC, pos, int32(chunkSize), isKey)
		}

		pos += 8 + aviio.Align64(chunkSize)
	}
	return true
}

// scanByteGranular is the aggressive-mode fallback: instead of trusting
// declared chunk sizes to find the next chunk, it searches byte-by-byte
// for the next plausible "##tc" chunk id and re-synchronizes there,
// accepting whatever size field follows only if it doesn't overrun the
// file (spec.md §4.1 "aggressive mode ... reinterprets any 4 bytes
// matching a known stream-chunk pattern as a chunk boundary").
func (r *Reader) scanByteGranular(src ioutil.Source, start, fileSize int64) error {
	const window = 1 << 20 // 1 MiB read window
	buf := make([]byte, window+8)
	pos := start

	for pos+8 <= fileSize {
		n := window + 8
		if pos+int64(n) > fileSize {
			n = int(fileSize - pos)
		}
		if n < 8 {
			break
		}
		if err := ioutil.ReadAt(src, pos, buf[:n]); err != nil {
			return err
		}

		advanced := false
		for i := 0; i+8 <= n; i++ {
			fourCC := binary.LittleEndian.Uint32(buf[i : i+4])
			streamIdx, _, ok := aviio.ParseChunkStreamNumber(fourCC)
			if !ok || streamIdx >= len(r.Streams) {
				continue
			}
			chunkSize := int64(binary.LittleEndian.Uint32(buf[i+4 : i+8]))
			chunkPos := pos + int64(i)
			if chunkSize < 0 || chunkPos+8+chunkSize > fileSize {
				continue
			}
			next := chunkPos + 8 + aviio.Align64(chunkSize)
			if !r.nextChunkConfirms(src, next, fileSize) {
				continue
			}
			r.Streams[streamIdx].Append(fourCC, chunkPos, int32(chunkSize), true)
			pos = next
			advanced = true
			break
		}
		if !advanced {
			pos += int64(n) - 7
			if pos < start {
				pos = start
			}
		}
	}
	return nil
}

// nextChunkConfirms reports whether the chunk header at pos parses as a
// known stream chunk without overrunning fileSize, confirming a
// candidate accepted by scanByteGranular (spec.md §4.1: "in aggressive
// mode an entry is only accepted if the next chunk header also parses
// validly"). pos landing exactly at fileSize (the candidate was the
// last chunk) counts as confirmed since there is nothing left to check.
func (r *Reader) nextChunkConfirms(src ioutil.Source, pos, fileSize int64) bool {
	if pos >= fileSize {
		return true
	}
	if pos+8 > fileSize {
		return false
	}
	var hdr [8]byte
	if err := ioutil.ReadAt(src, pos, hdr[:]); err != nil {
		return false
	}
	fourCC := binary.LittleEndian.Uint32(hdr[0:4])
	streamIdx, _, ok := aviio.ParseChunkStreamNumber(fourCC)
	if !ok || streamIdx >= len(r.Streams) {
		return false
	}
	chunkSize := int64(binary.LittleEndian.Uint32(hdr[4:8]))
	return chunkSize >= 0 && pos+8+chunkSize <= fileSize
}
