package avi

import (
	"encoding/binary"
	"io"

	"github.com/go-remux/remux/format/avi/aviio"
	"github.com/go-remux/remux/internal/remuxerr"
	"github.com/go-remux/remux/pkg/ioutil"
)

// indexEntryNotKeyframeBit mirrors aviio's IndexEntry2 polarity: bit 31
// of an OpenDML std-index dwSize word is set when the sample is NOT a
// keyframe.
const indexEntryNotKeyframeBit = uint32(1) << 31

// readSuperIndex reads one 'indx' (super-index) chunk's fixed header
// plus its qwOffset/dwSize/dwDuration entries (spec.md §4.1 "OpenDML
// hierarchical": "an indx chunk lists, per stream, the absolute file
// offsets of its child ix## chunks").
func (r *Reader) readSuperIndex(src ioutil.Source, size uint32) (*aviio.SuperIndexHeader, []aviio.SuperIndexEntry, error) {
	sih, err := aviio.ReadSuperIndexHeader(src)
	if err != nil {
		return nil, nil, err
	}
	const headerSize = 24
	remaining := int64(size) - headerSize
	entries := make([]aviio.SuperIndexEntry, 0, sih.EntriesInUse)
	var buf [16]byte
	for i := uint32(0); i < sih.EntriesInUse && remaining >= 16; i++ {
		if _, err := io.ReadFull(src, buf[:]); err != nil {
			return nil, nil, err
		}
		entries = append(entries, aviio.SuperIndexEntry{
			Offset:   binary.LittleEndian.Uint64(buf[0:8]),
			Size:     binary.LittleEndian.Uint32(buf[8:12]),
			Duration: binary.LittleEndian.Uint32(buf[12:16]),
		})
		remaining -= 16
	}
	if remaining > 0 {
		if err := skip(src, remaining); err != nil {
			return nil, nil, err
		}
	}
	return sih, entries, nil
}

// resolveSuperIndex walks each child ix## (std-index) chunk a super-index
// references, decoding its entries and appending them to s's index chain
// (spec.md §4.1 "OpenDML hierarchical"). wLongsPerEntry 2 and 3 entries
// start with (offset, size); 6-long entries are read as
// (_, _, offset, _, size, _) and every one is treated as a keyframe.
func (r *Reader) resolveSuperIndex(src ioutil.Source, s *Stream, sih *aviio.SuperIndexHeader, entries []aviio.SuperIndexEntry) error {
	savedPos, err := src.Position()
	if err != nil {
		return err
	}
	defer src.Seek(savedPos, io.SeekStart)

	for _, childEntry := range entries {
		if childEntry.Size == 0 {
			continue
		}
		if err := r.resolveStdIndexChunk(src, s, int64(childEntry.Offset)); err != nil {
			return err
		}
	}
	return nil
}

// resolveStdIndexChunk reads one ix## chunk header plus its StdIndexHeader
// and entries, starting at the chunk's absolute file offset.
func (r *Reader) resolveStdIndexChunk(src ioutil.Source, s *Stream, chunkOffset int64) error {
	if _, err := src.Seek(chunkOffset, io.SeekStart); err != nil {
		return err
	}
	chunkHeader, err := aviio.ReadChunkHeader(src)
	if err != nil {
		return err
	}
	sth, err := aviio.ReadStdIndexHeader(src)
	if err != nil {
		return err
	}
	if sth.LongsPerEntry != 2 && sth.LongsPerEntry != 3 && sth.LongsPerEntry != 6 {
		return &remuxerr.RangeError{Op: "resolveStdIndexChunk", Detail: "unsupported wLongsPerEntry"}
	}

	const stdHeaderSize = 24
	remaining := int64(chunkHeader.Size) - stdHeaderSize
	entryWidth := int64(sth.LongsPerEntry) * 4

	var buf [24]byte // max supported wLongsPerEntry*4 (6 longs)

	for i := uint32(0); i < sth.EntriesInUse && remaining >= entryWidth; i++ {
		if _, err := io.ReadFull(src, buf[:entryWidth]); err != nil {
			return err
		}

		var relOffset, sizeWord uint32
		isKey := true
		if sth.LongsPerEntry == 6 {
			// (_, _, offset, _, size, _): all entries are keyframes.
			relOffset = binary.LittleEndian.Uint32(buf[8:12])
			sizeWord = binary.LittleEndian.Uint32(buf[16:20])
		} else {
			relOffset = binary.LittleEndian.Uint32(buf[0:4])
			sizeWord = binary.LittleEndian.Uint32(buf[4:8])
			isKey = sizeWord&indexEntryNotKeyframeBit == 0
		}
		size := sizeWord &^ indexEntryNotKeyframeBit

		// qwBaseOffset + dwOffset addresses the sample payload; backing up
		// 8 bytes lands on its chunk header, the position every index
		// entry's FilePos records.
		abs := int64(sth.BaseOffset) + int64(relOffset) - 8
		s.Append(sth.ChunkID, abs, int32(size), isKey)
		remaining -= entryWidth
	}
	return nil
}
