package matroska

import (
	"encoding/binary"
	"io"

	"github.com/go-remux/remux/internal/remuxerr"
	"github.com/go-remux/remux/pkg/ioutil"
	"github.com/go-remux/remux/pkg/vint"
)

// confirmationHeaders is how many additional well-formed EBML element
// headers must follow a candidate match before it's trusted (spec.md
// §4.7: "accepts a candidate match only when followed by three
// additional well-formed EBML element headers").
const confirmationHeaders = 3

// ResyncToLevel1Element byte-shifts a 32-bit window through src starting
// at its current position, looking for wantedID's 4-byte big-endian
// encoding. A match is only trusted once confirmationHeaders further
// EBML element headers parse cleanly with positions that stay inside
// the source. On success, src is repositioned to the start of the
// confirmed candidate (spec.md §4.7 "positions the reader four bytes
// before the candidate" — i.e. before the scan window that matched,
// which is itself the element ID).
func ResyncToLevel1Element(src ioutil.Source, wantedID uint32) error {
	size, err := src.Size()
	if err != nil {
		return err
	}
	start, err := src.Position()
	if err != nil {
		return err
	}

	var window [4]byte
	for pos := start; pos+4 <= size; pos++ {
		if err := ioutil.ReadAt(src, pos, window[:]); err != nil {
			return err
		}
		if binary.BigEndian.Uint32(window[:]) != wantedID {
			continue
		}
		if validHeaderChain(src, pos, size, confirmationHeaders+1) {
			_, err := src.Seek(pos, io.SeekStart)
			return err
		}
	}
	return &remuxerr.ExhaustionError{Op: "ResyncToLevel1Element", Position: start}
}

// validHeaderChain reports whether count consecutive EBML element
// headers, starting at pos, all parse with a known length whose body
// stays within fileSize. It does not restore src's position; callers
// that need the original position saved must do so themselves.
func validHeaderChain(src ioutil.Source, pos, fileSize int64, count int) bool {
	for i := 0; i < count; i++ {
		if _, err := src.Seek(pos, io.SeekStart); err != nil {
			return false
		}
		idv, err := vint.ReadID(src)
		if err != nil || !idv.Valid {
			return false
		}
		szv, err := vint.Read(src)
		if err != nil || !szv.Valid {
			// An unknown-size element (legal for Segment/Cluster) can't be
			// bounds-checked, so it can't serve as a confirmation header.
			return false
		}
		headerSize := int64(idv.CodedSize + szv.CodedSize)
		if pos+headerSize+szv.Value > fileSize {
			return false
		}
		pos += headerSize + szv.Value
	}
	return true
}
