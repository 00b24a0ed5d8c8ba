// Package vint implements the EBML variable-length integer codec spec.md
// §4 names: a 1-8 byte length field, the leading byte's highest clear bit
// position giving the encoded width.
//
// Grounded on _examples/luispater-matroska-go/ebml.go's readVInt (the
// length-marker-bit scan) and
// _examples/original_source/src/common/vint.cpp/vint.h for the "unknown"
// sentinel (all value bits of the chosen width set) named in spec.md §3.
package vint

import (
	"errors"
	"io"
)

// ErrInvalidLeadByte is returned when the leading byte has no length
// marker bit set (i.e. is zero).
var ErrInvalidLeadByte = errors.New("vint: invalid lead byte")

// VInt is a decoded EBML variable-length integer.
type VInt struct {
	Value     int64
	CodedSize int  // 1..8
	Valid     bool
}

// lengthFromLead returns the coded size (1..8) for the given lead byte,
// or 0 if invalid.
func lengthFromLead(lead byte) int {
	if lead == 0 {
		return 0
	}
	for i := 0; i < 8; i++ {
		if lead&(0x80>>uint(i)) != 0 {
			return i + 1
		}
	}
	return 0
}

// Read decodes one EBML vint from r, as a size/value field (not an
// element ID): the length-marker bit is stripped from the returned
// value.
func Read(r io.Reader) (VInt, error) {
	return read(r, false)
}

// ReadID decodes one EBML vint as an element ID: the length-marker bit
// is kept in the returned value, since element IDs are compared
// including their marker per the EBML spec.
func ReadID(r io.Reader) (VInt, error) {
	return read(r, true)
}

func read(r io.Reader, keepMarker bool) (VInt, error) {
	var lead [1]byte
	if _, err := io.ReadFull(r, lead[:]); err != nil {
		return VInt{}, err
	}
	size := lengthFromLead(lead[0])
	if size == 0 {
		return VInt{}, ErrInvalidLeadByte
	}
	rest := make([]byte, size-1)
	if size > 1 {
		if _, err := io.ReadFull(r, rest); err != nil {
			return VInt{}, err
		}
	}
	var value int64
	if keepMarker {
		value = int64(lead[0])
	} else {
		mask := byte(0xFF >> uint(size))
		value = int64(lead[0] & mask)
	}
	for _, b := range rest {
		value = (value << 8) | int64(b)
	}
	v := VInt{Value: value, CodedSize: size, Valid: true}
	if !keepMarker && v.IsUnknown() {
		v.Valid = false
	}
	return v, nil
}

// IsUnknown reports whether the value equals the EBML "unknown size"
// sentinel for its coded width: all value bits set.
func (v VInt) IsUnknown() bool {
	bits := uint(7 * v.CodedSize)
	if bits >= 63 {
		return v.Value == (int64(1)<<62 - 1) // saturates at int64 range; practically unreachable
	}
	return v.Value == (int64(1)<<bits)-1
}

// Encode returns the minimal-width EBML encoding of an unsigned value
// (used by the Matroska cues writer, spec.md §6 "vint here is
// unsigned-integer encoding in the minimum number of bytes (1-8)").
// Unlike Read/ReadID, Encode is not EBML-length-prefixed: it is the
// "vint" used inside CueTime/CueTrack/etc bodies, which per spec.md §6 is
// plain unsigned-integer encoding in the minimum number of bytes, not an
// EBML length-marker vint.
func Encode(value uint64) []byte {
	size := 1
	for v := value; v >= (uint64(1) << uint(8*size)); size++ {
	}
	out := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		out[i] = byte(value)
		value >>= 8
	}
	return out
}

// EncodeEBML returns the EBML-length-prefixed encoding of value using
// exactly width bytes (1..8); width must be large enough to hold value.
func EncodeEBML(value uint64, width int) []byte {
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = byte(value)
		value >>= 8
	}
	out[0] |= 0x80 >> uint(width-1)
	return out
}

// MinWidthEBML returns the minimum EBML coded width (1..8) able to hold
// value without colliding with the all-ones "unknown" sentinel for that
// width.
func MinWidthEBML(value uint64) int {
	for width := 1; width <= 8; width++ {
		bits := uint(7 * width)
		max := (uint64(1) << bits) - 2 // leave the all-ones sentinel free
		if value <= max {
			return width
		}
	}
	return 8
}
