// Package startcode implements the MPEG start-code scanner spec.md §4
// names: byte-wise search for 00 00 01 xx prefixes, plus a classification
// table of start-code identities used by both the MPEG PS demultiplexer
// and the MPEG-1/2 / AVC elementary-stream framers.
//
// Grounded on the findPESStart scan loop in
// _examples/other_examples/c7eb3f87_wnielson-go-mediainfo__internal-mediainfo-mpeg_ps_stream.go.go.
package startcode

// Well-known MPEG-1/2 system and video start-code identities (spec.md
// glossary "GOP", "Sequence header"; §4.5).
const (
	PictureStartCode   = 0x00
	SliceStartCodeMin  = 0x01
	SliceStartCodeMax  = 0xAF
	UserDataStartCode  = 0xB2
	SequenceHeaderCode = 0xB3
	SequenceErrorCode  = 0xB4
	ExtensionStartCode = 0xB5
	SequenceEndCode    = 0xB7
	GroupStartCode     = 0xB8

	PackStartCode         = 0xBA
	SystemHeaderStartCode = 0xBB
	ProgramStreamMapCode  = 0xBC
	PrivateStream1Code    = 0xBD
	PaddingStreamCode     = 0xBE
	PrivateStream2Code    = 0xBF
)

// Find returns the index of the first "00 00 01" prefix in b at or after
// from, or -1 if none is found. The returned index points at the first
// 0x00 byte of the prefix; the caller reads b[idx+3] for the start-code
// identity byte.
func Find(b []byte, from int) int {
	if from < 0 {
		from = 0
	}
	n := len(b)
	for i := from; i+2 < n; i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			return i
		}
	}
	return -1
}

// FindAll returns the start offsets of every start code in b, in order.
func FindAll(b []byte) []int {
	var out []int
	pos := 0
	for {
		idx := Find(b, pos)
		if idx < 0 {
			return out
		}
		out = append(out, idx)
		pos = idx + 3
	}
}

// IsSliceStartCode reports whether id (the byte following 00 00 01) is a
// slice start code (0x01-0xAF).
func IsSliceStartCode(id byte) bool {
	return id >= SliceStartCodeMin && id <= SliceStartCodeMax
}

// IsSystemLevel reports whether id belongs to the MPEG system layer
// (pack header, system header, PSM, PES stream ids) rather than the
// video layer.
func IsSystemLevel(id byte) bool {
	return id >= PackStartCode
}
