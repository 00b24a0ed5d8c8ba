// Package aviio is the on-disk struct layer for the AVI family: RIFF
// chunk headers, the main/stream headers, BITMAPINFOHEADER/WAVEFORMATEX
// format blobs, and the three index shapes spec.md §4.1 names (legacy
// idx1, OpenDML super/std-index, and the in-memory IndexEntry2).
//
// Kept and expanded from the teacher's format/avi/aviio/aviio.go:
// ChunkHeader, MainAVIHeader, StreamHeader, BitmapInfoHeader,
// WaveFormatEx and the FourCC helpers are the teacher's struct field
// order and types verbatim (spec.md §6 requires "2-byte RECT shorts, not
// 4-byte longs" for StreamHeader.Frame, which the teacher already got
// right). OpenDML super/std-index structures are new, grounded on
// _examples/anaray-fq/format/riff/avi.go and
// _examples/other_examples/9d8742b7_wnielson-go-mediainfo__internal-mediainfo-avi.go.go,
// neither of which the teacher had.
package aviio

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	ErrInvalidFormat = errors.New("aviio: invalid AVI format")
	ErrUnexpectedEOF = errors.New("aviio: unexpected EOF")
)

// FourCC converts a 4-character string to its little-endian uint32 form.
func FourCC(s string) uint32 {
	if len(s) != 4 {
		panic("FourCC: string must be 4 characters")
	}
	return binary.LittleEndian.Uint32([]byte(s))
}

// FourCCString converts a little-endian uint32 back to its 4-character
// string form.
func FourCCString(n uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	return string(b[:])
}

// Well-known FourCCs.
var (
	FourCCRIFF = FourCC("RIFF")
	FourCCAVI  = FourCC("AVI ")
	FourCCAVIX = FourCC("AVIX")
	FourCCLIST = FourCC("LIST")
	FourCChdrl = FourCC("hdrl")
	FourCCavih = FourCC("avih")
	FourCCstrl = FourCC("strl")
	FourCCstrh = FourCC("strh")
	FourCCstrf = FourCC("strf")
	FourCCstrd = FourCC("strd")
	FourCCindx = FourCC("indx")
	FourCCmovi = FourCC("movi")
	FourCCidx1 = FourCC("idx1")
	FourCCvids = FourCC("vids")
	FourCCauds = FourCC("auds")
	FourCCtxts = FourCC("txts")
)

// ChunkHeader is the fundamental 8-byte RIFF chunk header: a 4-byte
// FourCC and a 4-byte little-endian length.
type ChunkHeader struct {
	FourCC uint32
	Size   uint32
}

// MainAVIHeader is the fixed 56-byte avih payload (spec.md §6).
type MainAVIHeader struct {
	MicroSecPerFrame    uint32
	MaxBytesPerSec      uint32
	PaddingGranularity  uint32
	Flags               uint32
	TotalFrames         uint32
	InitialFrames       uint32
	Streams             uint32
	SuggestedBufferSize uint32
	Width               uint32
	Height              uint32
	Reserved            [4]uint32
}

// StreamHeader is the strh payload. Frame is kept as [4]uint16 (RECT of
// 2-byte shorts), matching legacy VfW layout bit-for-bit per spec.md §6:
// "any reimplementation must use 2-byte RECT shorts, not 4-byte longs".
type StreamHeader struct {
	Type                uint32
	Handler             uint32
	Flags               uint32
	Priority            uint16
	Language            uint16
	InitialFrames       uint32
	Scale               uint32
	Rate                uint32
	Start               uint32
	Length              uint32
	SuggestedBufferSize uint32
	Quality             uint32
	SampleSize          uint32
	Frame               [4]uint16 // rcFrame: left, top, right, bottom
}

// BitmapInfoHeader is the video strf payload prefix.
type BitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// WaveFormatEx is the audio strf payload prefix.
type WaveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CbSize         uint16
}

// IndexEntry is a legacy idx1 record: 16 bytes, four little-endian u32
// fields.
type IndexEntry struct {
	ChunkID uint32
	Flags   uint32
	Offset  uint32
	Size    uint32
}

const AVIIF_KEYFRAME = 0x00000010

// IndexEntry2 is the in-memory, per-stream index record spec.md §3
// names: bit 31 of SizeAndKeyframe is set when the entry is NOT a
// keyframe (note the inverted polarity relative to the on-disk
// AVIIF_KEYFRAME flag, preserved from the legacy OpenDML convention).
type IndexEntry2 struct {
	ChunkID         uint32
	FilePos         int64
	SizeAndKeyframe int32
}

const notKeyframeBit = int32(-1 << 31)

// Size returns the payload size with the keyframe bit masked off.
func (e IndexEntry2) Size() int32 { return e.SizeAndKeyframe &^ notKeyframeBit }

// IsKeyframe reports whether bit 31 is clear.
func (e IndexEntry2) IsKeyframe() bool { return e.SizeAndKeyframe&notKeyframeBit == 0 }

// MakeSizeAndKeyframe packs size and a keyframe flag into the on-disk
// encoding IndexEntry2 uses.
func MakeSizeAndKeyframe(size int32, keyframe bool) int32 {
	if keyframe {
		return size &^ notKeyframeBit
	}
	return size | notKeyframeBit
}

// OpenDML hierarchical super-index / std-index (spec.md §4.1 "OpenDML
// hierarchical"). bIndexType 0 marks a super-index (AVI_INDEX_OF_INDEXES),
// bIndexType 1 marks a std-index (AVI_INDEX_OF_CHUNKS).
const (
	AVIIndexOfIndexes = 0
	AVIIndexOfChunks  = 1
)

// SuperIndexEntry is one entry of an indx (super-index) chunk.
type SuperIndexEntry struct {
	Offset   uint64 // absolute qwOffset of the child ix## chunk
	Size     uint32 // size of the child ix## chunk
	Duration uint32 // number of samples covered, informational
}

// SuperIndexHeader is the fixed-size prefix of an indx chunk.
type SuperIndexHeader struct {
	LongsPerEntry uint16
	IndexSubType  uint8
	IndexType     uint8
	EntriesInUse  uint32
	ChunkID       uint32
	Reserved      [3]uint32
}

// StdIndexHeader is the fixed-size prefix of an ix## chunk.
type StdIndexHeader struct {
	LongsPerEntry uint16
	IndexSubType  uint8
	IndexType     uint8
	EntriesInUse  uint32
	ChunkID       uint32
	BaseOffset    uint64
	Reserved      uint32
}

// ReadChunkHeader reads an 8-byte RIFF chunk header.
func ReadChunkHeader(r io.Reader) (*ChunkHeader, error) {
	var h ChunkHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// WriteChunkHeader writes an 8-byte RIFF chunk header.
func WriteChunkHeader(w io.Writer, fourCC uint32, size uint32) error {
	return binary.Write(w, binary.LittleEndian, &ChunkHeader{FourCC: fourCC, Size: size})
}

// ReadMainAVIHeader reads the fixed 56-byte avih payload.
func ReadMainAVIHeader(r io.Reader) (*MainAVIHeader, error) {
	var h MainAVIHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// WriteMainAVIHeader writes the avih payload.
func WriteMainAVIHeader(w io.Writer, h *MainAVIHeader) error {
	return binary.Write(w, binary.LittleEndian, h)
}

// ReadStreamHeader reads the strh payload.
func ReadStreamHeader(r io.Reader) (*StreamHeader, error) {
	var h StreamHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// WriteStreamHeader writes the strh payload.
func WriteStreamHeader(w io.Writer, h *StreamHeader) error {
	return binary.Write(w, binary.LittleEndian, h)
}

// ReadBitmapInfoHeader reads the video strf prefix.
func ReadBitmapInfoHeader(r io.Reader) (*BitmapInfoHeader, error) {
	var h BitmapInfoHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// WriteBitmapInfoHeader writes the video strf prefix.
func WriteBitmapInfoHeader(w io.Writer, h *BitmapInfoHeader) error {
	return binary.Write(w, binary.LittleEndian, h)
}

// ReadWaveFormatEx reads the audio strf prefix.
func ReadWaveFormatEx(r io.Reader) (*WaveFormatEx, error) {
	var h WaveFormatEx
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// WriteWaveFormatEx writes the audio strf prefix.
func WriteWaveFormatEx(w io.Writer, h *WaveFormatEx) error {
	return binary.Write(w, binary.LittleEndian, h)
}

// ReadSuperIndexHeader reads the fixed-size prefix of an indx chunk.
func ReadSuperIndexHeader(r io.Reader) (*SuperIndexHeader, error) {
	var h SuperIndexHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ReadStdIndexHeader reads the fixed-size prefix of an ix## chunk.
func ReadStdIndexHeader(r io.Reader) (*StdIndexHeader, error) {
	var h StdIndexHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Align rounds n up to a 2-byte boundary (RIFF chunk payloads are
// word-padded with a single zero byte when odd-sized).
func Align(n int) int {
	return (n + 1) &^ 1
}

// Align64 is the int64 analogue of Align.
func Align64(n int64) int64 {
	return (n + 1) &^ 1
}

// ParseChunkStreamNumber parses a "##tc" chunk id (two hex digits plus a
// two-letter type) into its stream index, returning false if the first
// two characters aren't hex digits.
func ParseChunkStreamNumber(fourCC uint32) (streamIndex int, kind string, ok bool) {
	s := FourCCString(fourCC)
	if len(s) != 4 {
		return 0, "", false
	}
	hi, okHi := hexVal(s[0])
	lo, okLo := hexVal(s[1])
	if !okHi || !okLo {
		return 0, "", false
	}
	return hi*16 + lo, s[2:4], true
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}
