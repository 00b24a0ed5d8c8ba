package avi

import (
	"math"

	"github.com/go-remux/remux/format/avi/aviio"
	"github.com/go-remux/remux/internal/remuxlog"
	"github.com/go-remux/remux/pkg/rational"
)

// chainBucketSize is the entry count of one index-chain bucket. Spec.md
// §4.1 calls this out explicitly ("chain nodes of 2048 entries"); kept as
// a named constant rather than inlined so the O(1)-amortised-append
// behavior is easy to verify in isolation.
const chainBucketSize = 2048

// indexChain is the growable append-only index structure spec.md §9
// directs replacing the original's intrusive ListNode2<T> with: "a
// growable vector or a double-ended queue ... append, iterate in order,
// remove during iteration". A slice of fixed-capacity buckets gives O(1)
// amortised append without per-entry allocation or an intrusive list.
type indexChain struct {
	buckets [][]aviio.IndexEntry2
}

func (c *indexChain) append(e aviio.IndexEntry2) {
	if len(c.buckets) == 0 || len(c.buckets[len(c.buckets)-1]) == chainBucketSize {
		c.buckets = append(c.buckets, make([]aviio.IndexEntry2, 0, chainBucketSize))
	}
	last := len(c.buckets) - 1
	c.buckets[last] = append(c.buckets[last], e)
}

func (c *indexChain) len() int {
	n := 0
	for _, b := range c.buckets {
		n += len(b)
	}
	return n
}

func (c *indexChain) materialize() []aviio.IndexEntry2 {
	out := make([]aviio.IndexEntry2, 0, c.len())
	for _, b := range c.buckets {
		out = append(out, b...)
	}
	return out
}

func (c *indexChain) clear() { c.buckets = nil }

// Stream is the per-stream descriptor spec.md §3 "AVI stream descriptor"
// names.
type Stream struct {
	Index int // position within the reader's Streams slice

	Header     *aviio.StreamHeader
	FormatBlob []byte

	chain *indexChain
	index []aviio.IndexEntry2 // materialized, authoritative once non-nil

	TotalBytes           int64
	SampleCount          int64
	FrameCount           int64
	LengthInSampleUnits  int64
	KeyframeOnly         bool

	WasVBR                bool
	BitrateMean           float64
	BitrateStddev         float64
	MaxRelativeDeviation  float64

	streamingCount     int64
	streamBytesPushed  int64
	streamPushOps      int64
	lastPushPosition   int64

	cache *streamCache
	stats streamingStats

	// cumBytes is the lazily-built prefix sum of entry sizes, used to
	// locate a byte offset within an audio stream's index without
	// rescanning from the head on every read.
	cumBytes []int64

	// streaming-detection scratch state (spec.md §4.2 "Detection
	// heuristic"): tracks the last N reads to decide whether the
	// consumer is exhibiting a sequential access pattern.
	streakLen      int
	lastReadEnd    int64
	lastFrameIdx   int
	lastFrameSet   bool
	frameStride    int
	streamingOn    bool
}

// IsVideo reports whether the stream's fccType is 'vids'.
func (s *Stream) IsVideo() bool { return s.Header != nil && s.Header.Type == aviio.FourCCvids }

// IsAudio reports whether the stream's fccType is 'auds'.
func (s *Stream) IsAudio() bool { return s.Header != nil && s.Header.Type == aviio.FourCCauds }

// Append adds one index entry to the stream's index chain (spec.md §4.1
// "append(ckid, file_pos, size, is_keyframe): O(1) amortised").
func (s *Stream) Append(ckid uint32, filePos int64, size int32, isKeyframe bool) {
	if s.chain == nil {
		s.chain = &indexChain{}
	}
	s.chain.append(aviio.IndexEntry2{
		ChunkID:         ckid,
		FilePos:         filePos,
		SizeAndKeyframe: aviio.MakeSizeAndKeyframe(size, isKeyframe),
	})
}

// MaterializeIndex2 collapses the chain into a single contiguous array,
// freeing the chain, and returns it. Subsequent reads use s.index.
func (s *Stream) MaterializeIndex2() []aviio.IndexEntry2 {
	if s.chain != nil {
		s.index = s.chain.materialize()
		s.chain = nil
	}
	if s.index == nil {
		s.index = []aviio.IndexEntry2{}
	}
	return s.index
}

// IndexEntries returns the materialized index, materializing it first if
// necessary.
func (s *Stream) IndexEntries() []aviio.IndexEntry2 {
	if s.index == nil {
		return s.MaterializeIndex2()
	}
	return s.index
}

// MaterializeLegacyIndex collapses the index into idx1 on-disk records
// (spec.md §4.1 "materialize_legacy_index").
func (s *Stream) MaterializeLegacyIndex(moviBase int64) []aviio.IndexEntry {
	entries := s.IndexEntries()
	out := make([]aviio.IndexEntry, len(entries))
	for i, e := range entries {
		flags := uint32(0)
		if e.IsKeyframe() {
			flags = aviio.AVIIF_KEYFRAME
		}
		out[i] = aviio.IndexEntry{
			ChunkID: e.ChunkID,
			Flags:   flags,
			Offset:  uint32(e.FilePos - moviBase),
			Size:    uint32(e.Size()),
		}
	}
	return out
}

// Index3Entry is the OpenDML std-index on-disk pair: relative offset and
// size-with-keyflag.
type Index3Entry struct {
	RelativeOffset uint32
	SizeWithFlag   uint32
}

// MaterializeIndex3 collapses the index into the OpenDML pair-of-u32
// form relative to baseOffset (spec.md §4.1 "materialize_index3").
func (s *Stream) MaterializeIndex3(baseOffset int64) []Index3Entry {
	entries := s.IndexEntries()
	out := make([]Index3Entry, len(entries))
	for i, e := range entries {
		size := uint32(e.Size())
		if !e.IsKeyframe() {
			size |= 0x80000000
		}
		out[i] = Index3Entry{
			RelativeOffset: uint32(e.FilePos - baseOffset),
			SizeWithFlag:   size,
		}
	}
	return out
}

// Clear frees all index forms (spec.md §4.1 "clear()").
func (s *Stream) Clear() {
	s.chain = nil
	s.index = nil
}

// FrameRate returns the stream's Rate/Scale as a Rational (frames or
// samples per second), applying the fallback spec.md §4.1
// "Post-indexing fixups" describes when either is zero. Exported for
// consumers (e.g. package pipeline) that need to turn an index entry
// into a packet duration without duplicating the fallback rules.
func (s *Stream) FrameRate(mainHeader *aviio.MainAVIHeader) rational.Rational {
	return s.frameRate(mainHeader)
}

func (s *Stream) frameRate(mainHeader *aviio.MainAVIHeader) rational.Rational {
	if s.Header.Rate != 0 && s.Header.Scale != 0 {
		return rational.New(int64(s.Header.Rate), int64(s.Header.Scale))
	}
	if s.IsVideo() {
		if mainHeader != nil && mainHeader.MicroSecPerFrame != 0 {
			return rational.New(1000000, int64(mainHeader.MicroSecPerFrame))
		}
		return rational.New(15, 1)
	}
	if s.IsAudio() && s.Header.SampleSize != 0 {
		var wfx aviio.WaveFormatEx
		if s.parseWaveFormat(&wfx) && wfx.BlockAlign != 0 {
			return rational.New(int64(wfx.AvgBytesPerSec), int64(wfx.BlockAlign))
		}
	}
	return rational.New(15, 1)
}

func (s *Stream) parseWaveFormat(out *aviio.WaveFormatEx) bool {
	if len(s.FormatBlob) < 16 {
		return false
	}
	*out = aviio.WaveFormatEx{
		FormatTag:      le16(s.FormatBlob[0:2]),
		Channels:       le16(s.FormatBlob[2:4]),
		SamplesPerSec:  le32(s.FormatBlob[4:8]),
		AvgBytesPerSec: le32(s.FormatBlob[8:12]),
		BlockAlign:     le16(s.FormatBlob[12:14]),
		BitsPerSample:  le16(s.FormatBlob[14:16]),
	}
	if len(s.FormatBlob) >= 18 {
		out.CbSize = le16(s.FormatBlob[16:18])
	}
	return true
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// applyPostIndexingFixups implements spec.md §4.1 "Post-indexing
// fixups": forces VBR video sample_size to zero, fills in a fallback
// rate/scale, and reclassifies undersized audio entries as VBR with
// bitrate statistics.
func (s *Stream) applyPostIndexingFixups(mainHeader *aviio.MainAVIHeader) {
	entries := s.IndexEntries()
	s.FrameCount = int64(len(entries))

	var total int64
	for _, e := range entries {
		total += int64(e.Size())
	}
	s.TotalBytes = total

	if s.IsVideo() && s.Header.SampleSize != 0 {
		s.Header.SampleSize = 0
	}

	if s.Header.Rate == 0 || s.Header.Scale == 0 {
		r := s.frameRate(mainHeader)
		s.Header.Rate = uint32(r.Num)
		s.Header.Scale = uint32(r.Den)
		remuxlog.SubstitutedFrameRate(s.Index, s.Header.Rate, s.Header.Scale)
	}

	if s.Header.SampleSize != 0 {
		s.LengthInSampleUnits = s.TotalBytes / int64(s.Header.SampleSize)
	} else {
		s.LengthInSampleUnits = s.FrameCount
	}

	if s.IsAudio() {
		s.detectVBR(entries)
	}
}

// detectVBR implements the VBR reclassification and statistics formulas
// of spec.md §4.1: "if any index entry's size is smaller than
// nBlockAlign, the stream is reclassified as VBR".
func (s *Stream) detectVBR(entries []aviio.IndexEntry2) {
	var wfx aviio.WaveFormatEx
	if !s.parseWaveFormat(&wfx) || wfx.BlockAlign == 0 || len(entries) == 0 {
		return
	}
	undersized := false
	for _, e := range entries {
		if int64(e.Size()) < int64(wfx.BlockAlign) {
			undersized = true
			break
		}
	}
	if !undersized {
		return
	}

	s.WasVBR = true
	if wfx.FormatTag == 0x0055 { // MP3
		s.Header.SampleSize = 1
	} else {
		s.Header.SampleSize = uint32(wfx.BlockAlign)
	}

	n := int64(len(entries))
	rateScale := rational.New(int64(s.Header.Rate), int64(s.Header.Scale)).Float64()

	var sumSize, sumSizeSq int64
	for _, e := range entries {
		sz := int64(e.Size())
		sumSize += sz
		sumSizeSq += sz * sz
	}

	meanBytesPerFrame := float64(s.TotalBytes) / float64(n)
	s.BitrateMean = meanBytesPerFrame * 8 * rateScale

	variance := float64(n)*float64(sumSizeSq) - float64(sumSize)*float64(sumSize)
	if variance < 0 {
		variance = 0
	}
	s.BitrateStddev = math.Sqrt(variance) / float64(n) * rateScale

	if s.BitrateMean > 0 {
		var cumulative float64
		maxDev := 0.0
		meanCenter := float64(s.TotalBytes) / 2
		for _, e := range entries {
			sz := float64(e.Size())
			dev := math.Abs((meanCenter-cumulative+sz/2) * 8 / s.BitrateMean)
			if dev > maxDev {
				maxDev = dev
			}
			cumulative += sz
		}
		s.MaxRelativeDeviation = maxDev
	}

	remuxlog.VBRDetected(s.Index, s.BitrateMean)
}
