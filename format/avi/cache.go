package avi

import (
	"github.com/go-remux/remux/internal/remuxlog"
)

// granuleSize is the streaming cache's ring granule, a tuning constant
// spec.md §9 says is "not a protocol constant and may be safely changed
// if re-benchmarked"; kept at its historical AVI block-alignment value
// per the Open Questions decision recorded in SPEC_FULL.md.
const granuleSize = 16

// streamingDetectWindow is the number of consecutive matching reads
// required before a per-frame (video) stream's access pattern is
// declared "streaming" (spec.md §4.2 "Detection heuristic").
const streamingDetectWindow = 15

// sampleStreamingDetectWindow is the analogous window for sample_size!=0
// (audio) streams.
const sampleStreamingDetectWindow = 15

// nearSeekDistance bounds how far the file-level stream pointer may be
// from the requested block before the reader will still instantiate a
// cache (spec.md §4.2: "within 4 MiB of the target block").
const nearSeekDistance = 4 * 1024 * 1024

// cacheLine is one stored block: a header plus its payload, occupying
// 1+ceil(len/16) granules in the ring (spec.md §4.2 "Ring arithmetic").
type cacheLine struct {
	fileOffset int64
	payload    []byte
}

// streamCache is the per-stream circular cache spec.md §4.2 describes:
// a ring of fixed-size 16-byte granules holding variable-length blocks,
// each addressed by (file_offset, length).
type streamCache struct {
	linesMax int // capacity in granules
	lines    []cacheLine
	lineCount int // granules currently occupied (header + payload granules)
}

func newStreamCache(linesMax int) *streamCache {
	return &streamCache{linesMax: linesMax}
}

// granulesFor returns how many granules a payload of length len needs,
// including its header granule (spec.md §4.2 "Ring arithmetic": "A block
// of len bytes ... occupies 1 + ceil(len/16) granules").
func granulesFor(length int) int {
	return 1 + (length+granuleSize-1)/granuleSize
}

// push stores a block, evicting oldest blocks (FIFO) until it fits.
// Returns false if the block alone exceeds the cache's total capacity.
func (c *streamCache) push(fileOffset int64, payload []byte) bool {
	need := granulesFor(len(payload))
	if need > c.linesMax {
		return false
	}
	for c.lineCount+need > c.linesMax && len(c.lines) > 0 {
		evicted := c.lines[0]
		c.lines = c.lines[1:]
		c.lineCount -= granulesFor(len(evicted.payload))
	}
	c.lines = append(c.lines, cacheLine{fileOffset: fileOffset, payload: payload})
	c.lineCount += need
	return true
}

// read attempts to service (filePos, length) entirely from cached
// blocks. Spec.md §4.2: "A read for (file_pos, len) hits if some stored
// block covers [file_pos, file_pos+len) completely; partial hits return
// the portion the block contains."
func (c *streamCache) read(filePos int64, length int) (data []byte, hit bool, partial []byte) {
	want := filePos + int64(length)
	for _, line := range c.lines {
		lineEnd := line.fileOffset + int64(len(line.payload))
		if filePos >= line.fileOffset && want <= lineEnd {
			start := filePos - line.fileOffset
			return line.payload[start : start+int64(length)], true, nil
		}
		if filePos >= line.fileOffset && filePos < lineEnd {
			start := filePos - line.fileOffset
			return nil, false, line.payload[start:]
		}
	}
	return nil, false, nil
}

// totalBytes returns the sum of payload bytes across all stored lines,
// used by the cache-invariant test in format/avi/cache_test.go (spec.md
// §8: "sum(len(cached_block_payload)) + sum(header_granule_bytes) =
// 16 * line_count").
func (c *streamCache) totalBytes() int {
	n := 0
	for _, l := range c.lines {
		n += len(l.payload)
	}
	return n
}

// streamingStats tracks the miss-remediation accounting spec.md §4.2
// describes ("Cache-miss remediation"): hit/miss byte counters and a read
// count, accumulated until reset() clears them.
type streamingStats struct {
	hitBytes   int64
	missBytes  int64
	reads      int64
	bytesPushed int64
}

func (s *streamingStats) recordHit(n int)  { s.hitBytes += int64(n); s.reads++ }
func (s *streamingStats) recordMiss(n int) { s.missBytes += int64(n); s.reads++ }
func (s *streamingStats) reset()           { *s = streamingStats{} }

// needsRemediation implements spec.md §4.2: "If cache-miss bytes exceed
// cache-hit bytes by a factor of two over the last 50+ reads".
func (s *streamingStats) needsRemediation() bool {
	return s.reads >= 50 && s.missBytes > s.hitBytes*2
}

// remediate implements spec.md §4.2's remediation policy between a
// "leader" stream (the one pushing the most bytes) and the "aggrieved"
// stream whose cache is thrashing. Returns true if the leader's cache
// should be torn down, false if the aggrieved stream's own streaming
// should be disabled instead.
func remediate(leaderPushed, aggrievedPushed, leaderPosition, aggrievedPosition int64) (tearDownLeader bool) {
	halfAggrieved := aggrievedPushed / 2
	aheadBy := leaderPosition - aggrievedPosition
	if leaderPushed < halfAggrieved && aheadBy >= 512*1024 {
		return true
	}
	return false
}

// detectSequentialAudio implements spec.md §4.2's sample_size!=0
// detection heuristic: streaming is declared when sampleStreamingDetectWindow
// consecutive reads begin exactly where the previous read ended.
func (s *Stream) detectSequentialAudio(filePos int64, readLen int64, filePointer int64) bool {
	if s.lastReadEnd == filePos {
		s.streakLen++
	} else {
		s.streakLen = 1
	}
	s.lastReadEnd = filePos + readLen
	if s.streakLen < sampleStreamingDetectWindow {
		return false
	}
	return withinNearSeek(filePointer, filePos, s.streamingOn)
}

// detectConstantStrideVideo implements spec.md §4.2's per-frame
// detection heuristic: streaming is declared when streamingDetectWindow
// consecutive reads show a constant frame-number stride.
func (s *Stream) detectConstantStrideVideo(frameIdx int, filePointer, targetFilePos int64) bool {
	if !s.lastFrameSet {
		s.lastFrameSet = true
		s.lastFrameIdx = frameIdx
		s.streakLen = 1
		return false
	}
	stride := frameIdx - s.lastFrameIdx
	if stride == s.frameStride && stride != 0 {
		s.streakLen++
	} else {
		s.streakLen = 1
		s.frameStride = stride
	}
	s.lastFrameIdx = frameIdx
	if s.streakLen < streamingDetectWindow {
		return false
	}
	return withinNearSeek(filePointer, targetFilePos, s.streamingOn)
}

func withinNearSeek(filePointer, target int64, alreadyStreaming bool) bool {
	if alreadyStreaming {
		return true
	}
	d := filePointer - target
	if d < 0 {
		d = -d
	}
	return d <= nearSeekDistance
}

// ensureCache lazily creates the stream's cache on first successful
// streaming detection (spec.md §4.2).
func (s *Stream) ensureCache(linesMax int) *streamCache {
	if s.cache == nil {
		s.cache = newStreamCache(linesMax)
		s.streamingOn = true
	}
	return s.cache
}

// tearDownCache discards the stream's cache and its streaming-detection
// state (the hit/miss stats are reset separately by the caller). Its only
// caller is cache-miss remediation (Reader.remediateStream).
func (s *Stream) tearDownCache() {
	s.cache = nil
	s.streamingOn = false
	s.streakLen = 0
	s.lastFrameSet = false
	remuxlog.StreamingDisabled("cache-miss remediation", s.lastPushPosition)
}
