package avi

import (
	"sort"

	"github.com/go-remux/remux/format/avi/aviio"
	"github.com/go-remux/remux/internal/remuxerr"
	"github.com/go-remux/remux/pkg/ioutil"
)

// ReadResult is the payload spec.md §4.3 "Stream reading" describes
// read(start, count) as returning: the assembled bytes plus the number
// of index entries ("samples") it took to assemble them.
type ReadResult struct {
	Data    []byte
	Samples int
}

// BeginStreaming implements spec.md §4.3 "begin_streaming(start, end,
// rate)": latches file-level real-time mode when rate is at or below the
// caller's 1500-per-mille fast/slow threshold. Only streamIdx is
// validated; start and end are unused. The flag is recorded on the
// Reader, and no read path in this package consults it.
func (r *Reader) BeginStreaming(streamIdx int, start, end int64, ratePerMille int) error {
	if streamIdx < 0 || streamIdx >= len(r.Streams) {
		return &remuxerr.RangeError{Op: "BeginStreaming", Detail: "stream index out of range"}
	}
	r.realTime = ratePerMille <= 1500
	return nil
}

// ensureCumBytes lazily builds the prefix-sum-of-entry-size table used to
// locate a byte offset within an audio stream's index without rescanning
// from the head on every read.
func (s *Stream) ensureCumBytes() {
	entries := s.IndexEntries()
	if len(s.cumBytes) == len(entries) {
		return
	}
	s.cumBytes = make([]int64, len(entries))
	var running int64
	for i, e := range entries {
		s.cumBytes[i] = running
		running += int64(e.Size())
	}
}

// Read implements spec.md §4.3 "read(start, count) -> (bytes, samples)".
// For sample_size!=0 (audio) streams, start/count are byte offsets into
// the concatenation of the stream's chunk payloads; for per-frame
// (video, or sample_size==0) streams, start is a frame index and count
// is ignored — the entire chunk at that index is returned.
func (r *Reader) Read(streamIdx int, start int64, count int) (*ReadResult, error) {
	if streamIdx < 0 || streamIdx >= len(r.Streams) {
		return nil, &remuxerr.RangeError{Op: "Read", Detail: "stream index out of range"}
	}
	s := r.Streams[streamIdx]
	entries := s.IndexEntries()

	if s.Header.SampleSize == 0 {
		return r.readFrame(s, entries, int(start))
	}
	return r.readSamples(s, entries, start, count)
}

func (r *Reader) readFrame(s *Stream, entries []aviio.IndexEntry2, frameIdx int) (*ReadResult, error) {
	if frameIdx < 0 || frameIdx >= len(entries) {
		return nil, &remuxerr.RangeError{Op: "Read", Detail: "frame index out of range"}
	}
	e := entries[frameIdx]
	data, err := r.fetchEntry(s, e)
	if err != nil {
		return nil, err
	}
	if s.detectConstantStrideVideo(frameIdx, r.streamFilePointer(s), e.FilePos) {
		s.ensureCache(defaultCacheLineGranules)
	}
	return &ReadResult{Data: data, Samples: 1}, nil
}

// defaultCacheLineGranules bounds a freshly-instantiated streaming
// cache's capacity: enough 16-byte granules to hold several real-time
// blocks (spec.md §4.2 gives the block sizes, not a cache size; this is
// a tuning choice, not a protocol constant).
const defaultCacheLineGranules = (4 * ioutil.RealTimeBlockSize) / granuleSize

func (r *Reader) readSamples(s *Stream, entries []aviio.IndexEntry2, start int64, count int) (*ReadResult, error) {
	s.ensureCumBytes()
	if len(entries) == 0 {
		return &ReadResult{}, nil
	}
	total := s.cumBytes[len(entries)-1] + int64(entries[len(entries)-1].Size())
	if start < 0 || start > total {
		return nil, &remuxerr.RangeError{Op: "Read", Detail: "byte offset out of range"}
	}

	startIdx := sort.Search(len(s.cumBytes), func(i int) bool {
		return s.cumBytes[i]+int64(entries[i].Size()) > start
	})

	out := make([]byte, 0, count)
	samples := 0
	remaining := count
	pos := start
	for i := startIdx; i < len(entries) && remaining > 0; i++ {
		e := entries[i]
		data, err := r.fetchEntry(s, e)
		if err != nil {
			return nil, err
		}
		entryStart := s.cumBytes[i]
		within := pos - entryStart
		if within < 0 {
			within = 0
		}
		avail := data[within:]
		take := len(avail)
		if take > remaining {
			take = remaining
		}
		out = append(out, avail[:take]...)
		remaining -= take
		pos += int64(take)
		samples++
	}

	if s.detectSequentialAudio(start, int64(count-remaining), r.streamFilePointer(s)) {
		s.ensureCache(defaultCacheLineGranules)
	}
	return &ReadResult{Data: out, Samples: samples}, nil
}

// ReadEntry returns the raw payload of the entryIdx'th index entry of
// streamIdx, regardless of the stream's sample_size classification.
// Unlike Read (spec.md §4.3's sample_size-dependent start/count
// semantics), this always addresses one index entry directly; package
// pipeline's AVI adapter uses it to replay every stream's chunks in
// file-interleaved order without reimplementing fetchEntry's caching and
// multi-file dispatch.
func (r *Reader) ReadEntry(streamIdx, entryIdx int) ([]byte, error) {
	if streamIdx < 0 || streamIdx >= len(r.Streams) {
		return nil, &remuxerr.RangeError{Op: "ReadEntry", Detail: "stream index out of range"}
	}
	s := r.Streams[streamIdx]
	entries := s.IndexEntries()
	if entryIdx < 0 || entryIdx >= len(entries) {
		return nil, &remuxerr.RangeError{Op: "ReadEntry", Detail: "entry index out of range"}
	}
	return r.fetchEntry(s, entries[entryIdx])
}

// fetchEntry services one index entry's payload, preferring the
// stream's streaming cache (spec.md §4.2) and falling back to a direct
// seek-and-read against the owning backing file on a miss.
func (r *Reader) fetchEntry(s *Stream, e aviio.IndexEntry2) ([]byte, error) {
	sourceIdx, offset := unpackFilePos(e.FilePos)
	length := int(e.Size())

	if s.cache != nil {
		if data, hit, _ := s.cache.read(e.FilePos, length); hit {
			s.stats.recordHit(length)
			return data, nil
		}
		s.stats.recordMiss(length)
		if s.stats.needsRemediation() {
			r.remediateStream(s)
		}
	}

	if sourceIdx < 0 || sourceIdx >= len(r.sources) {
		return nil, &remuxerr.RangeError{Op: "fetchEntry", Detail: "unknown source file"}
	}
	// The payload begins immediately after the 8-byte chunk header.
	data := make([]byte, length)
	if err := ioutil.ReadAt(r.sources[sourceIdx], offset+8, data); err != nil {
		return nil, err
	}

	s.streamBytesPushed += int64(length)
	s.streamPushOps++
	s.lastPushPosition = offset
	if s.streamBytesPushed > r.leaderBytesPushed() {
		r.leaderStream = s.Index
	}

	if s.cache != nil {
		s.cache.push(e.FilePos, data)
	}

	return data, nil
}

// leaderBytesPushed returns the current leader stream's cumulative
// pushed-bytes count, used to decide whether s overtakes it.
func (r *Reader) leaderBytesPushed() int64 {
	if r.leaderStream < 0 || r.leaderStream >= len(r.Streams) {
		return 0
	}
	return r.Streams[r.leaderStream].streamBytesPushed
}

// remediateStream implements spec.md §4.2 "Cache-miss remediation" for
// the stream whose miss/hit ratio just crossed the 2x-over-50-reads
// threshold, comparing it against the current leader stream.
func (r *Reader) remediateStream(aggrieved *Stream) {
	if r.leaderStream < 0 || r.leaderStream >= len(r.Streams) || r.leaderStream == aggrieved.Index {
		aggrieved.tearDownCache()
	} else {
		leader := r.Streams[r.leaderStream]
		if remediate(leader.streamBytesPushed, aggrieved.streamBytesPushed, leader.lastPushPosition, aggrieved.lastPushPosition) {
			leader.tearDownCache()
		} else {
			aggrieved.tearDownCache()
		}
	}
	for _, s := range r.Streams {
		s.stats.reset()
	}
}

// streamFilePointer reports the file-level position the stream last
// read from, used by the streaming-detection near-seek check.
func (r *Reader) streamFilePointer(s *Stream) int64 { return s.lastPushPosition }

// IsKeyframe implements spec.md §4.3 "is_keyframe(frame)": for
// sample_size!=0 streams every chunk is a keyframe; otherwise bit 31 of
// the stored size field decides.
func (s *Stream) IsKeyframe(frameIdx int) bool {
	if s.Header.SampleSize != 0 {
		return true
	}
	entries := s.IndexEntries()
	if frameIdx < 0 || frameIdx >= len(entries) {
		return false
	}
	return entries[frameIdx].IsKeyframe()
}

// PrevKeyframe implements spec.md §4.3's linear-scan prev_keyframe.
func (s *Stream) PrevKeyframe(frameIdx int) int {
	entries := s.IndexEntries()
	for i := frameIdx; i >= 0 && i < len(entries); i-- {
		if s.IsKeyframe(i) {
			return i
		}
	}
	return -1
}

// NextKeyframe implements spec.md §4.3's linear-scan next_keyframe.
func (s *Stream) NextKeyframe(frameIdx int) int {
	entries := s.IndexEntries()
	for i := frameIdx; i >= 0 && i < len(entries); i++ {
		if s.IsKeyframe(i) {
			return i
		}
	}
	return -1
}

// NearestKeyframe implements spec.md §4.3's linear-scan
// nearest_keyframe: prefers the closer of the previous/next keyframe,
// ties broken toward the previous one.
func (s *Stream) NearestKeyframe(frameIdx int) int {
	prev := s.PrevKeyframe(frameIdx)
	next := s.NextKeyframe(frameIdx)
	switch {
	case prev < 0:
		return next
	case next < 0:
		return prev
	case (frameIdx - prev) <= (next - frameIdx):
		return prev
	default:
		return next
	}
}
