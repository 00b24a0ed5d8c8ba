// Package ioutil provides the seekable source abstraction spec.md §4
// names "IO abstraction": a random-access byte source plus a read-ahead
// variant that records a real-time flag and reports a block size for it;
// no package in this module wraps a source in the read-ahead variant.
//
// Grounded on format/avi/demuxer.go's bufio.Reader usage (generalized
// here to an interface so the AVI reader, which needs Seek for index
// materialization, and the MPEG PS/ES readers, which are sequential-only,
// share one contract) and on
// _examples/original_source/src/common/mm_io.h / mm_read_buffer_io.h,
// whose mm_io_c/mm_read_buffer_io_c split names the same buffered vs.
// unbuffered distinction spec.md §4.2 requires ("a 64 KiB real-time block
// through the buffered path or a 1 MiB block through the unbuffered
// path").
package ioutil

import (
	"io"
)

// Source is a random-access byte source. Implementations assume seeking
// is O(1) but expensive enough relative to sequential reads that callers
// should prefer sequential access (spec.md §3).
type Source interface {
	io.Reader
	io.Seeker
	Size() (int64, error)
	Position() (int64, error)
}

// fileSource adapts an io.ReadSeeker with a known size into a Source.
type fileSource struct {
	rs   io.ReadSeeker
	size int64
}

// NewFileSource wraps rs, whose total size is size, as a Source.
func NewFileSource(rs io.ReadSeeker, size int64) Source {
	return &fileSource{rs: rs, size: size}
}

func (f *fileSource) Read(p []byte) (int, error)          { return f.rs.Read(p) }
func (f *fileSource) Seek(off int64, whence int) (int64, error) { return f.rs.Seek(off, whence) }
func (f *fileSource) Size() (int64, error)                { return f.size, nil }
func (f *fileSource) Position() (int64, error)            { return f.rs.Seek(0, io.SeekCurrent) }

// ReadAt reads exactly len(p) bytes starting at absolute offset off,
// restoring the source's position afterward. This is the random-access
// primitive the AVI per-stream read path and the Matroska resynchroniser
// use; sequential readers (MPEG PS/ES) never call it.
func ReadAt(s Source, off int64, p []byte) error {
	cur, err := s.Position()
	if err != nil {
		return err
	}
	if _, err := s.Seek(off, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(s, p); err != nil {
		return err
	}
	_, err = s.Seek(cur, io.SeekStart)
	return err
}
