// Package remuxerr defines the structured error families this module's
// parsers return, following the typed-error-with-Op-and-Unwrap shape of
// alxayo-rtmp-go's internal/errors package (not the teacher, but reused
// here as ambient error-handling idiom per spec.md §9: "substitute with
// result types ... ParseError carries {kind, file_position, detail}").
package remuxerr

import (
	"errors"
	"fmt"
)

// kindMarker lets Is* helpers classify without type-switching on every
// concrete struct.
type kindMarker interface {
	error
	isParseError()
}

// StructuralError is a format-structural defect: bad FOURCC, bad EBML
// length, an unrecognised wLongsPerEntry value. A single occurrence is
// meant to engage aggressive recovery; callers decide whether repeated
// occurrences are fatal.
type StructuralError struct {
	Op       string
	Position int64
	Detail   string
	Err      error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error: %s at offset %d: %s", e.Op, e.Position, e.Detail)
}
func (e *StructuralError) Unwrap() error { return e.Err }
func (e *StructuralError) isParseError() {}

// ExhaustionError is source-exhaustion: EOF before a required field.
type ExhaustionError struct {
	Op       string
	Position int64
	Err      error
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("source exhausted: %s at offset %d", e.Op, e.Position)
}
func (e *ExhaustionError) Unwrap() error { return e.Err }
func (e *ExhaustionError) isParseError() {}

// RangeError is an out-of-range condition: an oversized NALU, or a chunk
// size >= 0x7FFFFFF0. Always fatal unless the caller explicitly opted in
// to ignore it (e.g. AVC's ignore_nalu_size_length_errors).
type RangeError struct {
	Op       string
	Position int64
	Detail   string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range error: %s at offset %d: %s", e.Op, e.Position, e.Detail)
}
func (e *RangeError) isParseError() {}

// EncryptedError signals scrambled PES content; the core refuses to read
// encrypted sources.
type EncryptedError struct {
	Position int64
}

func (e *EncryptedError) Error() string {
	return fmt.Sprintf("encrypted content at offset %d", e.Position)
}
func (e *EncryptedError) isParseError() {}

// ProbeError is a non-fatal codec-probe failure: no decodable header was
// reached within the probe budget. The track is blacklisted, not the
// file; this error is consumed internally and never propagated to Open's
// caller.
type ProbeError struct {
	Op     string
	Detail string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe failed: %s: %s", e.Op, e.Detail)
}
func (e *ProbeError) isParseError() {}

// IsStructural reports whether err is (or wraps) a StructuralError.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// IsFatal reports whether err is a class this module never recovers
// from on its own (RangeError, EncryptedError) — as opposed to
// StructuralError/ExhaustionError, which a caller may choose to recover
// from via aggressive-mode rescans, and ProbeError, which is never fatal.
func IsFatal(err error) bool {
	var re *RangeError
	if errors.As(err, &re) {
		return true
	}
	var ee *EncryptedError
	return errors.As(err, &ee)
}

// IsParseError reports whether err is any member of this family.
func IsParseError(err error) bool {
	var km kindMarker
	return errors.As(err, &km)
}
