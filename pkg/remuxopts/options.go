// Package remuxopts holds the small set of options spec.md §6
// "Configuration enumerated" lists as consumed at open time by the
// readers and the cues accumulator. Centralizing them in one
// dependency-free package (rather than in pipeline, which the format
// packages would otherwise have to import) avoids an import cycle
// between pipeline and format/*.
package remuxopts

// NALUSizeLength selects the length-prefix width format/avc uses when
// the source doesn't use Annex-B start codes.
type NALUSizeLength int

const (
	NALUSizeLengthDefault NALUSizeLength = 0
	NALUSizeLength1       NALUSizeLength = 1
	NALUSizeLength2       NALUSizeLength = 2
	NALUSizeLength4       NALUSizeLength = 4
)

// Options is the global configuration surface spec.md §6 enumerates.
type Options struct {
	// NALUSizeLength is the per-track or global default length-prefix
	// width for AVC length-prefixed mode. Zero means "use start codes".
	NALUSizeLength NALUSizeLength

	// IgnoreNALUSizeLengthErrors suppresses the fatal error an oversized
	// NALU would otherwise raise (spec.md §7). It is read only by the AVC
	// parser's NALU slicing and does not change any streaming state.
	IgnoreNALUSizeLengthErrors bool

	// DisableMultiFile suppresses OpenDML AVIX continuation / multi-file
	// append handling.
	DisableMultiFile bool

	// NoCueDuration suppresses CueDuration emission.
	NoCueDuration bool

	// NoCueRelativePosition suppresses CueRelativePosition emission.
	NoCueRelativePosition bool

	// UseCodecState enables per-frame deduplicated sequence-header-as-
	// codec-state for MPEG-1/2.
	UseCodecState bool

	// TimestampScale is the global nanoseconds-per-tick scale applied to
	// every emitted Matroska timestamp, and its inverse during cues
	// write. Zero means the Matroska default of 1,000,000 (1ms ticks).
	TimestampScale uint64
}

// Scale returns o.TimestampScale, defaulting to the Matroska standard of
// 1,000,000 ns/tick when unset.
func (o Options) Scale() uint64 {
	if o.TimestampScale == 0 {
		return 1000000
	}
	return o.TimestampScale
}

// Default returns the zero-value Options with TimestampScale defaulted.
func Default() Options {
	return Options{TimestampScale: 1000000}
}
