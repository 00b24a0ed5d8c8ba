package pipeline

import (
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/format/avi"
	"github.com/go-remux/remux/format/avi/aviio"
)

// aviCodecData is the best-effort av.CodecData the pipeline glue derives
// from an AVI stream's BITMAPINFOHEADER/WaveFormatEx fields, since
// format/avi (spec.md §4.1-4.3) intentionally treats format_blob as
// opaque (spec.md §3 "AVI stream descriptor": "format_blob: opaque
// bytes"). Classifying it into the shared av.CodecType vocabulary is
// exactly the "wires probe -> packetize" role spec.md §2 assigns to the
// packet pipeline glue, not to the reader itself.
type aviCodecData struct {
	codecType     av.CodecType
	width, height int
	channels      int
	sampleRate    int
	extra         []byte
}

func (c aviCodecData) Type() av.CodecType { return c.codecType }
func (c aviCodecData) Width() int         { return c.width }
func (c aviCodecData) Height() int        { return c.height }
func (c aviCodecData) SampleRate() int    { return c.sampleRate }
func (c aviCodecData) ChannelCount() int  { return c.channels }
func (c aviCodecData) ExtraData() []byte  { return c.extra }

var (
	_ av.VideoCodecData    = aviCodecData{}
	_ av.AudioCodecData    = aviCodecData{}
	_ av.ExtraDataProvider = aviCodecData{}
)

// videoFourCCCodecs maps a BITMAPINFOHEADER biCompression FourCC to the
// shared codec vocabulary for the handful of codecs this module's other
// packages can also frame (raw AVC/MPEG elementary streams wrapped in
// AVI); anything else is reported unrecognized and left to the caller's
// own (de)muxing stage.
var videoFourCCCodecs = map[string]av.CodecType{
	"H264": av.H264,
	"h264": av.H264,
	"X264": av.H264,
	"AVC1": av.H264,
	"avc1": av.H264,
	"MPG1": av.MPEG1Video,
	"MPG2": av.MPEG2Video,
	"mpg2": av.MPEG2Video,
}

// audioFormatTagCodecs maps a WAVEFORMATEX wFormatTag to the shared
// codec vocabulary (Microsoft's registered format-tag constants).
var audioFormatTagCodecs = map[uint16]av.CodecType{
	0x0001: av.PCM,  // WAVE_FORMAT_PCM
	0x0050: av.MP2,  // WAVE_FORMAT_MPEG
	0x0055: av.MP3,  // WAVE_FORMAT_MPEGLAYER3
	0x2000: av.AC3,  // WAVE_FORMAT_DOLBY_AC3_SPDIF (used loosely as AC-3 marker in AVI)
}

func classifyAVIStream(s *avi.Stream) aviCodecData {
	cd := aviCodecData{extra: s.FormatBlob}
	switch {
	case s.IsVideo():
		var bih aviio.BitmapInfoHeader
		if len(s.FormatBlob) >= 20 {
			bih.Width = int32(le32(s.FormatBlob[4:8]))
			bih.Height = int32(le32(s.FormatBlob[8:12]))
			bih.Compression = le32(s.FormatBlob[16:20])
		}
		cd.width = int(bih.Width)
		cd.height = int(bih.Height)
		fourCC := strings.TrimRight(aviio.FourCCString(bih.Compression), "\x00")
		cd.codecType = videoFourCCCodecs[fourCC]
	case s.IsAudio():
		if len(s.FormatBlob) >= 16 {
			formatTag := le16(s.FormatBlob[0:2])
			cd.channels = int(le16(s.FormatBlob[2:4]))
			cd.sampleRate = int(le32(s.FormatBlob[4:8]))
			cd.codecType = audioFormatTagCodecs[formatTag]
		}
	}
	return cd
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// aviFrameRef is one (stream, frame) pair ordered by its on-disk
// position, the interleaving order spec.md §5 "Ordering guarantees"
// describes containers as presenting packets in: "typically interleaved
// by file position, not by timestamp".
type aviFrameRef struct {
	streamIdx int
	frameIdx  int
	filePos   int64
}

// aviSource adapts *avi.Reader to pipeline.Reader by walking every
// stream's materialized index once, merging all entries by file
// position, and replaying them as a single packet sequence (spec.md §2
// "Control flow": "The packet pipeline drains it").
type aviSource struct {
	r      *avi.Reader
	codecs []aviCodecData
	order  []aviFrameRef
	pos    int
}

// NewAVISource adapts an opened AVI reader into the pipeline's uniform
// Reader interface.
func NewAVISource(r *avi.Reader) Reader {
	s := &aviSource{r: r}
	s.codecs = make([]aviCodecData, len(r.Streams))
	for i, st := range r.Streams {
		s.codecs[i] = classifyAVIStream(st)
		for fi, e := range st.IndexEntries() {
			s.order = append(s.order, aviFrameRef{streamIdx: i, frameIdx: fi, filePos: e.FilePos})
		}
	}
	sort.SliceStable(s.order, func(i, j int) bool { return s.order[i].filePos < s.order[j].filePos })
	return s
}

func (s *aviSource) Tracks() []TrackInfo {
	out := make([]TrackInfo, len(s.codecs))
	for i, cd := range s.codecs {
		out[i] = TrackInfo{Index: i, Codec: cd}
	}
	return out
}

func (s *aviSource) ReadPacket() (Packet, error) {
	if s.pos >= len(s.order) {
		return Packet{}, io.EOF
	}
	ref := s.order[s.pos]
	s.pos++

	st := s.r.Streams[ref.streamIdx]
	rate := st.FrameRate(s.r.MainHeader())

	// ReadEntry addresses one index entry directly regardless of
	// sample_size, so video and audio chunks are both replayed in
	// file-position order without conflating Read's byte-offset
	// semantics for sample-indexed (audio) streams.
	data, err := s.r.ReadEntry(ref.streamIdx, ref.frameIdx)
	if err != nil {
		return Packet{}, err
	}

	duration := time.Duration(rate.Inv().Float64() * float64(time.Second))
	pkt := av.Packet{
		Idx:        int8(ref.streamIdx),
		IsKeyFrame: st.IsKeyframe(ref.frameIdx),
		Duration:   duration,
		Data:       data,
	}
	return Packet{TrackIndex: ref.streamIdx, Packet: pkt}, nil
}

// Damaged forwards the underlying AVI reader's damaged flag so
// pipeline.Session can surface spec.md §6's "Exit behavior" for AVI
// sources.
func (s *aviSource) Damaged() bool { return s.r.FileIsDamaged() }

var (
	_ Reader          = (*aviSource)(nil)
	_ damagedReporter = (*aviSource)(nil)
)
