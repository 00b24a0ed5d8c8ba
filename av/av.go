// Package av holds the small vocabulary of types shared by every reader
// package in this module: the demuxed packet shape, codec type tags, and
// the codec-private-data interface a muxer consumes.
//
// It is the generalized analogue of the (externally referenced but not
// vendored) github.com/deepch/vdk/av package: the teacher's format/avi
// package imports av.Packet and av.CodecData without defining them here,
// so this module defines its own copy shaped the same way and extended
// with the fields spec.md §3 "Frame (access unit)" requires.
package av

import "time"

// CodecType identifies the elementary stream codec carried by a track.
type CodecType uint32

const (
	H264 CodecType = iota + 1
	H265
	MPEG1Video
	MPEG2Video
	VC1
	AAC
	MP2
	MP3
	AC3
	EAC3
	DTS
	TrueHD
	PCM
	PCM_MULAW
	PCM_ALAW
	PGS
	CorePanorama
)

func (t CodecType) IsVideo() bool {
	switch t {
	case H264, H265, MPEG1Video, MPEG2Video, VC1, CorePanorama:
		return true
	}
	return false
}

func (t CodecType) IsAudio() bool {
	switch t {
	case AAC, MP2, MP3, AC3, EAC3, DTS, TrueHD, PCM, PCM_MULAW, PCM_ALAW:
		return true
	}
	return false
}

// IsSubtitle reports whether t carries subtitle payload rather than
// audio/video samples (spec.md §2 "PGS/CorePanorama minor readers").
func (t CodecType) IsSubtitle() bool {
	return t == PGS
}

func (t CodecType) String() string {
	switch t {
	case H264:
		return "H264"
	case H265:
		return "H265"
	case MPEG1Video:
		return "MPEG1Video"
	case MPEG2Video:
		return "MPEG2Video"
	case VC1:
		return "VC1"
	case AAC:
		return "AAC"
	case MP2:
		return "MP2"
	case MP3:
		return "MP3"
	case AC3:
		return "AC3"
	case EAC3:
		return "EAC3"
	case DTS:
		return "DTS"
	case TrueHD:
		return "TrueHD"
	case PCM:
		return "PCM"
	case PCM_MULAW:
		return "PCM_MULAW"
	case PCM_ALAW:
		return "PCM_ALAW"
	case PGS:
		return "PGS"
	case CorePanorama:
		return "CorePanorama"
	default:
		return "unknown"
	}
}

// CodecData is the minimal codec-private-data contract a track descriptor
// exposes to a muxer. Concrete implementations live in format/avc,
// format/mpeges and so on.
type CodecData interface {
	Type() CodecType
}

// VideoCodecData is implemented by video CodecData when pixel/display
// geometry and aspect ratio are known.
type VideoCodecData interface {
	CodecData
	Width() int
	Height() int
}

// AudioCodecData is implemented by audio CodecData when sample rate and
// channel layout are known.
type AudioCodecData interface {
	CodecData
	SampleRate() int
	ChannelCount() int
}

// ExtraDataProvider is implemented by CodecData that carries an opaque
// codec-private blob a container muxer should copy verbatim into its
// format chunk (an avcC box, an AudioSpecificConfig, and so on).
type ExtraDataProvider interface {
	CodecData
	ExtraData() []byte
}

// Packet is one demuxed access unit, ready for muxing.
//
// Idx/IsKeyFrame/Time/Data are kept from the teacher's av.Packet literal
// in format/avi/demuxer.go:397-402; Duration/BackRef/ForwardRef are added
// per spec.md §3's Frame data model, where references are timestamp
// deltas relative to the packet's own timestamp.
type Packet struct {
	Idx        int8
	IsKeyFrame bool
	Time       time.Duration
	Duration   time.Duration
	Data       []byte

	// BackRef and ForwardRef are nil when unused; a negative BackRef on a
	// non-keyframe packet is a caller error (spec.md §3).
	BackRef    *time.Duration
	ForwardRef *time.Duration

	// CodecState carries codec-private bytes (an MPEG-1/2 sequence_header,
	// an AVC SPS/PPS pair) attached to this specific packet rather than to
	// the track's CodecData, for muxers that record codec state per cue
	// point (e.g. Matroska's CueCodecState).
	CodecState []byte
}
