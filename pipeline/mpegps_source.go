package pipeline

import (
	"io"
	"time"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/format/avc"
	"github.com/go-remux/remux/format/mpeges"
	"github.com/go-remux/remux/format/mpegps"
	"github.com/go-remux/remux/internal/remuxlog"
	"github.com/go-remux/remux/pkg/remuxopts"
)

// defaultESFrameDuration seeds the AVC parser's fabricated-timestamp
// step when a PS track carries no usable PTS cadence of its own (spec.md
// §4.6 "Timestamp fabrication"); 25fps matches format/mpeges.Framer's own
// fallback in tickDuration.
const defaultESFrameDuration = time.Second / 25

// esFramer is the Feed([]byte) ([]av.Packet, error) contract shared by
// format/avc.Parser and format/mpeges.Framer, letting this adapter treat
// either elementary-stream framer polymorphically once a track's codec
// is known (spec.md §2 "wires probe -> packetize -> consume").
type esFramer interface {
	Feed(data []byte) ([]av.Packet, error)
}

// mpegpsTrackState pairs one mpegps.Track with whichever framer its
// codec needs, if any (PCM/DTS/AC-3/... audio tracks pass their PES
// payload straight through as one packet per chunk).
type mpegpsTrackState struct {
	track *mpegps.Track
	framer esFramer
	avcParser *avc.Parser
	esFramer  *mpeges.Framer
}

func newMPEGPSTrackState(t *mpegps.Track, opts remuxopts.Options) *mpegpsTrackState {
	st := &mpegpsTrackState{track: t}
	switch t.Codec {
	case mpegps.AVC1:
		p := avc.NewParser(opts, defaultESFrameDuration)
		st.avcParser = p
		st.framer = p
	case mpegps.MPG1, mpegps.MPG2:
		f := mpeges.NewFramer(opts)
		st.esFramer = f
		st.framer = f
	}
	return st
}

// syncCodecState copies whatever parameter-set state the framer has
// accumulated back onto the mpegps.Track fields the pack/PES layer
// itself never populates (Width, Height, SequenceHeader, AVCC), so the
// track's own av.VideoCodecData view stays current as
// more of the stream is parsed.
func (st *mpegpsTrackState) syncCodecState() {
	switch {
	case st.avcParser != nil:
		if cd, ok := st.avcParser.Codec(); ok {
			st.track.Width = cd.Width()
			st.track.Height = cd.Height()
			st.track.AVCC = cd.ExtraData()
		}
	case st.esFramer != nil:
		if st.esFramer.Codec != nil {
			st.track.Width = st.esFramer.Codec.Width()
			st.track.Height = st.esFramer.Codec.Height()
			st.track.SequenceHeader = st.esFramer.Codec.ExtraData()
		}
	}
}

// mpegpsSource adapts *mpegps.Reader, plus one elementary-stream framer
// per video track, to pipeline.Reader.
type mpegpsSource struct {
	r      *mpegps.Reader
	order  []*mpegps.Track
	index  map[*mpegps.Track]int
	states map[*mpegps.Track]*mpegpsTrackState

	queue    []Packet
	rawEOF   bool
	flushed  bool
}

// NewMPEGPSSource adapts an opened MPEG Program Stream reader into the
// pipeline's uniform Reader interface.
func NewMPEGPSSource(r *mpegps.Reader, opts remuxopts.Options) Reader {
	s := &mpegpsSource{
		r:      r,
		index:  map[*mpegps.Track]int{},
		states: map[*mpegps.Track]*mpegpsTrackState{},
	}
	for i, t := range r.Tracks {
		s.order = append(s.order, t)
		s.index[t] = i
		s.states[t] = newMPEGPSTrackState(t, opts)
	}
	return s
}

func mpegpsCodecData(t *mpegps.Track) av.CodecData {
	switch {
	case t.Type().IsVideo():
		return t.AsVideoCodecData()
	case t.Type().IsAudio():
		return t.AsAudioCodecData()
	default:
		return t
	}
}

func (s *mpegpsSource) Tracks() []TrackInfo {
	out := make([]TrackInfo, len(s.order))
	for i, t := range s.order {
		out[i] = TrackInfo{Index: i, Codec: mpegpsCodecData(t)}
	}
	return out
}

func (s *mpegpsSource) ReadPacket() (Packet, error) {
	for {
		if len(s.queue) > 0 {
			pkt := s.queue[0]
			s.queue = s.queue[1:]
			return pkt, nil
		}
		if s.rawEOF {
			if !s.flushed {
				s.flushed = true
				s.flushAll()
				continue
			}
			return Packet{}, io.EOF
		}

		chunk, err := s.r.ReadChunk()
		if err == io.EOF {
			s.rawEOF = true
			continue
		}
		if err != nil {
			return Packet{}, err
		}
		s.handleChunk(chunk)
	}
}

func (s *mpegpsSource) handleChunk(c mpegps.Chunk) {
	idx, ok := s.index[c.Track]
	if !ok {
		return
	}
	st := s.states[c.Track]

	if st.framer == nil {
		pkt := av.Packet{Idx: int8(idx), IsKeyFrame: true, Time: c.PTS, Data: c.Data}
		s.queue = append(s.queue, Packet{TrackIndex: idx, Packet: pkt})
		return
	}

	pkts, err := st.framer.Feed(c.Data)
	if err != nil {
		remuxlog.Logger().Warn("elementary stream framer error", "track", idx, "err", err.Error())
		return
	}
	st.syncCodecState()
	for _, p := range pkts {
		p.Idx = int8(idx)
		s.queue = append(s.queue, Packet{TrackIndex: idx, Packet: p})
	}
}

// flushAll drains every track's framer of its held-back access units
// (format/avc.Parser's and format/mpeges.Framer's Close methods), in
// track order, once the underlying PS reader is exhausted.
func (s *mpegpsSource) flushAll() {
	for _, t := range s.order {
		idx := s.index[t]
		st := s.states[t]
		switch {
		case st.avcParser != nil:
			for {
				pkt, err := st.avcParser.Close()
				if err != nil {
					remuxlog.Logger().Warn("avc parser close error", "track", idx, "err", err.Error())
					break
				}
				if pkt == nil {
					break
				}
				pkt.Idx = int8(idx)
				s.queue = append(s.queue, Packet{TrackIndex: idx, Packet: *pkt})
			}
		case st.esFramer != nil:
			for _, pkt := range st.esFramer.Close() {
				pkt.Idx = int8(idx)
				s.queue = append(s.queue, Packet{TrackIndex: idx, Packet: pkt})
			}
		}
	}
}

// Damaged forwards the underlying PS reader's resync flag.
func (s *mpegpsSource) Damaged() bool { return s.r.Damaged() }

var (
	_ Reader          = (*mpegpsSource)(nil)
	_ damagedReporter = (*mpegpsSource)(nil)
)
