package pipeline

import (
	"io"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/format/pgs"
)

// pgsSource adapts *pgs.Reader, a single-track subtitle framer, to
// pipeline.Reader.
type pgsSource struct {
	r    *pgs.Reader
	done bool
}

// NewPGSSource adapts an opened PGS subtitle reader into the pipeline's
// uniform Reader interface. PGS streams carry exactly one subtitle
// track (spec.md §2 "PGS ... minor reader").
func NewPGSSource(r *pgs.Reader) Reader {
	return &pgsSource{r: r}
}

func (s *pgsSource) Tracks() []TrackInfo {
	return []TrackInfo{{Index: 0, Codec: pgs.CodecData{}}}
}

func (s *pgsSource) ReadPacket() (Packet, error) {
	if s.done {
		return Packet{}, io.EOF
	}
	pkt, err := s.r.ReadFrame()
	if err == io.EOF {
		s.done = true
		return Packet{}, io.EOF
	}
	if err != nil {
		return Packet{}, err
	}
	pkt.Idx = 0
	return Packet{TrackIndex: 0, Packet: pkt}, nil
}

var _ Reader = (*pgsSource)(nil)

var _ av.CodecData = pgs.CodecData{}
