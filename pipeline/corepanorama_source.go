package pipeline

import (
	"io"
	"os"
	"path/filepath"

	"github.com/go-remux/remux/format/corepanorama"
)

// corepanoramaSource adapts *corepanorama.Reader, a single-track
// still-image slideshow, to pipeline.Reader.
type corepanoramaSource struct {
	r    *corepanorama.Reader
	open func(url string) (io.ReadCloser, error)
}

// NewCorePanoramaSource adapts an opened CorePanorama document reader
// into the pipeline's uniform Reader interface. open resolves each
// Picture element's URL attribute to its image bytes; use
// NewRelativeFileResolver for the common case of URLs relative to the
// XML document's own directory.
func NewCorePanoramaSource(r *corepanorama.Reader, open func(url string) (io.ReadCloser, error)) Reader {
	return &corepanoramaSource{r: r, open: open}
}

// NewRelativeFileResolver returns an open function that resolves a
// Picture URL as a path relative to baseDir (r_corepicture.cpp's
// pictures are always referenced relative to the XML document's own
// directory).
func NewRelativeFileResolver(baseDir string) func(string) (io.ReadCloser, error) {
	return func(url string) (io.ReadCloser, error) {
		return os.Open(filepath.Join(baseDir, url))
	}
}

func (s *corepanoramaSource) Tracks() []TrackInfo {
	return []TrackInfo{{Index: 0, Codec: s.r.Codec}}
}

func (s *corepanoramaSource) ReadPacket() (Packet, error) {
	pkt, err := s.r.ReadPicture(s.open)
	if err != nil {
		return Packet{}, err
	}
	pkt.Idx = 0
	return Packet{TrackIndex: 0, Packet: pkt}, nil
}

var _ Reader = (*corepanoramaSource)(nil)
