// Command remux-probe opens one media file, prints the track
// descriptors each reader package discovered, and drains every packet
// to exercise the full probe -> packetize -> consume path (spec.md §2),
// the way alxayo-rtmp-go/cmd/rtmp-server's flag-parsed, logger.Init'd
// main wires a config struct into its server package. There is no
// server here: remux-probe is a one-shot CLI, not a daemon.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-remux/remux/format/avi"
	"github.com/go-remux/remux/format/corepanorama"
	"github.com/go-remux/remux/format/mpegps"
	"github.com/go-remux/remux/format/pgs"
	"github.com/go-remux/remux/internal/remuxlog"
	"github.com/go-remux/remux/pipeline"
	"github.com/go-remux/remux/pkg/ioutil"
	"github.com/go-remux/remux/pkg/remuxopts"
)

func main() {
	inputPath := flag.String("input", "", "path to the media file to probe (required)")
	formatFlag := flag.String("format", "auto", "container format: auto|avi|mpegps|pgs|corepanorama")
	flag.Parse()

	remuxlog.Init()
	log := remuxlog.Logger().With("component", "remux-probe")

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "remux-probe: -input is required")
		os.Exit(2)
	}

	if err := run(*inputPath, *formatFlag, log); err != nil {
		log.Error("probe failed", "input", *inputPath, "error", err.Error())
		os.Exit(1)
	}
}

func run(path, format string, log *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	src := ioutil.NewFileSource(f, info.Size())

	detected := format
	if detected == "auto" {
		detected, err = detectFormat(f, path)
		if err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}

	opts := remuxopts.Default()
	reader, err := openReader(detected, src, opts, path)
	if err != nil {
		return err
	}

	session := pipeline.NewSession(reader, opts)
	log.Info("opened", "format", detected, "session", session.ID.String())

	for _, t := range session.Tracks() {
		log.Info("track", "index", t.Index, "codec", t.Codec.Type().String())
	}

	count := 0
	for {
		_, err := session.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read packet %d: %w", count, err)
		}
		count++
	}

	log.Info("drained", "packets", count, "damaged", session.FileIsDamaged())
	return nil
}

func openReader(format string, src ioutil.Source, opts remuxopts.Options, path string) (pipeline.Reader, error) {
	switch format {
	case "avi":
		r, err := avi.NewReader(src, opts)
		if err != nil {
			return nil, err
		}
		return pipeline.NewAVISource(r), nil
	case "mpegps":
		r, err := mpegps.NewReader(src, opts)
		if err != nil {
			return nil, err
		}
		return pipeline.NewMPEGPSSource(r, opts), nil
	case "pgs":
		return pipeline.NewPGSSource(pgs.NewReader(src)), nil
	case "corepanorama":
		r, err := corepanorama.NewReader(src)
		if err != nil {
			return nil, err
		}
		return pipeline.NewCorePanoramaSource(r, pipeline.NewRelativeFileResolver(filepath.Dir(path))), nil
	default:
		return nil, fmt.Errorf("unrecognized -format %q", format)
	}
}

// detectFormat sniffs container type from the leading bytes (RIFF/AVI,
// an MPEG-PS pack or PES start code, a "PG" PGS segment magic) or, for
// CorePanorama's XML document, from its first element name via
// corepanorama.Probe.
func detectFormat(f *os.File, path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		isCorePanorama := corepanorama.Probe(f)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		if isCorePanorama {
			return "corepanorama", nil
		}
	}

	var hdr [4]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return "", fmt.Errorf("file too short to sniff a container format")
		}
		return "", err
	}

	switch {
	case string(hdr[:]) == "RIFF":
		return "avi", nil
	case hdr[0] == 0 && hdr[1] == 0 && hdr[2] == 1:
		return "mpegps", nil
	case hdr[0] == 'P' && hdr[1] == 'G':
		return "pgs", nil
	default:
		return "", fmt.Errorf("unrecognized container signature %x", hdr)
	}
}
