// Package pipeline implements spec.md §2's "packet pipeline glue": it
// orders demuxed access units by type and wires each format package's
// probe → packetize → consume stages behind one uniform pull interface,
// the way the teacher's format/avi.Demuxer exposed a two-phase
// Streams()/ReadPacket() contract that higher layers drained without
// caring which concrete demuxer produced the data.
//
// Every concrete adapter in this package (avi_source.go,
// mpegps_source.go, pgs_source.go, corepanorama_source.go) implements
// Reader; Session wraps whichever one an opener chose with a stable
// per-session identity used for log correlation (spec.md §9 "Global
// mutable state": "the cues accumulator must be a per-mux-session
// object ... not a process-wide singleton" — generalized here to demux
// sessions, since the same multiple-concurrent-invocations concern
// applies to both).
package pipeline

import (
	"io"

	"github.com/google/uuid"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/internal/remuxlog"
	"github.com/go-remux/remux/pkg/remuxopts"
)

// TrackInfo describes one track a Reader exposes before any packet has
// been pulled from it.
type TrackInfo struct {
	Index int
	Codec av.CodecData
}

// Packet is one pipeline-delivered access unit tagged with the track
// that produced it (spec.md §2: "one access unit with {data, timestamp,
// duration, keyframe_flag, back_reference, forward_reference} is
// delivered to the muxer").
type Packet struct {
	TrackIndex int
	av.Packet
}

// Reader is the uniform pull interface every concrete format package's
// demuxer is adapted to. ReadPacket returns io.EOF once every track is
// exhausted.
type Reader interface {
	Tracks() []TrackInfo
	ReadPacket() (Packet, error)
}

// Session wires one opened Reader to a stable uuid identity, following
// the teacher's go.mod-provided github.com/google/uuid dependency (see
// DESIGN.md "DOMAIN STACK").
type Session struct {
	ID   uuid.UUID
	Opts remuxopts.Options

	r Reader

	fileIsDamaged bool
}

// damagedReporter is implemented by Readers whose underlying demuxer can
// report spec.md §6's "file_is_damaged" flag.
type damagedReporter interface {
	Damaged() bool
}

// NewSession opens a pipeline session over r, logging at info level so
// every downstream warning this session emits can be correlated by the
// same session id.
func NewSession(r Reader, opts remuxopts.Options) *Session {
	s := &Session{ID: uuid.New(), Opts: opts, r: r}
	if dr, ok := r.(damagedReporter); ok {
		s.fileIsDamaged = dr.Damaged()
	}
	remuxlog.Logger().Info("pipeline session opened", "session", s.ID.String(), "tracks", len(r.Tracks()))
	return s
}

// Tracks returns the track descriptors the underlying Reader exposes.
func (s *Session) Tracks() []TrackInfo { return s.r.Tracks() }

// ReadPacket pulls the next access unit, refreshing the damaged flag
// from the underlying Reader when it supports reporting one.
func (s *Session) ReadPacket() (Packet, error) {
	pkt, err := s.r.ReadPacket()
	if dr, ok := s.r.(damagedReporter); ok {
		s.fileIsDamaged = s.fileIsDamaged || dr.Damaged()
	}
	if err != nil && err != io.EOF {
		remuxlog.Logger().Warn("pipeline read error", "session", s.ID.String(), "err", err.Error())
	}
	return pkt, err
}

// FileIsDamaged reports spec.md §6's "Exit behavior": whether demux of
// this session's source yielded an incomplete but consistent stream.
func (s *Session) FileIsDamaged() bool { return s.fileIsDamaged }

// Drain pulls every remaining packet from s, in delivery order, until
// io.EOF. Used by cmd/remux-probe and by tests that only care about the
// final ordered sequence, not streaming consumption.
func Drain(s *Session) ([]Packet, error) {
	var out []Packet
	for {
		pkt, err := s.ReadPacket()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, pkt)
	}
}
