package avi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-remux/remux/av"
	"github.com/go-remux/remux/format/avi/aviio"
)

// Writer serializes demuxed packets back into a RIFF AVI container. It
// is kept from the teacher's format/avi/muxer.go structure (buffer the
// header list to compute its size up front, patch the RIFF/movi/frame-
// count fields at trailer time), generalized to this module's own av.CodecData
// vocabulary instead of codec-specific parser packages, and used both as
// a real encode path and as the round-trip fixture generator the reader
// tests in format/avi/reader_test.go build against.
type Writer struct {
	ws io.WriteSeeker

	codecData      []av.CodecData
	videoStreamIdx int
	audioStreamIdx int
	hasVideo       bool
	hasAudio       bool

	frameCount   uint32
	indexEntries []aviio.IndexEntry
	moviListPos  int64
	headerPos    int64
	dataSize     uint32

	fps             float64
	width           uint32
	height          uint32
	audioSampleRate uint32
}

func NewWriter(ws io.WriteSeeker) *Writer {
	return &Writer{ws: ws, videoStreamIdx: -1, audioStreamIdx: -1}
}

func (m *Writer) WriteHeader(codecData []av.CodecData) error {
	m.codecData = codecData

	for i, cd := range codecData {
		switch {
		case cd.Type().IsVideo():
			m.videoStreamIdx = i
			m.hasVideo = true
			if vcd, ok := cd.(av.VideoCodecData); ok {
				m.width = uint32(vcd.Width())
				m.height = uint32(vcd.Height())
			}
		case cd.Type().IsAudio():
			m.audioStreamIdx = i
			m.hasAudio = true
			if acd, ok := cd.(av.AudioCodecData); ok {
				m.audioSampleRate = uint32(acd.SampleRate())
			}
		}
	}

	if m.fps == 0 {
		m.fps = 25
	}

	return m.writeFileHeaders()
}

func (m *Writer) writeFileHeaders() error {
	var err error
	m.headerPos, err = m.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	if err := aviio.WriteChunkHeader(m.ws, aviio.FourCCRIFF, 0); err != nil {
		return err
	}
	if err := binary.Write(m.ws, binary.LittleEndian, aviio.FourCCAVI); err != nil {
		return err
	}
	if err := m.writeHeaderList(); err != nil {
		return err
	}

	m.moviListPos, err = m.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := aviio.WriteChunkHeader(m.ws, aviio.FourCCLIST, 0); err != nil {
		return err
	}
	return binary.Write(m.ws, binary.LittleEndian, aviio.FourCCmovi)
}

func (m *Writer) writeHeaderList() error {
	headerBuf := &bytes.Buffer{}
	if err := m.writeMainHeader(headerBuf); err != nil {
		return err
	}
	if m.hasVideo {
		if err := m.writeStreamHeaders(headerBuf, m.videoStreamIdx, true); err != nil {
			return err
		}
	}
	if m.hasAudio {
		if err := m.writeStreamHeaders(headerBuf, m.audioStreamIdx, false); err != nil {
			return err
		}
	}

	if err := aviio.WriteChunkHeader(m.ws, aviio.FourCCLIST, uint32(headerBuf.Len()+4)); err != nil {
		return err
	}
	if err := binary.Write(m.ws, binary.LittleEndian, aviio.FourCChdrl); err != nil {
		return err
	}
	_, err := m.ws.Write(headerBuf.Bytes())
	return err
}

func (m *Writer) writeMainHeader(w io.Writer) error {
	mainHeader := &aviio.MainAVIHeader{
		MicroSecPerFrame:    uint32(1000000 / m.fps),
		Flags:               0x10, // AVIF_HASINDEX
		Streams:             uint32(len(m.codecData)),
		SuggestedBufferSize: 1048576,
		Width:               m.width,
		Height:              m.height,
	}
	if err := aviio.WriteChunkHeader(w, aviio.FourCCavih, 56); err != nil {
		return err
	}
	return aviio.WriteMainAVIHeader(w, mainHeader)
}

func (m *Writer) writeStreamHeaders(w io.Writer, streamIdx int, isVideo bool) error {
	streamBuf := &bytes.Buffer{}
	var err error
	if isVideo {
		err = m.writeVideoStreamHeader(streamBuf, streamIdx)
	} else {
		err = m.writeAudioStreamHeader(streamBuf, streamIdx)
	}
	if err != nil {
		return err
	}

	if err := aviio.WriteChunkHeader(w, aviio.FourCCLIST, uint32(streamBuf.Len()+4)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, aviio.FourCCstrl); err != nil {
		return err
	}
	_, err = w.Write(streamBuf.Bytes())
	return err
}

func (m *Writer) writeVideoStreamHeader(w io.Writer, streamIdx int) error {
	codec := m.codecData[streamIdx]

	var handler uint32
	switch codec.Type() {
	case av.H264:
		handler = aviio.FourCC("H264")
	case av.H265:
		handler = aviio.FourCC("H265")
	}

	streamHeader := &aviio.StreamHeader{
		Type:                aviio.FourCCvids,
		Handler:             handler,
		Scale:               1,
		Rate:                uint32(m.fps),
		SuggestedBufferSize: 1048576,
		Quality:             10000,
		Frame:               [4]uint16{0, 0, uint16(m.width), uint16(m.height)},
	}
	if err := aviio.WriteChunkHeader(w, aviio.FourCCstrh, 56); err != nil {
		return err
	}
	if err := aviio.WriteStreamHeader(w, streamHeader); err != nil {
		return err
	}
	return m.writeVideoFormat(w, codec)
}

func (m *Writer) writeAudioStreamHeader(w io.Writer, streamIdx int) error {
	codec := m.codecData[streamIdx]
	streamHeader := &aviio.StreamHeader{
		Type:                aviio.FourCCauds,
		Scale:               1,
		Rate:                m.audioSampleRate,
		SuggestedBufferSize: 65536,
		Quality:             10000,
	}
	if err := aviio.WriteChunkHeader(w, aviio.FourCCstrh, 56); err != nil {
		return err
	}
	if err := aviio.WriteStreamHeader(w, streamHeader); err != nil {
		return err
	}
	return m.writeAudioFormat(w, codec)
}

func extraDataOf(codec av.CodecData) []byte {
	if p, ok := codec.(av.ExtraDataProvider); ok {
		return p.ExtraData()
	}
	return nil
}

func (m *Writer) writeVideoFormat(w io.Writer, codec av.CodecData) error {
	bih := &aviio.BitmapInfoHeader{
		Size:      40,
		Width:     int32(m.width),
		Height:    int32(m.height),
		Planes:    1,
		BitCount:  24,
		SizeImage: m.width * m.height * 3,
	}
	switch codec.Type() {
	case av.H264:
		bih.Compression = aviio.FourCC("H264")
	case av.H265:
		bih.Compression = aviio.FourCC("H265")
	}

	extraData := extraDataOf(codec)
	formatSize := uint32(40 + len(extraData))
	if err := aviio.WriteChunkHeader(w, aviio.FourCCstrf, formatSize); err != nil {
		return err
	}
	if err := aviio.WriteBitmapInfoHeader(w, bih); err != nil {
		return err
	}
	if len(extraData) > 0 {
		if _, err := w.Write(extraData); err != nil {
			return err
		}
	}
	if formatSize&1 == 1 {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Writer) writeAudioFormat(w io.Writer, codec av.CodecData) error {
	wfx := &aviio.WaveFormatEx{Channels: 2, BitsPerSample: 16}
	extraData := extraDataOf(codec)

	switch codec.Type() {
	case av.AAC:
		wfx.FormatTag = 0xFF
		if acd, ok := codec.(av.AudioCodecData); ok {
			wfx.SamplesPerSec = uint32(acd.SampleRate())
			wfx.Channels = uint16(acd.ChannelCount())
		}
	case av.PCM_MULAW:
		wfx.FormatTag = 0x07
		wfx.SamplesPerSec = m.audioSampleRate
		wfx.BitsPerSample = 8
	case av.PCM_ALAW:
		wfx.FormatTag = 0x06
		wfx.SamplesPerSec = m.audioSampleRate
		wfx.BitsPerSample = 8
	case av.PCM:
		wfx.FormatTag = 0x01
		wfx.SamplesPerSec = m.audioSampleRate
	case av.MP3:
		wfx.FormatTag = 0x55
		wfx.SamplesPerSec = m.audioSampleRate
	}

	wfx.BlockAlign = wfx.Channels * wfx.BitsPerSample / 8
	if wfx.BlockAlign != 0 {
		wfx.AvgBytesPerSec = wfx.SamplesPerSec * uint32(wfx.BlockAlign)
	}
	wfx.CbSize = uint16(len(extraData))

	formatSize := uint32(18 + len(extraData))
	if err := aviio.WriteChunkHeader(w, aviio.FourCCstrf, formatSize); err != nil {
		return err
	}
	if err := aviio.WriteWaveFormatEx(w, wfx); err != nil {
		return err
	}
	if len(extraData) > 0 {
		if _, err := w.Write(extraData); err != nil {
			return err
		}
	}
	if formatSize&1 == 1 {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Writer) WritePacket(pkt av.Packet) error {
	streamNum := int(pkt.Idx)
	var chunkID uint32
	switch streamNum {
	case m.videoStreamIdx:
		chunkID = aviio.FourCC(fmt.Sprintf("%02ddc", streamNum))
	case m.audioStreamIdx:
		chunkID = aviio.FourCC(fmt.Sprintf("%02dwb", streamNum))
	default:
		return fmt.Errorf("avi: writer: invalid stream index %d", streamNum)
	}

	currentPos, err := m.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	entry := aviio.IndexEntry{
		ChunkID: chunkID,
		Offset:  uint32(currentPos - m.moviListPos - 12), // -12: LIST header (8) + "movi" (4)
		Size:    uint32(len(pkt.Data)),
	}
	if pkt.IsKeyFrame {
		entry.Flags |= aviio.AVIIF_KEYFRAME
	}
	m.indexEntries = append(m.indexEntries, entry)

	if err := aviio.WriteChunkHeader(m.ws, chunkID, uint32(len(pkt.Data))); err != nil {
		return err
	}
	if _, err := m.ws.Write(pkt.Data); err != nil {
		return err
	}
	m.dataSize += 8 + uint32(len(pkt.Data))
	if len(pkt.Data)&1 == 1 {
		if _, err := m.ws.Write([]byte{0}); err != nil {
			return err
		}
		m.dataSize++
	}

	if streamNum == m.videoStreamIdx {
		m.frameCount++
	}
	return nil
}

func (m *Writer) WriteTrailer() error {
	if err := m.writeIndex(); err != nil {
		return err
	}

	currentPos, err := m.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := m.updateUint32At(4, uint32(currentPos-8)); err != nil {
		return err
	}
	if err := m.updateUint32At(m.moviListPos+4, m.dataSize+4); err != nil {
		return err
	}
	return m.updateUint32At(m.headerPos+48, m.frameCount)
}

func (m *Writer) writeIndex() error {
	if err := aviio.WriteChunkHeader(m.ws, aviio.FourCCidx1, uint32(len(m.indexEntries)*16)); err != nil {
		return err
	}
	for _, entry := range m.indexEntries {
		if err := binary.Write(m.ws, binary.LittleEndian, &entry); err != nil {
			return err
		}
	}
	return nil
}

func (m *Writer) updateUint32At(offset int64, value uint32) error {
	currentPos, err := m.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := m.ws.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(m.ws, binary.LittleEndian, value); err != nil {
		return err
	}
	_, err = m.ws.Seek(currentPos, io.SeekStart)
	return err
}
