package provider

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bogem/id3v2"

	"drivecast/internal"
)

const (
	// flacHeadSize covers the "fLaC" marker, one metadata block header and
	// the 34-byte STREAMINFO block that must come first
	flacHeadSize = 4 + 4 + 34

	id3HeaderSize = 10

	// maxID3TagSize bounds how much of an MP3 head is buffered. Tags with
	// large embedded artwork beyond this are reported as undecodable.
	maxID3TagSize = 8 << 20
)

// ProbeStrategy reads the duration from the head of the audio stream. It
// only runs when the confirmed window starts at offset 0; any other window
// yields duration 0 and the stream is passed through untouched.
type ProbeStrategy struct {
	Codec string
}

func (s *ProbeStrategy) Name() string { return StrategyProbe }

func (s *ProbeStrategy) Fields() []string { return nil }

func (s *ProbeStrategy) NeedsStream() bool { return true }

func (s *ProbeStrategy) Duration(item *internal.DriveItem, window internal.Range, stream io.Reader) (uint64, io.Reader, error) {
	if window.Start != 0 {
		return 0, stream, nil
	}

	switch s.Codec {
	case "mp3":
		return probeID3(window, stream)
	default:
		return probeFLAC(window, stream)
	}
}

// probeFLAC decodes STREAMINFO. The captured head is replayed in front of
// the remaining stream.
func probeFLAC(window internal.Range, stream io.Reader) (uint64, io.Reader, error) {
	if window.End != nil && *window.End < flacHeadSize-1 {
		return 0, stream, nil
	}

	head := make([]byte, flacHeadSize)
	n, err := io.ReadFull(stream, head)
	replay := io.MultiReader(bytes.NewReader(head[:n]), stream)
	if err != nil {
		return 0, replay, internal.WrapError(err, "stream ended before FLAC STREAMINFO", internal.ErrDecode)
	}

	duration, err := parseStreamInfo(head)
	if err != nil {
		return 0, replay, err
	}
	return duration, replay, nil
}

// parseStreamInfo reads the sample rate and total sample count from a FLAC
// head and converts them to milliseconds
func parseStreamInfo(head []byte) (uint64, error) {
	if len(head) < flacHeadSize || string(head[:4]) != "fLaC" {
		return 0, internal.NewDecodeError("missing fLaC stream marker")
	}

	blockType := head[4] & 0x7F
	blockLen := uint32(head[5])<<16 | uint32(head[6])<<8 | uint32(head[7])
	if blockType != 0 || blockLen != 34 {
		return 0, internal.NewDecodeError("first metadata block is not STREAMINFO")
	}

	info := head[8:]
	// 16+16 bits block size, 24+24 bits frame size, then
	// 20 bits sample rate, 3 bits channels, 5 bits depth, 36 bits samples
	sampleRate := uint64(info[10])<<12 | uint64(info[11])<<4 | uint64(info[12])>>4
	totalSamples := uint64(info[13]&0x0F)<<32 | uint64(binary.BigEndian.Uint32(info[14:18]))

	if sampleRate == 0 {
		return 0, internal.NewDecodeError("STREAMINFO sample rate is zero")
	}
	return totalSamples * 1000 / sampleRate, nil
}

// probeID3 buffers the ID3v2 tag at the head of an MP3 stream and reads its
// TLEN frame
func probeID3(window internal.Range, stream io.Reader) (uint64, io.Reader, error) {
	if window.End != nil && *window.End < id3HeaderSize-1 {
		return 0, stream, nil
	}

	header := make([]byte, id3HeaderSize)
	n, err := io.ReadFull(stream, header)
	if err != nil {
		return 0, io.MultiReader(bytes.NewReader(header[:n]), stream),
			internal.WrapError(err, "stream ended before ID3v2 header", internal.ErrDecode)
	}
	if string(header[:3]) != "ID3" {
		return 0, io.MultiReader(bytes.NewReader(header), stream), internal.NewDecodeError("stream has no ID3v2 tag")
	}

	size := id3HeaderSize + syncsafe(header[6:10])
	if header[5]&0x10 != 0 {
		size += id3HeaderSize // footer
	}
	if size > maxID3TagSize {
		return 0, io.MultiReader(bytes.NewReader(header), stream), internal.NewDecodeError("ID3v2 tag exceeds probe limit")
	}

	var captured bytes.Buffer
	captured.Write(header)
	_, err = io.CopyN(&captured, stream, int64(size-id3HeaderSize))
	replay := io.MultiReader(bytes.NewReader(captured.Bytes()), stream)
	if err != nil {
		return 0, replay, internal.WrapError(err, "stream ended inside ID3v2 tag", internal.ErrDecode)
	}

	tag, err := id3v2.ParseReader(bytes.NewReader(captured.Bytes()), id3v2.Options{
		Parse:       true,
		ParseFrames: []string{"TLEN"},
	})
	if err != nil {
		return 0, replay, internal.WrapError(err, "malformed ID3v2 tag", internal.ErrDecode)
	}

	text := strings.TrimSpace(strings.TrimRight(tag.GetTextFrame("TLEN").Text, "\x00"))
	if text == "" {
		return 0, replay, internal.NewDecodeError("ID3v2 tag has no TLEN frame")
	}
	duration, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, replay, internal.NewDecodeError(fmt.Sprintf("TLEN frame %q is not a number", text))
	}
	return duration, replay, nil
}

// syncsafe decodes a 28-bit ID3v2 size stored as four 7-bit bytes
func syncsafe(b []byte) int {
	return int(b[0]&0x7F)<<21 | int(b[1]&0x7F)<<14 | int(b[2]&0x7F)<<7 | int(b[3]&0x7F)
}
