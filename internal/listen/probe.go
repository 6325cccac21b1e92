// internal/listen/probe.go

package listen

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/petervdpas/tuneroom/internal/room"
)

var ErrNoFrame = errors.New("no valid MPEG frame found")

// FileLocatorPrefix marks tracks that point at a local file.
const FileLocatorPrefix = "file://"

// kbps by [MPEG-1 | MPEG-2/2.5][layer I, II, III][index].
var mpegBitrates = [2][3][16]int{
	{
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0},
	},
	{
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
	},
}

// Hz by [MPEG-1, MPEG-2, MPEG-2.5][index].
var mpegSampleRates = [3][4]int{
	{44100, 48000, 32000, 0},
	{22050, 24000, 16000, 0},
	{11025, 12000, 8000, 0},
}

// frameHeader is the part of an MPEG audio frame header the probe needs.
type frameHeader struct {
	bitrate    int // bits per second
	sampleRate int
}

// parseFrameHeader decodes a 4-byte frame header. ok is false for sync
// words with reserved or free-format fields.
func parseFrameHeader(b []byte) (frameHeader, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return frameHeader{}, false
	}
	h := binary.BigEndian.Uint32(b[:4])
	version := (h >> 19) & 0x03
	layer := (h >> 17) & 0x03
	rateIdx := (h >> 12) & 0x0F
	sampleIdx := (h >> 10) & 0x03

	var bitrateRow, sampleRow int
	switch version {
	case 3:
		bitrateRow, sampleRow = 0, 0
	case 2:
		bitrateRow, sampleRow = 1, 1
	case 0:
		bitrateRow, sampleRow = 1, 2
	default:
		return frameHeader{}, false
	}
	if layer == 0 {
		return frameHeader{}, false
	}
	layerCol := 3 - int(layer) // bits 3=I, 2=II, 1=III

	fh := frameHeader{
		bitrate:    mpegBitrates[bitrateRow][layerCol][rateIdx] * 1000,
		sampleRate: mpegSampleRates[sampleRow][sampleIdx],
	}
	if fh.bitrate == 0 || fh.sampleRate == 0 {
		return frameHeader{}, false
	}
	return fh, true
}

// id3Size returns the length of a leading ID3v2 tag, or 0.
func id3Size(hdr []byte) int64 {
	if len(hdr) < 10 || string(hdr[:3]) != "ID3" {
		return 0
	}
	// synchsafe: 7 bits per byte
	return 10 + (int64(hdr[6])<<21 | int64(hdr[7])<<14 | int64(hdr[8])<<7 | int64(hdr[9]))
}

// ProbeDuration estimates an MP3's length in seconds from its first frame's
// bitrate and the audio payload size. Exact for CBR files.
func ProbeDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}

	var hdr [10]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	offset := id3Size(hdr[:])
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}

	buf := make([]byte, 8192)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, err
	}
	buf = buf[:n]

	for i := 0; i+4 <= len(buf); i++ {
		fh, ok := parseFrameHeader(buf[i:])
		if !ok {
			continue
		}
		payload := stat.Size() - offset - int64(i)
		return float64(payload*8) / float64(fh.bitrate), nil
	}
	return 0, ErrNoFrame
}

// ProbeLocalTrack builds a track for a local MP3 so a headless listener can
// queue it. The title is the file name without extension.
func ProbeLocalTrack(path, addedBy string, nowMs int64) (room.Track, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return room.Track{}, err
	}
	dur, err := ProbeDuration(abs)
	if err != nil {
		return room.Track{}, fmt.Errorf("probe %s: %w", filepath.Base(abs), err)
	}
	name := filepath.Base(abs)
	t := room.Track{
		ID:              "local-" + uuid.NewString(),
		Title:           strings.TrimSuffix(name, filepath.Ext(name)),
		DurationSeconds: dur,
		SourceLocator:   FileLocatorPrefix + abs,
		AddedBy:         addedBy,
		AddedAtMs:       nowMs,
	}
	return t, t.Validate()
}
