package listen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// one second of MPEG-1 layer III at 128 kbps
func writeMP3(t *testing.T, name string, withTag bool) string {
	t.Helper()
	audio := make([]byte, 16000)
	copy(audio, []byte{0xFF, 0xFB, 0x90, 0x00})
	var data []byte
	if withTag {
		data = append(data, 'I', 'D', '3', 3, 0, 0, 0, 0, 0, 0)
	}
	data = append(data, audio...)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestProbeDuration(t *testing.T) {
	for _, withTag := range []bool{false, true} {
		d, err := ProbeDuration(writeMP3(t, "a.mp3", withTag))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, d, 0.001)
	}
}

func TestProbeRejectsNonMPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.mp3")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o644))
	_, err := ProbeDuration(path)
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestParseFrameHeader(t *testing.T) {
	fh, ok := parseFrameHeader([]byte{0xFF, 0xFB, 0x90, 0x00})
	require.True(t, ok)
	assert.Equal(t, 128000, fh.bitrate)
	assert.Equal(t, 44100, fh.sampleRate)

	_, ok = parseFrameHeader([]byte{0xFF, 0xFB, 0xF0, 0x00}) // bad bitrate index
	assert.False(t, ok)
	_, ok = parseFrameHeader([]byte{0xFF, 0xF9, 0x90, 0x00}) // reserved layer
	assert.False(t, ok)
}

func TestProbeLocalTrack(t *testing.T) {
	path := writeMP3(t, "Morning Song.mp3", true)
	tr, err := ProbeLocalTrack(path, "u1", 42)
	require.NoError(t, err)
	assert.Equal(t, "Morning Song", tr.Title)
	assert.True(t, strings.HasPrefix(tr.SourceLocator, FileLocatorPrefix))
	assert.True(t, strings.HasPrefix(tr.ID, "local-"))
	assert.Equal(t, "u1", tr.AddedBy)
	assert.InDelta(t, 1.0, tr.DurationSeconds, 0.001)
}
