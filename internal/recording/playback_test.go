package recording

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMonoPassthroughWhenAlreadyMono(t *testing.T) {
	pcm := []int16{1, 2, 3}
	assert.Equal(t, pcm, toMono(pcm, 1))
	assert.Equal(t, pcm, toMono(pcm, 0))
}

func TestToMonoAveragesStereoChannels(t *testing.T) {
	pcm := []int16{100, 200, -100, -300}
	mono := toMono(pcm, 2)
	require.Len(t, mono, 2)
	assert.Equal(t, int16(150), mono[0])
	assert.Equal(t, int16(-200), mono[1])
}

func TestDecimateKeepsEveryNthSample(t *testing.T) {
	pcm := []int16{0, 1, 2, 3, 4, 5, 6}
	assert.Equal(t, []int16{0, 3, 6}, decimate(pcm, 3))
}

func TestResampleLinearNoopWhenRatesMatch(t *testing.T) {
	pcm := []int16{1, 2, 3}
	assert.Equal(t, pcm, resampleLinear(pcm, 8000, 8000))
}

func TestResampleLinearDownsamplesProportionally(t *testing.T) {
	pcm := make([]int16, 16000)
	for i := range pcm {
		pcm[i] = int16(i)
	}
	out := resampleLinear(pcm, 16000, 8000)
	assert.InDelta(t, len(pcm)/2, len(out), 2)
}

func TestChunkToUlawFramesPadsFinalPartialFrame(t *testing.T) {
	pcm := make([]int16, playbackFrameSamples+10)
	frames := chunkToUlawFrames(pcm)
	require.Len(t, frames, 2)
	for _, f := range frames {
		assert.Len(t, f, playbackFrameSamples)
	}
}

func TestLoadPlaybackFramesRoundTripsAn8kHzWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.wav")
	samples := make([]int16, 8000) // 1 second of silence-ish ramp
	for i := range samples {
		samples[i] = int16(i % 100)
	}
	require.NoError(t, writeWAV(path, samples))

	frames, err := LoadPlaybackFrames(path)
	require.NoError(t, err)
	assert.Equal(t, len(samples)/playbackFrameSamples, len(frames))
	for _, f := range frames {
		assert.Len(t, f, playbackFrameSamples)
	}
}

func TestLoadPlaybackFramesRejectsMissingFile(t *testing.T) {
	_, err := LoadPlaybackFrames(filepath.Join(t.TempDir(), "nope.wav"))
	assert.Error(t, err)
}
