package recording

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zaf/g711"
)

func TestWriterWriteUlawAccumulatesSamplesAndClosesToWAV(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "call.wav"))

	linear := []int16{100, -200, 300, 12345}
	frame := g711.EncodeUlaw(int16ToBytes(linear))
	w.WriteUlaw(frame)

	require.Len(t, w.Samples(), len(linear))
	require.NoError(t, w.Close())
}

func TestWriterCloseWithEmptyPathIsNoop(t *testing.T) {
	w := NewWriter("")
	w.WriteUlaw(g711.EncodeUlaw(int16ToBytes([]int16{1, 2, 3})))
	assert.NoError(t, w.Close())
}

func TestWriteWAVProducesValidRIFFHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	samples := []int16{0, 100, -100, 32000, -32000}
	require.NoError(t, writeWAV(path, samples))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[20:22]), "PCM format tag")
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]), "mono")
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(data[24:28]), "8kHz sample rate")
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]), "16 bits per sample")
	assert.Equal(t, "data", string(data[36:40]))

	dataSize := binary.LittleEndian.Uint32(data[40:44])
	assert.Equal(t, uint32(len(samples)*2), dataSize)
	assert.Len(t, data, 44+len(samples)*2)
}

func TestSaturateClampsToInt16Range(t *testing.T) {
	assert.Equal(t, int16(32767), saturate(100000))
	assert.Equal(t, int16(-32768), saturate(-100000))
	assert.Equal(t, int16(42), saturate(42))
}

func TestMixAndWriteSumsAndSaturates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.wav")
	a := []int16{30000, 100, -100}
	b := []int16{30000, -50, 50}

	require.NoError(t, MixAndWrite(path, a, b))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 44+len(a)*2)

	first := int16(binary.LittleEndian.Uint16(data[44:46]))
	assert.Equal(t, int16(32767), first, "30000+30000 overflows int16 and must saturate")

	second := int16(binary.LittleEndian.Uint16(data[46:48]))
	assert.Equal(t, int16(50), second)
}

func TestMixAndWriteHandlesUnequalLengths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed2.wav")
	a := []int16{1, 2, 3}
	b := []int16{10}

	require.NoError(t, MixAndWrite(path, a, b))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 44+len(a)*2)

	first := int16(binary.LittleEndian.Uint16(data[44:46]))
	assert.Equal(t, int16(11), first)
	third := int16(binary.LittleEndian.Uint16(data[48:50]))
	assert.Equal(t, int16(3), third)
}

func int16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], uint16(s))
	}
	return b
}
