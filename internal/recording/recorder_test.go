package recording

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zaf/g711"
)

func TestNewRecorderWithEmptyDirIsNoop(t *testing.T) {
	r := New("call-1", "")
	r.CaptureRx(g711.EncodeUlaw(int16ToBytes([]int16{1, 2})))
	r.CaptureTx(g711.EncodeUlaw(int16ToBytes([]int16{3, 4})))

	path, err := r.StopAndMerge()
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestRecorderCapturesAndMergesToWAV(t *testing.T) {
	dir := t.TempDir()
	r := New("call-2", dir)

	r.CaptureRx(g711.EncodeUlaw(int16ToBytes([]int16{100, 200})))
	r.CaptureTx(g711.EncodeUlaw(int16ToBytes([]int16{10, 20})))

	path, err := r.StopAndMerge()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "call-2-mixed.wav"), path)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestRecorderEnableBLegCreatesSecondPairAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r := New("call-3", dir)
	r.EnableBLeg()
	first := r.bRx
	r.EnableBLeg()
	assert.Same(t, first, r.bRx, "calling EnableBLeg twice must not replace the existing writers")

	r.CaptureBLegRx(g711.EncodeUlaw(int16ToBytes([]int16{1})))
	r.CaptureBLegTx(g711.EncodeUlaw(int16ToBytes([]int16{2})))

	path, err := r.StopAndMerge()
	require.NoError(t, err)
	require.NotEmpty(t, path)

	_, err = os.Stat(filepath.Join(dir, "call-3-b-mixed.wav"))
	require.NoError(t, err, "b-leg mixdown must also be written once EnableBLeg was called")
}

func TestRecorderDurationIsNonNegative(t *testing.T) {
	r := New("call-4", "")
	assert.GreaterOrEqual(t, r.Duration().Seconds(), 0.0)
}
