// Package recording implements the dual-stream WAV capture and mixdown
// pipeline of spec.md §4.8, grounded on internal/rtpmanager/media/audio.go's
// WAV container handling (reused for the header layout, inverted from
// reading into writing) plus µ-law decode via github.com/zaf/g711.
package recording

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/zaf/g711"
)

const (
	sampleRate    = 8000
	bitsPerSample = 16
	numChannels   = 1
)

// Writer accumulates linear16 PCM samples decoded from an incoming µ-law
// stream and writes a standard WAV container on Close.
type Writer struct {
	path string
	pcm  []int16
}

// NewWriter creates a writer that will produce an 8kHz mono 16-bit WAV at
// path when Close is called.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// WriteUlaw decodes one µ-law frame and appends it to the stream.
func (w *Writer) WriteUlaw(frame []byte) {
	pcmBytes := g711.DecodeUlaw(frame)
	for i := 0; i+1 < len(pcmBytes); i += 2 {
		w.pcm = append(w.pcm, int16(binary.LittleEndian.Uint16(pcmBytes[i:i+2])))
	}
}

// Samples returns the accumulated linear16 samples without closing the
// writer, used by mixdown.
func (w *Writer) Samples() []int16 {
	return w.pcm
}

// Close writes the accumulated samples to a WAV file at w.path.
func (w *Writer) Close() error {
	if w.path == "" {
		return nil
	}
	return writeWAV(w.path, w.pcm)
}

// MixAndWrite sums two aligned PCM streams (rx+tx) with saturation and
// writes the result as a single WAV file, per spec.md §4.8's
// "stop_and_merge" description.
func MixAndWrite(path string, a, b []int16) error {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	mixed := make([]int16, n)
	for i := 0; i < n; i++ {
		var av, bv int32
		if i < len(a) {
			av = int32(a[i])
		}
		if i < len(b) {
			bv = int32(b[i])
		}
		mixed[i] = saturate(av + bv)
	}
	return writeWAV(path, mixed)
}

func saturate(v int32) int16 {
	const max = int32(1<<15 - 1)
	const min = -int32(1 << 15)
	if v > max {
		return int16(max)
	}
	if v < min {
		return int16(min)
	}
	return int16(v)
}

func writeWAV(path string, samples []int16) error {
	var data bytes.Buffer
	for _, s := range samples {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		data.Write(b[:])
	}

	dataSize := uint32(data.Len())
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	var header bytes.Buffer
	header.WriteString("RIFF")
	binary.Write(&header, binary.LittleEndian, uint32(36+dataSize))
	header.WriteString("WAVE")
	header.WriteString("fmt ")
	binary.Write(&header, binary.LittleEndian, uint32(16))
	binary.Write(&header, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&header, binary.LittleEndian, uint16(numChannels))
	binary.Write(&header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&header, binary.LittleEndian, byteRate)
	binary.Write(&header, binary.LittleEndian, blockAlign)
	binary.Write(&header, binary.LittleEndian, uint16(bitsPerSample))
	header.WriteString("data")
	binary.Write(&header, binary.LittleEndian, dataSize)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recording: create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(header.Bytes()); err != nil {
		return err
	}
	_, err = f.Write(data.Bytes())
	return err
}
