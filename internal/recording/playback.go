package recording

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/zaf/g711"
)

const playbackFrameSamples = 160 // 20ms at 8kHz

// LoadPlaybackFrames reads a WAV file and slices it into 20ms µ-law frames
// ready for RTP transmission, grounded on
// internal/rtpmanager/media/audio.go's ReadWAVFile/ResampleAudio/PCMToPCMU
// pipeline. spec.md §4.5's playback engine rule is applied literally: an
// 8kHz mono WAV is encoded frame-by-frame as-is; a 24kHz/16-bit WAV is
// decimated by 3 before encoding; any other sample rate falls back to the
// teacher's linear-interpolation resampler.
func LoadPlaybackFrames(path string) ([][]byte, error) {
	pcm, sampleRate, channels, err := readWAVPCM16(path)
	if err != nil {
		return nil, err
	}

	mono := toMono(pcm, channels)

	switch {
	case sampleRate == 8000:
		// already the target rate
	case sampleRate == 24000:
		mono = decimate(mono, 3)
	default:
		mono = resampleLinear(mono, int(sampleRate), 8000)
	}

	return chunkToUlawFrames(mono), nil
}

func chunkToUlawFrames(pcm []int16) [][]byte {
	raw := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	ulaw := g711.EncodeUlaw(raw)

	var frames [][]byte
	for i := 0; i+playbackFrameSamples <= len(ulaw); i += playbackFrameSamples {
		frame := make([]byte, playbackFrameSamples)
		copy(frame, ulaw[i:i+playbackFrameSamples])
		frames = append(frames, frame)
	}
	if rem := len(ulaw) % playbackFrameSamples; rem != 0 {
		frame := make([]byte, playbackFrameSamples)
		for i := 0; i < playbackFrameSamples; i++ {
			frame[i] = 0xFF
		}
		copy(frame, ulaw[len(ulaw)-rem:])
		frames = append(frames, frame)
	}
	return frames
}

// readWAVPCM16 parses a RIFF/WAVE PCM file and returns its samples,
// sample rate, and channel count.
func readWAVPCM16(path string) (pcm []int16, sampleRate uint32, channels uint16, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("recording: open playback file %s: %w", path, err)
	}
	defer f.Close()

	var riffID [4]byte
	if _, err := io.ReadFull(f, riffID[:]); err != nil || string(riffID[:]) != "RIFF" {
		return nil, 0, 0, fmt.Errorf("recording: %s is not a RIFF file", path)
	}
	if _, err := f.Seek(4, io.SeekCurrent); err != nil { // riff size
		return nil, 0, 0, err
	}
	var waveID [4]byte
	if _, err := io.ReadFull(f, waveID[:]); err != nil || string(waveID[:]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("recording: %s is not a WAVE file", path)
	}

	var bitsPerSample uint16
	var dataBytes []byte

	for {
		var chunkID [4]byte
		if _, err := io.ReadFull(f, chunkID[:]); err != nil {
			break
		}
		var chunkSize uint32
		if err := binary.Read(f, binary.LittleEndian, &chunkSize); err != nil {
			return nil, 0, 0, err
		}
		switch string(chunkID[:]) {
		case "fmt ":
			var audioFormat uint16
			if err := binary.Read(f, binary.LittleEndian, &audioFormat); err != nil {
				return nil, 0, 0, err
			}
			if err := binary.Read(f, binary.LittleEndian, &channels); err != nil {
				return nil, 0, 0, err
			}
			if err := binary.Read(f, binary.LittleEndian, &sampleRate); err != nil {
				return nil, 0, 0, err
			}
			if _, err := f.Seek(6, io.SeekCurrent); err != nil { // byte rate + block align
				return nil, 0, 0, err
			}
			if err := binary.Read(f, binary.LittleEndian, &bitsPerSample); err != nil {
				return nil, 0, 0, err
			}
			if remaining := int64(chunkSize) - 16; remaining > 0 {
				if _, err := f.Seek(remaining, io.SeekCurrent); err != nil {
					return nil, 0, 0, err
				}
			}
		case "data":
			dataBytes = make([]byte, chunkSize)
			if _, err := io.ReadFull(f, dataBytes); err != nil {
				return nil, 0, 0, err
			}
		default:
			if _, err := f.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return nil, 0, 0, err
			}
		}
	}

	if dataBytes == nil {
		return nil, 0, 0, fmt.Errorf("recording: %s has no data chunk", path)
	}
	if bitsPerSample != 16 {
		return nil, 0, 0, fmt.Errorf("recording: %s: only 16-bit PCM playback is supported, got %d", path, bitsPerSample)
	}

	pcm = make([]int16, len(dataBytes)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(dataBytes[i*2:]))
	}
	return pcm, sampleRate, channels, nil
}

func toMono(pcm []int16, channels uint16) []int16 {
	if channels <= 1 {
		return pcm
	}
	mono := make([]int16, len(pcm)/int(channels))
	for i := range mono {
		var sum int32
		for c := 0; c < int(channels); c++ {
			sum += int32(pcm[i*int(channels)+c])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

// decimate keeps every nth sample, used for the literal 24kHz -> 8kHz
// "decimate by 3" rule of spec.md §4.5.
func decimate(pcm []int16, n int) []int16 {
	out := make([]int16, 0, len(pcm)/n+1)
	for i := 0; i < len(pcm); i += n {
		out = append(out, pcm[i])
	}
	return out
}

// resampleLinear is the teacher's ResampleAudio interpolation, operating on
// decoded int16 samples instead of raw bytes.
func resampleLinear(pcm []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(pcm) == 0 {
		return pcm
	}
	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(pcm)) / ratio)
	out := make([]int16, 0, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		if srcIdx+1 >= len(pcm) {
			break
		}
		frac := srcPos - float64(srcIdx)
		interp := float64(pcm[srcIdx])*(1-frac) + float64(pcm[srcIdx+1])*frac
		out = append(out, int16(interp))
	}
	return out
}
