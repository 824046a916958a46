package recording

import (
	"fmt"
	"path/filepath"
	"time"
)

// Recorder is the CallId-scoped recording object of spec.md §3: two WAV
// writers (rx-from-peer, tx-to-peer) plus, when bridged, a second pair for
// the B-leg.
type Recorder struct {
	callID  string
	dir     string
	rx      *Writer
	tx      *Writer
	bRx     *Writer
	bTx     *Writer
	started time.Time
}

// New creates a recorder for callID rooted at dir. If dir is empty,
// recording is a no-op (resource errors per spec.md §7: "cannot open
// recording file... continue without that facility").
func New(callID, dir string) *Recorder {
	r := &Recorder{callID: callID, dir: dir, started: time.Now()}
	if dir == "" {
		return r
	}
	r.rx = NewWriter(filepath.Join(dir, callID+"-rx.wav"))
	r.tx = NewWriter(filepath.Join(dir, callID+"-tx.wav"))
	return r
}

// EnableBLeg starts the second pair of writers, used when the call becomes
// bridged (B2BUA mode).
func (r *Recorder) EnableBLeg() {
	if r.dir == "" || r.bRx != nil {
		return
	}
	r.bRx = NewWriter(filepath.Join(r.dir, r.callID+"-b-rx.wav"))
	r.bTx = NewWriter(filepath.Join(r.dir, r.callID+"-b-tx.wav"))
}

// CaptureRx records one inbound (peer -> us) µ-law frame.
func (r *Recorder) CaptureRx(frame []byte) {
	if r.rx != nil {
		r.rx.WriteUlaw(frame)
	}
}

// CaptureTx records one outbound (us -> peer) µ-law frame.
func (r *Recorder) CaptureTx(frame []byte) {
	if r.tx != nil {
		r.tx.WriteUlaw(frame)
	}
}

// CaptureBLegRx records one inbound B-leg frame (peer-B -> us, forwarded to A).
func (r *Recorder) CaptureBLegRx(frame []byte) {
	if r.bRx != nil {
		r.bRx.WriteUlaw(frame)
	}
}

// CaptureBLegTx records one outbound B-leg frame (us -> peer-B).
func (r *Recorder) CaptureBLegTx(frame []byte) {
	if r.bTx != nil {
		r.bTx.WriteUlaw(frame)
	}
}

// StopAndMerge flushes all writers, closes them, and produces a single
// mixed WAV (rx+tx summed with saturation) for the call log.
// Returns the mixed file path, or "" if recording was disabled.
func (r *Recorder) StopAndMerge() (string, error) {
	if r.dir == "" {
		return "", nil
	}

	for _, w := range []*Writer{r.rx, r.tx, r.bRx, r.bTx} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			return "", fmt.Errorf("recording: close writer %s: %w", r.callID, err)
		}
	}

	var rxSamples, txSamples []int16
	if r.rx != nil {
		rxSamples = r.rx.Samples()
	}
	if r.tx != nil {
		txSamples = r.tx.Samples()
	}

	mixedPath := filepath.Join(r.dir, r.callID+"-mixed.wav")
	if err := MixAndWrite(mixedPath, rxSamples, txSamples); err != nil {
		return "", fmt.Errorf("recording: mixdown %s: %w", r.callID, err)
	}

	if r.bRx != nil {
		bMixed := filepath.Join(r.dir, r.callID+"-b-mixed.wav")
		if err := MixAndWrite(bMixed, r.bRx.Samples(), r.bTx.Samples()); err != nil {
			return mixedPath, fmt.Errorf("recording: b-leg mixdown %s: %w", r.callID, err)
		}
	}

	return mixedPath, nil
}

// Duration returns how long this recorder has been active.
func (r *Recorder) Duration() time.Duration {
	return time.Since(r.started)
}
