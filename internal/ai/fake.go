package ai

import "context"

// Fake is a package-local in-memory Services implementation, and it is
// also the AI port cmd/switchboard wires into every session (spec.md §1
// excludes real ASR/LLM/TTS backends from scope).
// Every call returns a canned, deterministic response so session-layer
// tests can assert on the IVR/voicebot state machine without a model.
type Fake struct {
	TranscribeText string
	Intent         string
	Slots          map[string]string
	GenerateText   string
	WeatherText    string
	SynthesizePath string
	Emotion        Emotion
}

// NewFake returns a Fake with neutral defaults.
func NewFake() *Fake {
	return &Fake{
		Emotion: EmotionNeutral,
	}
}

func (f *Fake) Transcribe(_ context.Context, _ []int16) (string, error) {
	return f.TranscribeText, nil
}

func (f *Fake) Classify(_ context.Context, _ string) (string, map[string]string, error) {
	return f.Intent, f.Slots, nil
}

func (f *Fake) Generate(_ context.Context, _ []ChatMessage) (string, error) {
	return f.GenerateText, nil
}

func (f *Fake) Weather(_ context.Context, _ WeatherQuery) (string, error) {
	return f.WeatherText, nil
}

func (f *Fake) Synthesize(_ context.Context, _ string) (string, error) {
	return f.SynthesizePath, nil
}

func (f *Fake) DetectEmotion(_ context.Context, _ []int16) (Emotion, error) {
	return f.Emotion, nil
}

var _ Services = (*Fake)(nil)
