// Package ai defines the AiServices external collaborator of spec.md §6:
// the voicebot's speech, language, and intent backends. Concrete model
// HTTP wiring is out of scope (spec.md §1); this package is the typed
// contract the session coordinator's IVR/voicebot state machine calls
// into, plus the Weather lookup supplemented from
// original_source/virtual-voicebot-backend/src/service/ai/weather.rs —
// the distilled spec dropped it, but it is a concrete intent branch
// the original voicebot implements and is cheap to carry forward.
package ai

import "context"

// Role mirrors a chat message's speaker, as passed to Generate.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn in an LLM conversation.
type ChatMessage struct {
	Role    Role
	Content string
}

// Emotion is the speech-emotion-recognition label spec.md's voicebot
// pipeline can use to steer tone.
type Emotion string

const (
	EmotionNeutral Emotion = "neutral"
	EmotionHappy   Emotion = "happy"
	EmotionAngry   Emotion = "angry"
	EmotionSad     Emotion = "sad"
)

// WeatherQuery is the intent payload extracted from caller speech by
// Classify, routed to Weather.
type WeatherQuery struct {
	Location string
	Date     string // "" means today
}

// Services is the AiServices external collaborator (spec.md §6).
type Services interface {
	// Transcribe turns one buffered speech segment (linear16, 8kHz,
	// already VAD-trimmed) into text.
	Transcribe(ctx context.Context, pcm []int16) (string, error)

	// Classify extracts a structured intent from transcribed text,
	// returning the intent name and its slot values.
	Classify(ctx context.Context, text string) (intent string, slots map[string]string, err error)

	// Generate produces the assistant's next utterance from the running
	// conversation history.
	Generate(ctx context.Context, messages []ChatMessage) (string, error)

	// Weather answers a weather intent, supplemented from
	// original_source's handle_weather: resolve location to a forecast
	// area, fetch (or serve from cache), then summarize into one
	// spoken sentence.
	Weather(ctx context.Context, query WeatherQuery) (string, error)

	// Synthesize renders text to a playable WAV file path (spec.md
	// §4.5's playback engine consumes this path).
	Synthesize(ctx context.Context, text string) (wavPath string, err error)

	// DetectEmotion classifies a buffered speech segment's emotion.
	DetectEmotion(ctx context.Context, pcm []int16) (Emotion, error)
}
