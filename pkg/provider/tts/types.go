package tts

import (
	"strconv"
	"strings"

	"github.com/altavoz-ai/altavoz/pkg/audio"
)

// VoiceProfile fully determines how a synthesizer renders text. Two profiles
// with the same Identifier produce byte-identical audio for the same text,
// which is what makes cross-call caching sound safe.
type VoiceProfile struct {
	// Provider names the TTS backend, e.g. "eleven_labs".
	Provider string

	// VoiceID is the backend's voice identifier.
	VoiceID string

	// Model is the backend synthesis model, e.g. "eleven_turbo_v2_5".
	Model string

	// Stability and SimilarityBoost are ElevenLabs voice settings in [0, 1].
	Stability       float64
	SimilarityBoost float64

	// Style exaggeration in [0, 1].
	Style float64

	// Speed multiplier; 1.0 is natural pace.
	Speed float64

	// UseSpeakerBoost enables the backend's speaker similarity boost.
	UseSpeakerBoost bool

	// Encoding and SampleRate describe the produced audio.
	Encoding   audio.Encoding
	SampleRate int

	// Language is the BCP-47-ish language code used for cache bucketing.
	Language string
}

// Identifier returns the colon-joined cache identity of the profile. Every
// field that changes the rendered audio participates.
func (v VoiceProfile) Identifier() string {
	return strings.Join([]string{
		v.Provider,
		v.VoiceID,
		v.Model,
		formatFloat(v.Stability),
		formatFloat(v.SimilarityBoost),
		formatFloat(v.Style),
		formatFloat(v.Speed),
		strconv.FormatBool(v.UseSpeakerBoost),
		string(v.Encoding),
	}, ":")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
