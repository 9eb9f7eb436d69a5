// Package tts defines the Provider interface for Text-to-Speech backends and
// a caching front that memoizes synthesized audio across calls.
//
// The primary entry point is Synthesize, which renders one utterance and
// returns a channel of raw audio byte chunks as they become available,
// enabling low-latency pipelining between the LLM output and the telephony
// stream.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple synthesis
// requests may run in parallel.
type Provider interface {
	// Synthesize renders text with the given voice and returns a channel that
	// emits raw audio chunks in the profile's encoding as they arrive.
	//
	// The returned channel is closed by the implementation when synthesis
	// finishes or ctx is cancelled. The caller must drain it to avoid
	// blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if synthesis cannot be started.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)
}
