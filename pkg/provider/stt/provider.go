// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. The central abstraction is SessionHandle: once
// opened, a session accepts raw caller audio frames and emits two streams of
// Transcript values, low-latency partials for barge-in detection and
// authoritative finals for the event log.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephony carriers deliver
	// 8000 or 16000.
	SampleRate int

	// Encoding is the wire codec, "mulaw" or "linear16".
	Encoding string

	// Language is the BCP-47 language tag for recognition (e.g., "es", "en-US").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw caller audio to the provider for
	// transcription. The chunk must match the format agreed in StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values. These drive barge-in detection but must not be
	// written to the event log. The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values once the provider has committed to a recognition result. These
	// are the values appended to the event log and fed to the LLM.
	// The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Partials and Finals
	// channels will be closed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. One session is open per
// active call.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session. The
	// caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
