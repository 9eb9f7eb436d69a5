// Package audio defines the audio primitives shared across the call pipeline:
// encodings, playback chunks, interruptible queue events, and the rate-limited
// output device that paces synthesized speech onto the telephony stream.
package audio

import "time"

// Encoding identifies the wire format of raw audio bytes.
type Encoding string

const (
	// Linear16 is 16-bit little-endian PCM.
	Linear16 Encoding = "linear16"

	// Mulaw is 8-bit G.711 μ-law, the standard telephony codec.
	Mulaw Encoding = "mulaw"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	return e == Linear16 || e == Mulaw
}

// SilenceByte returns the byte value representing silence for the encoding.
// μ-law silence is 0xFF; PCM silence is 0x00.
func (e Encoding) SilenceByte() byte {
	if e == Mulaw {
		return 0xFF
	}
	return 0x00
}

// BytesPerSecond returns the number of audio bytes that represent one second
// of playback for the given encoding and sample rate.
func BytesPerSecond(encoding Encoding, sampleRate int) int {
	if encoding == Linear16 {
		return sampleRate * 2
	}
	return sampleRate
}

// Duration returns the real playback duration of n bytes of audio.
func Duration(n int, encoding Encoding, sampleRate int) time.Duration {
	bps := BytesPerSecond(encoding, sampleRate)
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}

// Carrier media constants. Each telephony provider negotiates a fixed codec,
// sample rate, and outbound chunk size for its media WebSocket.
const (
	TwilioSampleRate = 8000
	TwilioChunkSize  = 20 * 160
	VonageSampleRate = 16000
	VonageChunkSize  = 640
	AlturSampleRate  = 8000
	AlturChunkSize   = 320
)

const (
	TwilioEncoding Encoding = Mulaw
	VonageEncoding Encoding = Linear16
	AlturEncoding  Encoding = Mulaw
)

// PerChunkAllowance is subtracted from every chunk's pacing sleep so the
// device stays marginally ahead of real time and never starves the carrier.
const PerChunkAllowance = 10 * time.Millisecond
