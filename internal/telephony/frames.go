// Package telephony speaks the carrier media protocol: JSON frames with
// base64 audio over a per-call WebSocket, plus the carrier's REST hangup
// endpoint.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/altavoz-ai/altavoz/pkg/audio"
)

// ErrTransport reports a failed network operation on the media stream.
var ErrTransport = errors.New("telephony: transport failure")

// ErrProtocol reports a frame that violates the media protocol.
var ErrProtocol = errors.New("telephony: protocol violation")

// Carrier is a telephony provider's negotiated media parameters.
type Carrier struct {
	Name       string
	Encoding   audio.Encoding
	SampleRate int

	// ChunkSize is the outbound frame payload size in bytes. Shorter tails
	// are padded with codec silence.
	ChunkSize int
}

// Supported carriers.
var (
	Twilio = Carrier{Name: "twilio", Encoding: audio.TwilioEncoding, SampleRate: audio.TwilioSampleRate, ChunkSize: audio.TwilioChunkSize}
	Vonage = Carrier{Name: "vonage", Encoding: audio.VonageEncoding, SampleRate: audio.VonageSampleRate, ChunkSize: audio.VonageChunkSize}
	Altur  = Carrier{Name: "altur", Encoding: audio.AlturEncoding, SampleRate: audio.AlturSampleRate, ChunkSize: audio.AlturChunkSize}
)

// CarrierByName resolves a configured carrier name.
func CarrierByName(name string) (Carrier, error) {
	switch name {
	case Twilio.Name:
		return Twilio, nil
	case Vonage.Name:
		return Vonage, nil
	case Altur.Name:
		return Altur, nil
	default:
		return Carrier{}, fmt.Errorf("telephony: unknown carrier %q", name)
	}
}

// MediaFrame is one WebSocket message on the media stream, inbound and
// outbound alike.
type MediaFrame struct {
	CallID string `json:"call_id"`

	// Payload is base64-encoded audio in the carrier's negotiated codec.
	Payload string `json:"payload"`
}

// EncodeFrame serializes one outbound media frame.
func EncodeFrame(callID string, chunk []byte) ([]byte, error) {
	frame := MediaFrame{
		CallID:  callID,
		Payload: base64.StdEncoding.EncodeToString(chunk),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: encode frame: %v", ErrProtocol, err)
	}
	return data, nil
}

// DecodeFrame parses one inbound media frame, returning the call id and the
// decoded audio bytes.
func DecodeFrame(data []byte) (string, []byte, error) {
	var frame MediaFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", nil, fmt.Errorf("%w: parse frame: %v", ErrProtocol, err)
	}
	chunk, err := base64.StdEncoding.DecodeString(frame.Payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: decode payload: %v", ErrProtocol, err)
	}
	return frame.CallID, chunk, nil
}

// SliceChunks splits audio into carrier-sized pieces, padding the final
// piece with codec silence so every frame is exactly chunkSize bytes.
func SliceChunks(data []byte, chunkSize int, silence byte) [][]byte {
	if len(data) == 0 || chunkSize <= 0 {
		return nil
	}
	var out [][]byte
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end <= len(data) {
			out = append(out, data[start:end])
			continue
		}
		padded := make([]byte, chunkSize)
		n := copy(padded, data[start:])
		for i := n; i < chunkSize; i++ {
			padded[i] = silence
		}
		out = append(out, padded)
	}
	return out
}
