// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// streaming HTTP API. It implements the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/altavoz-ai/altavoz/pkg/audio"
	"github.com/altavoz-ai/altavoz/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"

	// streamChunkSize is 1/8 s of 16 kHz 16-bit audio, the granularity at
	// which chunks are handed downstream.
	streamChunkSize = 16000 * 2 / 8
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Speed           float64 `json:"speed"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// synthesisRequest is the JSON body for the stream endpoint.
type synthesisRequest struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	ModelID       string         `json:"model_id,omitempty"`
}

// outputFormat maps a voice profile's codec onto an ElevenLabs output_format
// string. Telephony μ-law always rides at 8 kHz.
func outputFormat(v tts.VoiceProfile) (string, error) {
	if v.Encoding == audio.Mulaw {
		return "ulaw_8000", nil
	}
	switch v.SampleRate {
	case 16000, 22050, 24000, 44100:
		return fmt.Sprintf("pcm_%d", v.SampleRate), nil
	}
	return "", fmt.Errorf("elevenlabs: unsupported sample rate %d", v.SampleRate)
}

// Synthesize implements tts.Provider. It POSTs to the streaming endpoint and
// forwards the response body in fixed-size chunks.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.VoiceID == "" {
		return nil, errors.New("elevenlabs: voice.VoiceID must not be empty")
	}
	format, err := outputFormat(voice)
	if err != nil {
		return nil, err
	}

	body := synthesisRequest{
		Text: text,
		VoiceSettings: &voiceSettings{
			Stability:       voice.Stability,
			SimilarityBoost: voice.SimilarityBoost,
			Style:           voice.Style,
			Speed:           voice.Speed,
			UseSpeakerBoost: voice.UseSpeakerBoost,
		},
		ModelID: voice.Model,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s", p.baseURL, voice.VoiceID, format)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesis request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("elevenlabs: API returned status %d: %s", resp.StatusCode, detail)
	}

	ch := make(chan []byte, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		buf := make([]byte, streamChunkSize)
		for {
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return ch, nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
