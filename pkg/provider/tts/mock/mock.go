// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/altavoz-ai/altavoz/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the utterance passed to Synthesize.
	Text string
	// Voice is the profile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider. It emits Chunks on every
// Synthesize call and records the calls for inspection.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of audio chunks emitted per synthesis.
	Chunks [][]byte

	// Err, if non-nil, is returned from Synthesize instead of a channel.
	Err error

	// Calls records every invocation in order.
	Calls []SynthesizeCall
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// CallCount returns the number of recorded Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
