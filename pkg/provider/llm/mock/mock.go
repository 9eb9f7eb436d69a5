// Package mock contains a scripted llm.Provider: the test lists the chunks
// to emit and inspects the requests the pipeline sent.
package mock

import (
	"context"
	"sync"

	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// StreamCall captures the arguments of one StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall captures the arguments of one Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider replays configured responses. Zero-value fields mean zero-value
// returns with nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted, in order, on every StreamCompletion channel
	// before it closes.
	StreamChunks []llm.Chunk

	// StreamErr makes StreamCompletion fail instead of opening a channel.
	StreamErr error

	// CompleteResponse and CompleteErr are returned by Complete.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// StreamCalls and CompleteCalls accumulate one entry per invocation.
	StreamCalls   []StreamCall
	CompleteCalls []CompleteCall
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
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

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Reset drops the recorded calls so one fixture can serve several subtests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
}
