// Package mock contains hand-rolled doubles for the stt interfaces: a
// Provider that records StartStream configs and a Session whose transcript
// channels the test drives directly.
package mock

import (
	"context"
	"sync"

	"github.com/altavoz-ai/altavoz/pkg/provider/stt"
)

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// StartStreamCall captures the arguments of one StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a scripted stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is handed out by StartStream. Leave nil to get a fresh
	// Session with 16-slot buffered channels per call.
	Session stt.SessionHandle

	// StartStreamErr makes StartStream fail.
	StartStreamErr error

	// StartStreamCalls accumulates one entry per StartStream call.
	StartStreamCalls []StartStreamCall
}

func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}, nil
}

// SendAudioCall holds a copy of one audio chunk given to SendAudio.
type SendAudioCall struct {
	Chunk []byte
}

// Session is a scripted stt.SessionHandle. The test owns PartialsCh and
// FinalsCh: send the transcripts the consumer should see, close them to end
// the stream.
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// SendAudioErr is returned by every SendAudio call when set.
	SendAudioErr error

	// CloseErr is returned by Close when set.
	CloseErr error

	// SendAudioCalls accumulates delivered chunks in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount counts Close invocations.
	CloseCallCount int
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialsCh
}

func (s *Session) Finals() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

// SendAudioCallCount reports delivered chunks without racing the writer.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}
