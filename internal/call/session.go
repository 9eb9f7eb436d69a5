// Package call orchestrates the per-call task set: caller audio flows into
// the transcriber, final transcripts drive the agent, partial transcripts
// interrupt queued speech, and the paced output loop feeds the carrier.
// Termination drains pending playback within a bounded window, closes the
// media stream, and persists the call record.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/altavoz-ai/altavoz/internal/agent"
	"github.com/altavoz-ai/altavoz/internal/telephony"
	"github.com/altavoz-ai/altavoz/internal/transcript"
	"github.com/altavoz-ai/altavoz/pkg/audio"
	"github.com/altavoz-ai/altavoz/pkg/provider/stt"
)

// defaultDrainTimeout bounds how long termination waits for queued speech to
// finish playing before the socket is closed anyway.
const defaultDrainTimeout = 5 * time.Second

// persistTimeout bounds the post-call transcript write.
const persistTimeout = 10 * time.Second

// MediaTransport is the carrier-facing side of a call: inbound caller audio
// plus the negotiated codec parameters. [telephony.MediaStream] implements it.
type MediaTransport interface {
	Inbound() <-chan []byte
	Carrier() telephony.Carrier
	Close() error
}

// Recorder persists a finished call's event log.
type Recorder interface {
	SaveAll(ctx context.Context, callID string, t *transcript.Transcript) error
}

// Session runs one call end to end. Create it with [NewSession], drive it
// with [Session.Run], and stop it early with [Session.Terminate].
type Session struct {
	id           string
	media        MediaTransport
	transcriber  stt.Provider
	agent        *agent.Agent
	output       *audio.RateLimitedOutput
	recorder     Recorder
	language     string
	greeting     string
	drainTimeout time.Duration
	log          *slog.Logger

	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// SessionConfig assembles a [Session].
type SessionConfig struct {
	// CallID identifies the call across the media stream, the transcript
	// store, and the carrier API.
	CallID string

	Media       MediaTransport
	Transcriber stt.Provider
	Agent       *agent.Agent

	// Output is the paced playback loop. The session owns running it; the
	// agent only enqueues.
	Output *audio.RateLimitedOutput

	// Recorder, when set, receives the event log after termination.
	Recorder Recorder

	// Language is the recognition language hint for the transcriber.
	Language string

	// Greeting, when non-empty, is spoken as soon as the call starts.
	Greeting string

	// DrainTimeout bounds the terminal playback drain. Zero means the
	// default of 5 seconds.
	DrainTimeout time.Duration

	Logger *slog.Logger
}

// NewSession creates a session. CallID, Media, Transcriber, Agent, and
// Output are required.
func NewSession(cfg SessionConfig) (*Session, error) {
	switch {
	case cfg.CallID == "":
		return nil, errors.New("call: call id is required")
	case cfg.Media == nil:
		return nil, errors.New("call: media transport is required")
	case cfg.Transcriber == nil:
		return nil, errors.New("call: transcriber is required")
	case cfg.Agent == nil:
		return nil, errors.New("call: agent is required")
	case cfg.Output == nil:
		return nil, errors.New("call: output device is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	return &Session{
		id:           cfg.CallID,
		media:        cfg.Media,
		transcriber:  cfg.Transcriber,
		agent:        cfg.Agent,
		output:       cfg.Output,
		recorder:     cfg.Recorder,
		language:     cfg.Language,
		greeting:     cfg.Greeting,
		drainTimeout: drain,
		log:          log.With(slog.String("call_id", cfg.CallID)),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// ID returns the session's call id.
func (s *Session) ID() string { return s.id }

// Done is closed when Run has finished teardown.
func (s *Session) Done() <-chan struct{} { return s.done }

// Terminate asks the session to stop. Safe to call more than once and from
// any goroutine; Run performs the actual teardown.
func (s *Session) Terminate() {
	s.once.Do(func() { close(s.stop) })
}

// Run drives the call until the remote hangs up, Terminate is called, or ctx
// is cancelled. It blocks through teardown: playback drain, stream close,
// and transcript persistence all happen before it returns.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	carrier := s.media.Carrier()
	sttSession, err := s.transcriber.StartStream(runCtx, stt.StreamConfig{
		SampleRate: carrier.SampleRate,
		Encoding:   string(carrier.Encoding),
		Language:   s.language,
	})
	if err != nil {
		return fmt.Errorf("call: start transcription: %w", err)
	}

	// The output loop lives on its own context so queued speech can still
	// drain after the conversational tasks have stopped.
	outCtx, outCancel := context.WithCancel(context.Background())
	outDone := make(chan error, 1)
	go func() {
		err := s.output.Run(outCtx)
		if err != nil {
			// A dead sink ends the call.
			cancel()
		}
		outDone <- err
	}()

	if s.greeting != "" {
		if err := s.agent.SpeakGreeting(runCtx, s.greeting); err != nil {
			s.log.Warn("greeting failed", slog.Any("error", err))
		}
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.pumpInbound(gctx, sttSession) })
	g.Go(func() error { return s.consumeFinals(gctx, sttSession) })
	g.Go(func() error { return s.consumePartials(gctx, sttSession) })

	runErr := g.Wait()
	cancel()

	// Stop consuming, drain what is already queued, then close.
	if err := s.output.WaitForDrain(context.Background(), s.drainTimeout); err != nil {
		s.log.Warn("closing with audio still queued", slog.Any("error", err))
	}
	outCancel()
	sinkErr := <-outDone

	if err := sttSession.Close(); err != nil {
		s.log.Warn("closing transcription session", slog.Any("error", err))
	}
	if err := s.media.Close(); err != nil {
		s.log.Warn("closing media stream", slog.Any("error", err))
	}
	s.persist()

	switch {
	case sinkErr != nil:
		return fmt.Errorf("call %s: %w", s.id, sinkErr)
	case runErr != nil && !errors.Is(runErr, ErrCallTerminated) && !errors.Is(runErr, context.Canceled):
		return fmt.Errorf("call %s: %w", s.id, runErr)
	default:
		return nil
	}
}

// pumpInbound forwards caller audio to the transcriber. The inbound channel
// closing means the remote hung up, which ends the call.
func (s *Session) pumpInbound(ctx context.Context, sess stt.SessionHandle) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-s.media.Inbound():
			if !ok {
				s.log.Info("caller disconnected")
				return ErrCallTerminated
			}
			if err := sess.SendAudio(chunk); err != nil {
				s.log.Warn("dropping caller audio", slog.Any("error", err))
			}
		}
	}
}

// consumeFinals feeds committed transcripts to the agent. Agent failures are
// logged and skipped so one bad turn does not end the call.
func (s *Session) consumeFinals(ctx context.Context, sess stt.SessionHandle) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tr, ok := <-sess.Finals():
			if !ok {
				return nil
			}
			if err := s.agent.HandleFinalTranscript(ctx, tr.Text); err != nil {
				s.log.Error("turn failed", slog.String("text", tr.Text), slog.Any("error", err))
			}
		}
	}
}

// consumePartials watches interim transcripts for caller barge-in: any
// non-empty partial interrupts whatever the agent has queued.
func (s *Session) consumePartials(ctx context.Context, sess stt.SessionHandle) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tr, ok := <-sess.Partials():
			if !ok {
				return nil
			}
			if strings.TrimSpace(tr.Text) == "" {
				continue
			}
			if n := s.agent.Interrupt(); n > 0 {
				s.log.Debug("caller barge-in", slog.Int("interrupted", n))
			}
		}
	}
}

// persist writes the final event log, best-effort.
func (s *Session) persist() {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.recorder.SaveAll(ctx, s.id, s.agent.Transcript()); err != nil {
		s.log.Error("persisting call record", slog.Any("error", err))
	} else {
		s.log.Info("call record saved", slog.Int("events", s.agent.Transcript().Len()))
	}
}

var _ MediaTransport = (*telephony.MediaStream)(nil)
