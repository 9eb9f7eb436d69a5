package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/altavoz-ai/altavoz/internal/action"
	"github.com/altavoz-ai/altavoz/internal/observe"
	"github.com/altavoz-ai/altavoz/internal/temporal"
	"github.com/altavoz-ai/altavoz/internal/transcript"
	"github.com/altavoz-ai/altavoz/pkg/audio"
	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
	"github.com/altavoz-ai/altavoz/pkg/provider/tts"
)

// maxToolRounds bounds how many action dispatches a single caller turn may
// trigger before the agent answers with speech.
const maxToolRounds = 3

// Agent drives one call's conversation: each final transcript becomes a
// projected prompt, a streamed completion, and synthesized speech, with
// external actions dispatched along the way.
type Agent struct {
	transcript  *transcript.Transcript
	projector   *transcript.Projector
	provider    llm.Provider
	synth       tts.Provider
	output      *audio.RateLimitedOutput
	runner      *action.Runner
	actions     map[string]action.Config
	enricher    *temporal.Enricher
	voice       tts.VoiceProfile
	preamble    string
	temperature float64
	metrics     *observe.Metrics
	log         *slog.Logger

	muted atomic.Bool
}

// Config assembles an [Agent].
type Config struct {
	Transcript *transcript.Transcript
	Projector  *transcript.Projector
	Provider   llm.Provider
	Synth      tts.Provider
	Output     *audio.RateLimitedOutput
	Runner     *action.Runner
	Actions    []action.Config
	Enricher   *temporal.Enricher
	Voice      tts.VoiceProfile

	// Preamble is the system prompt projected at the head of every request.
	Preamble string

	Temperature float64
	Logger      *slog.Logger
}

// New creates an agent. Transcript, Projector, Provider, Synth, and Output
// are required.
func New(cfg Config) (*Agent, error) {
	switch {
	case cfg.Transcript == nil:
		return nil, errors.New("agent: transcript is required")
	case cfg.Projector == nil:
		return nil, errors.New("agent: projector is required")
	case cfg.Provider == nil:
		return nil, errors.New("agent: llm provider is required")
	case cfg.Synth == nil:
		return nil, errors.New("agent: synthesizer is required")
	case cfg.Output == nil:
		return nil, errors.New("agent: output device is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	actions := make(map[string]action.Config, len(cfg.Actions))
	for _, a := range cfg.Actions {
		actions[a.Name] = a
	}
	return &Agent{
		transcript:  cfg.Transcript,
		projector:   cfg.Projector,
		provider:    cfg.Provider,
		synth:       cfg.Synth,
		output:      cfg.Output,
		runner:      cfg.Runner,
		actions:     actions,
		enricher:    cfg.Enricher,
		voice:       cfg.Voice,
		preamble:    cfg.Preamble,
		temperature: cfg.Temperature,
		metrics:     observe.DefaultMetrics(),
		log:         log,
	}, nil
}

// Mute stops the agent from reacting to final transcripts. Used by the
// action runner while a request is in flight.
func (a *Agent) Mute() { a.muted.Store(true) }

// Unmute re-enables transcript handling.
func (a *Agent) Unmute() { a.muted.Store(false) }

// Muted reports whether the agent is currently muted.
func (a *Agent) Muted() bool { return a.muted.Load() }

// Interrupt flags all queued speech as interrupted. Called on caller
// barge-in.
func (a *Agent) Interrupt() int {
	n := a.output.InterruptAll()
	a.metrics.RecordInterruptions(context.Background(), n)
	return n
}

// Transcript returns the call's event log.
func (a *Agent) Transcript() *transcript.Transcript { return a.transcript }

// HandleFinalTranscript processes one final caller utterance: the text is
// date-enriched, appended to the transcript, and answered.
func (a *Agent) HandleFinalTranscript(ctx context.Context, text string) error {
	if a.Muted() {
		a.log.Debug("dropping transcript while muted", slog.String("text", text))
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if a.enricher != nil {
		text = a.enricher.Enrich(text)
	}
	a.transcript.AddHumanMessage(text)
	return a.respond(ctx)
}

// SpeakGreeting synthesizes an opening line and records it as a bot message.
func (a *Agent) SpeakGreeting(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	a.transcript.AddBotMessage(text)
	return a.speak(ctx, text)
}

// respond generates and voices the agent's next turn. Tool calls are
// dispatched and the completion re-run so the LLM can react to results, up
// to maxToolRounds per caller turn.
func (a *Agent) respond(ctx context.Context) error {
	start := time.Now()
	defer func() {
		a.metrics.RecordTurn(ctx, time.Since(start).Seconds())
	}()
	for round := 0; round < maxToolRounds; round++ {
		toolCalled, err := a.completeOnce(ctx)
		if err != nil {
			return err
		}
		if !toolCalled {
			return nil
		}
	}
	a.log.Warn("tool round limit reached", slog.Int("rounds", maxToolRounds))
	return nil
}

// completeOnce streams one completion, voicing text as sentences complete
// and collecting at most one tool call.
//
// When any configured action suppresses its spoken announcement, sentences
// are held instead of voiced eagerly: whether the turn's text announces an
// action is only known once the stream settles. Held sentences are voiced
// afterwards unless the turn ended in a call to an action with speak_on_send
// disabled; the text is recorded in the transcript either way.
func (a *Agent) completeOnce(ctx context.Context) (toolCalled bool, err error) {
	messages, trimmed := a.projector.Project(a.transcript, a.preamble, a.toolDefinitions())
	if trimmed > 0 {
		a.log.Info("trimmed conversation history", slog.Int("messages", trimmed))
		a.metrics.RecordTrimmed(ctx, trimmed)
	}

	chunks, err := a.provider.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:    messages,
		Tools:       a.toolDefinitions(),
		Temperature: a.temperature,
	})
	if err != nil {
		return false, fmt.Errorf("agent: stream completion: %w", err)
	}

	hold := a.holdsAnnouncements()
	var pending strings.Builder
	var fullText strings.Builder
	var held []string
	var frags []FunctionFragment

	flush := func() error {
		segment := strings.TrimSpace(pending.String())
		pending.Reset()
		if segment == "" {
			return nil
		}
		if hold {
			held = append(held, segment)
			return nil
		}
		return a.speak(ctx, segment)
	}

	for tok := range Demux(ctx, chunks, a.log) {
		switch t := tok.(type) {
		case TextToken:
			pending.WriteString(t.Text)
			fullText.WriteString(t.Text)
			if endsSentence(pending.String()) {
				if err := flush(); err != nil {
					return false, err
				}
			}
		case FunctionFragment:
			frags = append(frags, t)
		}
	}
	if err := flush(); err != nil {
		return false, err
	}
	if text := strings.TrimSpace(fullText.String()); text != "" {
		a.transcript.AddBotMessage(text)
	}

	call, ok := CollectToolCall(frags)
	if !ok {
		return false, a.speakHeld(ctx, held)
	}
	if cfg, known := a.actions[call.Name]; !known || cfg.SpeakOnSend {
		if err := a.speakHeld(ctx, held); err != nil {
			return true, err
		}
	} else if len(held) > 0 {
		a.log.Debug("suppressing action announcement",
			slog.String("action", call.Name))
	}
	if err := a.dispatchAction(ctx, call); err != nil {
		return true, err
	}
	return true, nil
}

// holdsAnnouncements reports whether any configured action has speak_on_send
// disabled, which forces sentence voicing to wait for the end of the stream.
func (a *Agent) holdsAnnouncements() bool {
	for _, cfg := range a.actions {
		if !cfg.SpeakOnSend {
			return true
		}
	}
	return false
}

// speakHeld voices sentences that were held back during streaming.
func (a *Agent) speakHeld(ctx context.Context, held []string) error {
	for _, segment := range held {
		if err := a.speak(ctx, segment); err != nil {
			return err
		}
	}
	return nil
}

// dispatchAction runs one tool call through the action runner and records
// the start/finish pair in the transcript.
func (a *Agent) dispatchAction(ctx context.Context, call llm.ToolCall) error {
	cfg, ok := a.actions[call.Name]
	if !ok {
		a.log.Warn("llm requested unknown action", slog.String("action", call.Name))
		a.recordAction(call, action.Response{Success: false, Result: nil})
		return nil
	}
	if a.runner == nil {
		return fmt.Errorf("agent: no action runner configured for %s", call.Name)
	}

	a.transcript.Append(transcript.ActionStart{
		ToolCallID: call.ID,
		Action:     call.Name,
		Arguments:  call.Arguments,
		Time:       time.Now(),
	})

	started := time.Now()
	resp, err := a.runner.Execute(ctx, cfg, call.Arguments, a)
	status := "ok"
	if err != nil {
		// Bad arguments abort this action only; the LLM sees the failure.
		a.log.Warn("action aborted", slog.String("action", call.Name), slog.Any("error", err))
		resp = action.Response{Success: false, Result: nil}
		status = "error"
	}
	a.metrics.RecordAction(ctx, call.Name, status, time.Since(started).Seconds())

	output, merr := json.Marshal(resp)
	if merr != nil {
		output = []byte(`{"success":false,"result":null}`)
	}
	a.transcript.Append(transcript.ActionFinish{
		ToolCallID: call.ID,
		Action:     call.Name,
		Output:     string(output),
		Time:       time.Now(),
	})

	if resp.AgentMessage != "" && cfg.SpeakOnReceive {
		a.transcript.AddBotMessage(resp.AgentMessage)
		if err := a.speak(ctx, resp.AgentMessage); err != nil {
			return err
		}
	}
	return nil
}

// recordAction logs a start/finish pair for calls that never reached the
// runner, keeping the projection's pairing intact.
func (a *Agent) recordAction(call llm.ToolCall, resp action.Response) {
	now := time.Now()
	a.transcript.Append(transcript.ActionStart{
		ToolCallID: call.ID, Action: call.Name, Arguments: call.Arguments, Time: now,
	})
	output, err := json.Marshal(resp)
	if err != nil {
		output = []byte(`{"success":false,"result":null}`)
	}
	a.transcript.Append(transcript.ActionFinish{
		ToolCallID: call.ID, Action: call.Name, Output: string(output), Time: now,
	})
}

// speak synthesizes text and enqueues the audio for paced playback.
func (a *Agent) speak(ctx context.Context, text string) error {
	start := time.Now()
	stream, err := a.synth.Synthesize(ctx, text, a.voice)
	if err != nil {
		return fmt.Errorf("agent: synthesize: %w", err)
	}
	defer func() {
		a.metrics.RecordSynthesis(ctx, time.Since(start).Seconds())
	}()
	for chunk := range stream {
		event := audio.NewInterruptibleEvent(audio.NewAudioChunk(chunk))
		if err := a.output.Enqueue(ctx, event); err != nil {
			return fmt.Errorf("agent: enqueue audio: %w", err)
		}
	}
	return nil
}

func (a *Agent) toolDefinitions() []llm.ToolDefinition {
	if len(a.actions) == 0 {
		return nil
	}
	defs := make([]llm.ToolDefinition, 0, len(a.actions))
	for _, cfg := range a.actions {
		defs = append(defs, cfg.ToolDefinition())
	}
	return defs
}

// endsSentence reports whether buffered text ends at a sentence boundary.
func endsSentence(s string) bool {
	s = strings.TrimRight(s, " ")
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '?', '!':
		return true
	default:
		return false
	}
}

var _ action.Muter = (*Agent)(nil)
