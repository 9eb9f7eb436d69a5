// Package deepgram implements [stt.Provider] on the Deepgram streaming
// WebSocket API. Interim results are always requested so the pipeline can
// detect caller barge-in before an utterance finalizes.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/altavoz-ai/altavoz/pkg/provider/stt"
)

const (
	listenEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-2"
	defaultLanguage   = "es"
	defaultSampleRate = 8000
	defaultEncoding   = "mulaw"
)

var errSessionClosed = errors.New("deepgram: session closed")

// Provider opens streaming transcription sessions against Deepgram.
type Provider struct {
	apiKey        string
	model         string
	language      string
	endpointingMS int
}

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*session)(nil)
)

// Option configures [New].
type Option func(*Provider)

// WithModel selects the Deepgram model (e.g. "nova-2", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when a stream config leaves the
// language empty.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpointing sets the silence window, in milliseconds, after which
// Deepgram commits a final transcript. Zero keeps the service default.
func WithEndpointing(ms int) Option {
	return func(p *Provider) { p.endpointingMS = ms }
}

// New creates a provider. apiKey is required.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key is required")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// StartStream dials the listen endpoint with the stream's audio format and
// returns a live session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	s.wg.Add(2)
	go s.pumpResults(ctx)
	go s.pumpAudio(ctx)
	return s, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(listenEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = defaultSampleRate
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = defaultEncoding
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", enc)
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	if p.endpointingMS > 0 {
		q.Set("endpointing", strconv.Itoa(p.endpointingMS))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// resultMessage mirrors the fields of a Deepgram Results event this package
// consumes.
type resultMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word  string  `json:"word"`
				Start float64 `json:"start"`
				End   float64 `json:"end"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close flushes buffered audio through CloseStream, waits for both pumps,
// and closes the socket. Safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "done")
	})
	return nil
}

// pumpAudio forwards queued caller audio as binary frames. On shutdown it
// flushes whatever is still buffered so trailing speech reaches the service
// before CloseStream takes effect.
func (s *session) pumpAudio(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// pumpResults routes decoded Results events onto the partial or final
// channel until the socket closes.
func (s *session) pumpResults(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		dest := s.partials
		if t.IsFinal {
			dest = s.finals
		}
		select {
		case dest <- t:
		case <-s.done:
		}
	}
}

// parseDeepgramResponse decodes one WebSocket message. Non-Results events
// and empty alternative lists report ok=false. Utterance timing derives
// from the first and last word boundaries.
func parseDeepgramResponse(data []byte) (stt.Transcript, bool) {
	var msg resultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return stt.Transcript{}, false
	}
	if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := msg.Channel.Alternatives[0]
	t := stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
	}
	if n := len(alt.Words); n > 0 {
		first := time.Duration(alt.Words[0].Start * float64(time.Second))
		last := time.Duration(alt.Words[n-1].End * float64(time.Second))
		t.Timestamp = first
		t.Duration = last - first
	}
	return t, true
}
