// Package app wires the Altavoz runtime together: providers, cache, storage,
// observability, the call manager, and the HTTP surface the carrier talks to.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/redis/go-redis/v9"

	"github.com/altavoz-ai/altavoz/internal/action"
	"github.com/altavoz-ai/altavoz/internal/agent"
	"github.com/altavoz-ai/altavoz/internal/call"
	"github.com/altavoz-ai/altavoz/internal/config"
	"github.com/altavoz-ai/altavoz/internal/observe"
	"github.com/altavoz-ai/altavoz/internal/telephony"
	"github.com/altavoz-ai/altavoz/internal/temporal"
	"github.com/altavoz-ai/altavoz/internal/tokens"
	"github.com/altavoz-ai/altavoz/internal/transcript"
	"github.com/altavoz-ai/altavoz/pkg/audio"
	"github.com/altavoz-ai/altavoz/pkg/audiocache"
	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
	"github.com/altavoz-ai/altavoz/pkg/provider/llm/anyllm"
	"github.com/altavoz-ai/altavoz/pkg/provider/llm/openai"
	"github.com/altavoz-ai/altavoz/pkg/provider/stt"
	"github.com/altavoz-ai/altavoz/pkg/provider/stt/deepgram"
	"github.com/altavoz-ai/altavoz/pkg/provider/tts"
	"github.com/altavoz-ai/altavoz/pkg/provider/tts/elevenlabs"
)

// readHeaderTimeout guards the HTTP listeners against slow-header clients.
const readHeaderTimeout = 10 * time.Second

// App is the assembled runtime. Create it with [New], serve with [App.Run],
// and tear down with [App.Shutdown].
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics
	manager *call.Manager

	llmProvider llm.Provider
	sttProvider stt.Provider
	ttsProvider tts.Provider

	redisClient *redis.Client
	cache       *audiocache.Cache
	pool        *pgxpool.Pool
	store       *transcript.PostgresStore

	enricher *temporal.Enricher
	acct     *tokens.Accountant
	runner   *action.Runner
	carrier  telephony.Carrier
	hangup   *telephony.HangupClient

	server        *http.Server
	metricsServer *http.Server
	otelShutdown  func(context.Context) error
}

// New builds the application from configuration. It connects to Redis and
// PostgreSQL when configured, runs migrations, and registers the global OTel
// provider.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{
		cfg: cfg,
		log: log,
	}

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.otelShutdown = otelShutdown
	a.metrics = observe.DefaultMetrics()
	a.manager = call.NewManager(log)

	carrier, err := telephony.CarrierByName(cfg.Telephony.Carrier)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.carrier = carrier
	if cfg.Telephony.ControlURL != "" {
		a.hangup = telephony.NewHangupClient(cfg.Telephony.ControlURL, nil)
	}

	if err := a.initProviders(); err != nil {
		return nil, err
	}
	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	a.initCache(ctx)

	a.enricher = newEnricher(cfg.Temporal)
	a.acct = tokens.NewAccountant(cfg.Providers.LLM.Model, nil)
	a.runner = action.NewRunner(action.WithLogger(log))

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", observe.MetricsHandler())
		a.metricsServer = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}
	return a, nil
}

func (a *App) initProviders() error {
	cfg := a.cfg

	switch name := cfg.Providers.LLM.Name; name {
	case "openai":
		var opts []openai.Option
		if cfg.Providers.LLM.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.LLM.BaseURL))
		}
		p, err := openai.New(cfg.Providers.LLM.APIKey, cfg.Providers.LLM.Model, opts...)
		if err != nil {
			return fmt.Errorf("app: create llm provider %q: %w", name, err)
		}
		a.llmProvider = p
	default:
		var opts []anyllmlib.Option
		if cfg.Providers.LLM.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.Providers.LLM.APIKey))
		}
		if cfg.Providers.LLM.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.Providers.LLM.BaseURL))
		}
		p, err := anyllm.New(name, cfg.Providers.LLM.Model, opts...)
		if err != nil {
			return fmt.Errorf("app: create llm provider %q: %w", name, err)
		}
		a.llmProvider = p
	}
	a.log.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	var sttOpts []deepgram.Option
	if cfg.Providers.STT.Model != "" {
		sttOpts = append(sttOpts, deepgram.WithModel(cfg.Providers.STT.Model))
	}
	if cfg.Agent.Language != "" {
		sttOpts = append(sttOpts, deepgram.WithLanguage(cfg.Agent.Language))
	}
	if ms := optInt(cfg.Providers.STT.Options, "endpointing_ms"); ms > 0 {
		sttOpts = append(sttOpts, deepgram.WithEndpointing(ms))
	}
	sttProvider, err := deepgram.New(cfg.Providers.STT.APIKey, sttOpts...)
	if err != nil {
		return fmt.Errorf("app: create stt provider: %w", err)
	}
	a.sttProvider = sttProvider
	a.log.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name, "model", cfg.Providers.STT.Model)

	var ttsOpts []elevenlabs.Option
	if cfg.Providers.TTS.BaseURL != "" {
		ttsOpts = append(ttsOpts, elevenlabs.WithBaseURL(cfg.Providers.TTS.BaseURL))
	}
	backend, err := elevenlabs.New(cfg.Providers.TTS.APIKey, ttsOpts...)
	if err != nil {
		return fmt.Errorf("app: create tts provider: %w", err)
	}
	a.ttsProvider = backend
	a.log.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name, "model", cfg.Providers.TTS.Model)
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("app: connect postgres: %w", err)
	}
	store := transcript.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.pool = pool
	a.store = store
	a.log.Info("call-record store ready")
	return nil
}

// initCache connects the synthesized-audio cache and stacks it under the TTS
// provider. A missing Redis address leaves synthesis uncached.
func (a *App) initCache(ctx context.Context) {
	if a.cfg.Cache.RedisAddr == "" {
		return
	}
	a.redisClient = redis.NewClient(&redis.Options{Addr: a.cfg.Cache.RedisAddr})

	opts := []audiocache.Option{
		audiocache.WithLogger(a.log),
		audiocache.WithHooks(a.metrics.CacheHooks()),
	}
	if ttl := a.cfg.Cache.TTL(); ttl > 0 {
		opts = append(opts, audiocache.WithTTL(ttl))
	}
	for lang, budget := range a.cfg.Cache.Budgets {
		opts = append(opts, audiocache.WithBudget(lang, budget))
	}
	if !a.cfg.Cache.EvictOldest {
		opts = append(opts, audiocache.WithEvictionMode(audiocache.WarnOnly))
	}
	a.cache = audiocache.New(ctx, a.redisClient, opts...)
	a.ttsProvider = tts.NewCached(a.ttsProvider, a.cache, a.log)
	a.log.Info("audio cache ready", "addr", a.cfg.Cache.RedisAddr)
}

func newEnricher(cfg config.TemporalConfig) *temporal.Enricher {
	var opts []temporal.EnricherOption
	if len(cfg.Languages) > 0 {
		opts = append(opts, temporal.WithLanguages(cfg.Languages...))
	}
	if cfg.Timezone != "" {
		opts = append(opts, temporal.WithTimezone(cfg.Timezone))
	}
	if cfg.UnknownBias == config.BiasPast {
		opts = append(opts, temporal.WithUnknownBias(temporal.DirectionPast))
	}
	return temporal.NewEnricher(opts...)
}

// routes builds the carrier-facing HTTP surface.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /media/{call_id}", a.handleMedia)
	mux.HandleFunc("POST /api/calls/dial", a.handleDial)
	mux.HandleFunc("POST /api/calls/{call_id}/terminate", a.handleTerminate)
	return mux
}

// handleMedia accepts one carrier media WebSocket and runs the call on it.
// The handler blocks for the lifetime of the call.
func (a *App) handleMedia(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")
	if callID == "" {
		callID = call.NewCallID()
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.log.Warn("media websocket accept failed", "call_id", callID, "err", err)
		return
	}
	stream := telephony.Accept(conn, callID, a.carrier, telephony.WithStreamLogger(a.log))

	session, err := a.buildSession(callID, stream)
	if err != nil {
		a.log.Error("building call session", "call_id", callID, "err", err)
		_ = stream.Close()
		return
	}

	a.metrics.CallStarted(r.Context())
	defer a.metrics.CallEnded(context.Background())

	if err := a.manager.Run(context.Background(), session); err != nil {
		a.log.Error("call failed", "call_id", callID, "err", err)
	}
}

// handleDial starts an outbound call: the server dials the carrier's media
// WebSocket and runs the session in the background. Responds with the
// assigned call id.
func (a *App) handleDial(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Telephony.MediaURL == "" {
		http.Error(w, "no media_url configured", http.StatusServiceUnavailable)
		return
	}
	callID := call.NewCallID()
	stream, err := telephony.Dial(r.Context(), a.cfg.Telephony.MediaURL, callID, a.carrier,
		telephony.WithStreamLogger(a.log))
	if err != nil {
		a.log.Error("dialing carrier media", "call_id", callID, "err", err)
		http.Error(w, "carrier dial failed", http.StatusBadGateway)
		return
	}
	session, err := a.buildSession(callID, stream)
	if err != nil {
		a.log.Error("building call session", "call_id", callID, "err", err)
		_ = stream.Close()
		http.Error(w, "session setup failed", http.StatusInternalServerError)
		return
	}

	go func() {
		a.metrics.CallStarted(context.Background())
		defer a.metrics.CallEnded(context.Background())
		if err := a.manager.Run(context.Background(), session); err != nil {
			a.log.Error("call failed", "call_id", callID, "err", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, "{\"call_id\":%q}\n", callID)
}

// handleTerminate ends a live call: the session drains and closes, and the
// carrier is asked to hang up.
func (a *App) handleTerminate(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")
	if err := a.manager.Terminate(callID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if a.hangup != nil {
		if err := a.hangup.Hangup(r.Context(), callID); err != nil {
			a.log.Warn("carrier hangup failed", "call_id", callID, "err", err)
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

// buildSession assembles the per-call stack on top of an accepted media
// stream.
func (a *App) buildSession(callID string, stream *telephony.MediaStream) (*call.Session, error) {
	output := audio.NewRateLimitedOutput(stream, a.carrier.Encoding, a.carrier.SampleRate)

	projector := transcript.NewProjector(a.acct,
		transcript.WithReservedTokens(a.cfg.Agent.ReservedTokens),
		transcript.WithProjectorLogger(a.log),
	)

	ag, err := agent.New(agent.Config{
		Transcript:  transcript.New(),
		Projector:   projector,
		Provider:    a.llmProvider,
		Synth:       a.ttsProvider,
		Output:      output,
		Runner:      a.runner,
		Actions:     a.cfg.Actions,
		Enricher:    a.enricher,
		Voice:       a.voiceProfile(),
		Preamble:    a.cfg.Agent.Preamble,
		Temperature: a.cfg.Agent.Temperature,
		Logger:      a.log,
	})
	if err != nil {
		return nil, err
	}

	var recorder call.Recorder
	if a.store != nil {
		recorder = a.store
	}
	return call.NewSession(call.SessionConfig{
		CallID:      callID,
		Media:       stream,
		Transcriber: a.sttProvider,
		Agent:       ag,
		Output:      output,
		Recorder:    recorder,
		Language:    a.cfg.Agent.Language,
		Greeting:    a.cfg.Agent.Greeting,
		Logger:      a.log,
	})
}

// voiceProfile maps the configured voice onto the carrier's audio format.
func (a *App) voiceProfile() tts.VoiceProfile {
	v := a.cfg.Agent.Voice
	speed := v.Speed
	if speed == 0 {
		speed = 1.0
	}
	return tts.VoiceProfile{
		Provider:        a.cfg.Providers.TTS.Name,
		VoiceID:         v.VoiceID,
		Model:           a.cfg.Providers.TTS.Model,
		Stability:       v.Stability,
		SimilarityBoost: v.SimilarityBoost,
		Style:           v.Style,
		Speed:           speed,
		UseSpeakerBoost: v.UseSpeakerBoost,
		Encoding:        a.carrier.Encoding,
		SampleRate:      a.carrier.SampleRate,
		Language:        a.cfg.Agent.Language,
	}
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		a.log.Info("listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if a.metricsServer != nil {
		go func() {
			a.log.Info("metrics listening", "addr", a.metricsServer.Addr)
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops the listeners, terminates active calls, and closes all
// connections.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	a.manager.TerminateAll()
	waitForCalls(ctx, a.manager)

	if a.pool != nil {
		a.pool.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// optInt reads an integer from a provider Options map. YAML decodes numbers
// as int; anything else yields zero.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// waitForCalls polls until every session has finished teardown or ctx
// expires.
func waitForCalls(ctx context.Context, m *call.Manager) {
	for m.Active() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}
