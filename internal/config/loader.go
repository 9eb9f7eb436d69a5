package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/altavoz-ai/altavoz/internal/action"
	"github.com/altavoz-ai/altavoz/internal/telephony"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
	"stt": {"deepgram"},
	"tts": {"eleven_labs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation, warn for unknown names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// Telephony
	if cfg.Telephony.Carrier != "" {
		if _, err := telephony.CarrierByName(cfg.Telephony.Carrier); err != nil {
			errs = append(errs, fmt.Errorf("telephony.carrier %q is invalid; valid values: twilio, vonage, altur", cfg.Telephony.Carrier))
		}
	}

	// Cache
	if cfg.Cache.TTLHours < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl_hours %d must not be negative", cfg.Cache.TTLHours))
	}
	for lang, budget := range cfg.Cache.Budgets {
		if budget <= 0 {
			errs = append(errs, fmt.Errorf("cache.budgets[%s] %d must be positive", lang, budget))
		}
	}

	// Agent
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0.0, 2.0]", cfg.Agent.Temperature))
	}
	if cfg.Agent.ReservedTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.reserved_tokens %d must not be negative", cfg.Agent.ReservedTokens))
	}
	if v := cfg.Agent.Voice; v.Speed != 0 && (v.Speed < 0.5 || v.Speed > 2.0) {
		errs = append(errs, fmt.Errorf("agent.voice.speed %.2f is out of range [0.5, 2.0]", v.Speed))
	}

	// Temporal
	if cfg.Temporal.UnknownBias != "" && !cfg.Temporal.UnknownBias.IsValid() {
		errs = append(errs, fmt.Errorf("temporal.unknown_bias %q is invalid; valid values: future, past", cfg.Temporal.UnknownBias))
	}
	if cfg.Temporal.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Temporal.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("temporal.timezone %q is not a valid IANA zone", cfg.Temporal.Timezone))
		}
	}

	// Actions
	namesSeen := make(map[string]int, len(cfg.Actions))
	for i, a := range cfg.Actions {
		prefix := fmt.Sprintf("actions[%d]", i)
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[a.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of actions[%d]", prefix, a.Name, prev))
			}
			namesSeen[a.Name] = i
		}
		if a.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		}
		if a.ProcessingMode != "" && a.ProcessingMode != action.MuteAgent && a.ProcessingMode != action.DoNotMute {
			errs = append(errs, fmt.Errorf("%s.processing_mode %q is invalid; valid values: mute_agent, do_not_mute", prefix, a.ProcessingMode))
		}
	}

	// Availability warnings.
	if cfg.Cache.RedisAddr == "" {
		slog.Warn("cache.redis_addr is empty; synthesized audio will not be cached")
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; call records will not be persisted")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// TTL returns the cache TTL as a duration, zero meaning "use the cache
// default".
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}
