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
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr         = ":8080"
	DefaultPollInterval       = 5 * time.Second
	DefaultCaptureSampleRate  = 16000
	DefaultPlaybackSampleRate = 24000
	DefaultLLMProvider        = "gemini"
	DefaultLLMModel           = "gemini-2.5-flash"
	DefaultS2SProvider        = "gemini-live"
)

// fixedVoiceRates holds the capture and playback sample rates an S2S
// provider's wire format requires. Providers not listed accept any rate.
var fixedVoiceRates = map[string][2]int{
	"gemini-live": {DefaultCaptureSampleRate, DefaultPlaybackSampleRate},
}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "anthropic", "ollama"},
	"s2s": {"gemini-live"},
}

// Load reads the YAML configuration file at path, fills empty Gemini keys
// from the environment and returns a validated [Config].
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
	ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = DefaultLLMProvider
	}
	if cfg.Providers.LLM.Name == DefaultLLMProvider && cfg.Providers.LLM.Model == "" {
		cfg.Providers.LLM.Model = DefaultLLMModel
	}
	if cfg.Providers.S2S.Name == "" {
		cfg.Providers.S2S.Name = DefaultS2SProvider
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = DefaultPollInterval
	}
	if cfg.Scheduler.Store.Backend == "" {
		cfg.Scheduler.Store.Backend = StoreMemory
	}
	if cfg.Voice.CaptureSampleRate == 0 {
		cfg.Voice.CaptureSampleRate = DefaultCaptureSampleRate
	}
	if cfg.Voice.PlaybackSampleRate == 0 {
		cfg.Voice.PlaybackSampleRate = DefaultPlaybackSampleRate
	}
}

// ApplyEnv fills empty API keys of Gemini-backed providers from
// GEMINI_API_KEY, then API_KEY.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	key := getenv("GEMINI_API_KEY")
	if key == "" {
		key = getenv("API_KEY")
	}
	if key == "" {
		return
	}
	fill := func(e *ProviderEntry) {
		if e.APIKey == "" && (e.Name == "gemini" || e.Name == "gemini-live") {
			e.APIKey = key
		}
	}
	fill(&cfg.Providers.LLM)
	fill(&cfg.Providers.S2S)
	for i := range cfg.Providers.LLMFallbacks {
		fill(&cfg.Providers.LLMFallbacks[i])
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}

	if cfg.Scheduler.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("scheduler.poll_interval %v must be positive", cfg.Scheduler.PollInterval))
	}
	st := cfg.Scheduler.Store
	switch {
	case st.Backend != "" && !st.Backend.IsValid():
		errs = append(errs, fmt.Errorf("scheduler.store.backend %q is invalid; valid values: memory, sqlite, postgres", st.Backend))
	case st.Backend == StoreSQLite && st.Path == "":
		errs = append(errs, errors.New("scheduler.store.path is required when backend is sqlite"))
	case st.Backend == StorePostgres && st.PostgresDSN == "":
		errs = append(errs, errors.New("scheduler.store.postgres_dsn is required when backend is postgres"))
	}

	if cfg.Voice.CaptureSampleRate < 0 {
		errs = append(errs, fmt.Errorf("voice.capture_sample_rate %d must be positive", cfg.Voice.CaptureSampleRate))
	}
	if cfg.Voice.PlaybackSampleRate < 0 {
		errs = append(errs, fmt.Errorf("voice.playback_sample_rate %d must be positive", cfg.Voice.PlaybackSampleRate))
	}
	s2sName := cfg.Providers.S2S.Name
	if s2sName == "" {
		s2sName = DefaultS2SProvider
	}
	if rates, ok := fixedVoiceRates[s2sName]; ok {
		if r := cfg.Voice.CaptureSampleRate; r > 0 && r != rates[0] {
			errs = append(errs, fmt.Errorf("voice.capture_sample_rate %d is not supported by %s; it requires %d", r, s2sName, rates[0]))
		}
		if r := cfg.Voice.PlaybackSampleRate; r > 0 && r != rates[1] {
			errs = append(errs, fmt.Errorf("voice.playback_sample_rate %d is not supported by %s; it requires %d", r, s2sName, rates[1]))
		}
	}

	seen := make(map[string]int, len(cfg.Mentors))
	for i, m := range cfg.Mentors {
		prefix := fmt.Sprintf("mentors[%d]", i)
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := seen[m.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of mentors[%d]", prefix, m.ID, prev))
			}
			seen[m.ID] = i
		}
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if m.Persona == "" && m.Description == "" {
			slog.Warn("mentor has neither persona nor description", "mentor", m.ID)
		}
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
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
