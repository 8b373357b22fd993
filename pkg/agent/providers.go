package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/voxa-ai/voxa/pkg/adapters/stt"
	"github.com/voxa-ai/voxa/pkg/adapters/tts"
	"github.com/voxa-ai/voxa/pkg/configutil"
	"github.com/voxa-ai/voxa/pkg/llm"
	"github.com/voxa-ai/voxa/pkg/providers/dashscope"
	"github.com/voxa-ai/voxa/pkg/providers/deepgram"
	"github.com/voxa-ai/voxa/pkg/providers/elevenlabs"
	"github.com/voxa-ai/voxa/pkg/providers/openai"
	"github.com/voxa-ai/voxa/pkg/session"
)

type STTFactoryBuilder func(cfg Config) (session.STTFactory, error)
type TTSFactory func(cfg Config) (tts.Synthesizer, error)
type LLMFactory func(cfg Config) (llm.StreamAdapter, error)

// ProviderRegistry maps vendor names to factories. The session gets an STT
// factory rather than a channel because it may need to open more than one
// over its lifetime.
type ProviderRegistry struct {
	stt map[string]STTFactoryBuilder
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactoryBuilder),
		tts: make(map[string]TTSFactory),
		llm: make(map[string]LLMFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactoryBuilder) {
	r.stt[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildSTTFactory(cfg Config) (session.STTFactory, error) {
	provider := cfg.Vendors.STT.Provider
	fn := r.stt[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTTS(cfg Config) (tts.Synthesizer, error) {
	provider := cfg.Vendors.TTS.Provider
	fn := r.tts[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildLLM(cfg Config) (llm.StreamAdapter, error) {
	provider := cfg.Vendors.LLM.Provider
	fn := r.llm[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

// DefaultRegistry registers the built-in vendors.
func DefaultRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterSTT("dashscope", buildDashScopeSTT)
	r.RegisterSTT("deepgram", buildDeepgramSTT)
	r.RegisterTTS("dashscope", buildDashScopeTTS)
	r.RegisterTTS("elevenlabs", buildElevenLabsTTS)
	r.RegisterLLM("openai", buildOpenAILLM)
	return r
}

type dashscopeSTTSettings struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Language   string `mapstructure:"language"`
	BaseURL    string `mapstructure:"base_url"`
	Interim    bool   `mapstructure:"interim"`
	TimeoutMS  int    `mapstructure:"timeout_ms"`
	SampleRate int    `mapstructure:"sample_rate"`
}

func buildDashScopeSTT(cfg Config) (session.STTFactory, error) {
	raw := cfg.Vendors.STT.Settings
	if err := configutil.ValidateSettings(raw, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "language", "base_url", "interim", "timeout_ms", "sample_rate"},
	}); err != nil {
		return nil, fmt.Errorf("vendors.stt.settings: %w", err)
	}
	var s dashscopeSTTSettings
	if err := configutil.DecodeSettings(raw, &s); err != nil {
		return nil, fmt.Errorf("vendors.stt.settings: %w", err)
	}
	if err := configutil.RequireString(s.APIKey, "vendors.stt.settings.api_key"); err != nil {
		return nil, err
	}
	return func(streamID string) stt.StreamingSTT {
		return dashscope.NewSTT(dashscope.STTConfig{
			APIKey:         s.APIKey,
			Model:          s.Model,
			Language:       s.Language,
			BaseURL:        s.BaseURL,
			Interim:        s.Interim,
			SampleRate:     pickInt(s.SampleRate, cfg.Session.TargetRate),
			ConnectTimeout: time.Duration(s.TimeoutMS) * time.Millisecond,
			StreamID:       streamID,
		})
	}, nil
}

type deepgramSettings struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Language   string `mapstructure:"language"`
	Interim    bool   `mapstructure:"interim"`
	SampleRate int    `mapstructure:"sample_rate"`
}

func buildDeepgramSTT(cfg Config) (session.STTFactory, error) {
	raw := cfg.Vendors.STT.Settings
	if err := configutil.ValidateSettings(raw, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "language", "interim", "sample_rate"},
	}); err != nil {
		return nil, fmt.Errorf("vendors.stt.settings: %w", err)
	}
	var s deepgramSettings
	if err := configutil.DecodeSettings(raw, &s); err != nil {
		return nil, fmt.Errorf("vendors.stt.settings: %w", err)
	}
	if err := configutil.RequireString(s.APIKey, "vendors.stt.settings.api_key"); err != nil {
		return nil, err
	}
	return func(streamID string) stt.StreamingSTT {
		return deepgram.New(deepgram.Config{
			APIKey:     s.APIKey,
			Model:      s.Model,
			Language:   s.Language,
			Interim:    s.Interim,
			SampleRate: pickInt(s.SampleRate, cfg.Session.TargetRate),
			StreamID:   streamID,
		})
	}, nil
}

type dashscopeTTSSettings struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Voice      string `mapstructure:"voice"`
	BaseURL    string `mapstructure:"base_url"`
	SampleRate int    `mapstructure:"sample_rate"`
}

func buildDashScopeTTS(cfg Config) (tts.Synthesizer, error) {
	raw := cfg.Vendors.TTS.Settings
	if err := configutil.ValidateSettings(raw, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "voice", "base_url", "sample_rate"},
	}); err != nil {
		return nil, fmt.Errorf("vendors.tts.settings: %w", err)
	}
	var s dashscopeTTSSettings
	if err := configutil.DecodeSettings(raw, &s); err != nil {
		return nil, fmt.Errorf("vendors.tts.settings: %w", err)
	}
	if err := configutil.RequireString(s.APIKey, "vendors.tts.settings.api_key"); err != nil {
		return nil, err
	}
	return dashscope.NewTTS(dashscope.TTSConfig{
		APIKey:     s.APIKey,
		Model:      s.Model,
		Voice:      s.Voice,
		BaseURL:    s.BaseURL,
		SampleRate: s.SampleRate,
	}), nil
}

type elevenLabsSettings struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
	SampleRate   int    `mapstructure:"sample_rate"`
}

func buildElevenLabsTTS(cfg Config) (tts.Synthesizer, error) {
	raw := cfg.Vendors.TTS.Settings
	if err := configutil.ValidateSettings(raw, configutil.Schema{
		Required: []string{"api_key", "voice_id"},
		Optional: []string{"model_id", "output_format", "sample_rate"},
	}); err != nil {
		return nil, fmt.Errorf("vendors.tts.settings: %w", err)
	}
	var s elevenLabsSettings
	if err := configutil.DecodeSettings(raw, &s); err != nil {
		return nil, fmt.Errorf("vendors.tts.settings: %w", err)
	}
	return elevenlabs.New(elevenlabs.Config{
		APIKey:       s.APIKey,
		VoiceID:      s.VoiceID,
		ModelID:      s.ModelID,
		OutputFormat: s.OutputFormat,
		SampleRate:   s.SampleRate,
	}), nil
}

type openAISettings struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

func buildOpenAILLM(cfg Config) (llm.StreamAdapter, error) {
	raw := cfg.Vendors.LLM.Settings
	if err := configutil.ValidateSettings(raw, configutil.Schema{
		Required: []string{"api_key", "model"},
		Optional: []string{"base_url"},
	}); err != nil {
		return nil, fmt.Errorf("vendors.llm.settings: %w", err)
	}
	var s openAISettings
	if err := configutil.DecodeSettings(raw, &s); err != nil {
		return nil, fmt.Errorf("vendors.llm.settings: %w", err)
	}
	adapter := openai.NewAdapter(s.APIKey, s.Model)
	if s.BaseURL != "" {
		adapter.BaseURL = s.BaseURL
	}
	return adapter, nil
}

func pickInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
