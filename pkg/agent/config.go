package agent

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment  string        `mapstructure:"environment"`
	LogLevel     string        `mapstructure:"log_level"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Vendors      VendorsConfig `mapstructure:"vendors"`
	Session      SessionTuning `mapstructure:"session"`
}

// VendorConfig selects a provider by name plus a free-form settings block.
// Settings are decoded per provider; secrets use ${ENV_VAR} expansion.
type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type SessionTuning struct {
	Policy         string `mapstructure:"policy"`
	InputRate      int    `mapstructure:"input_rate"`
	TargetRate     int    `mapstructure:"target_rate"`
	Channels       int    `mapstructure:"channels"`
	Voice          string `mapstructure:"voice"`
	DrainTimeoutMS int    `mapstructure:"drain_timeout_ms"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("session.policy", "interrupt")
	v.SetDefault("session.input_rate", 48000)
	v.SetDefault("session.target_rate", 16000)
	v.SetDefault("session.channels", 1)
	v.SetDefault("session.drain_timeout_ms", 3000)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	switch c.Session.Policy {
	case "", "interrupt", "queue":
	default:
		return fmt.Errorf("session.policy must be interrupt or queue, got %q", c.Session.Policy)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	cfg.SystemPrompt = os.ExpandEnv(cfg.SystemPrompt)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
