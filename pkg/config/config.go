// Package config loads the voxstream configuration file with viper.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "VOXSTREAM"

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Instructions  string              `mapstructure:"instructions"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Context       ContextConfig       `mapstructure:"context"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TurnConfig struct {
	IdleFinishMS      int  `mapstructure:"idle_finish_ms"`
	STTEstimateMS     int  `mapstructure:"stt_estimate_ms"`
	StreamSentences   bool `mapstructure:"stream_sentences"`
	SentenceMinLen    int  `mapstructure:"sentence_min_len"`
	SentenceMaxTokens int  `mapstructure:"sentence_max_tokens"`
}

func (t TurnConfig) IdleFinish() time.Duration {
	return time.Duration(t.IdleFinishMS) * time.Millisecond
}

func (t TurnConfig) STTEstimate() time.Duration {
	return time.Duration(t.STTEstimateMS) * time.Millisecond
}

type ContextConfig struct {
	MaxHistory int `mapstructure:"max_history"`
}

type ObservabilityConfig struct {
	ArtifactsDir    string  `mapstructure:"artifacts_dir"`
	RetentionDays   int     `mapstructure:"retention_days"`
	PrometheusAddr  string  `mapstructure:"prometheus_addr"`
	RedisAddr       string  `mapstructure:"redis_addr"`
	RedisPassword   string  `mapstructure:"redis_password"`
	RedisDB         int     `mapstructure:"redis_db"`
	RedisKey        string  `mapstructure:"redis_key"`
	RedisMaxRecords int     `mapstructure:"redis_max_records"`
	SampleRate      float64 `mapstructure:"sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ResilienceConfig struct {
	WarmupRetries     int `mapstructure:"warmup_retries"`
	WarmupBackoffMS   int `mapstructure:"warmup_backoff_ms"`
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("instructions", "")
	v.SetDefault("vendors.stt.provider", "assemblyai")
	v.SetDefault("vendors.tts.provider", "inworld")
	v.SetDefault("vendors.llm.provider", "openai")
	v.SetDefault("turn.idle_finish_ms", 1500)
	v.SetDefault("turn.stt_estimate_ms", 400)
	v.SetDefault("turn.stream_sentences", false)
	v.SetDefault("turn.sentence_min_len", 8)
	v.SetDefault("turn.sentence_max_tokens", 256)
	v.SetDefault("context.max_history", 12)
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.prometheus_addr", "")
	v.SetDefault("observability.redis_addr", "")
	v.SetDefault("observability.redis_password", "")
	v.SetDefault("observability.redis_db", 0)
	v.SetDefault("observability.redis_key", "voxstream:turns")
	v.SetDefault("observability.redis_max_records", 500)
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("resilience.warmup_retries", 2)
	v.SetDefault("resilience.warmup_backoff_ms", 250)
	v.SetDefault("resilience.breaker_threshold", 3)
	v.SetDefault("resilience.breaker_cooldown_ms", 30000)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Load reads path, applies defaults and VOXSTREAM_* environment overrides,
// expands ${ENV} references in string values and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
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
	if c.Turn.IdleFinishMS <= 0 {
		return fmt.Errorf("turn.idle_finish_ms must be positive")
	}
	if c.Turn.STTEstimateMS < 0 {
		return fmt.Errorf("turn.stt_estimate_ms must not be negative")
	}
	if c.Turn.SentenceMinLen < 0 || c.Turn.SentenceMaxTokens < 0 {
		return fmt.Errorf("turn sentence limits must not be negative")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be within [0,1]")
	}
	if c.Observability.RedisMaxRecords < 0 {
		return fmt.Errorf("observability.redis_max_records must not be negative")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
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
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
