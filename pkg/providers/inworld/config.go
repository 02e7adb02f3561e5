package inworld

import (
	"log/slog"
	"slices"
	"time"

	"github.com/harunnryd/voxstream/pkg/configutil"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/resilience"
)

const (
	DefaultURL = "wss://api.inworld.ai/tts/v1/voice:streamBidirectional"
	// APIKeyEnv is consulted when Config.APIKey is blank.
	APIKeyEnv = "INWORLD_API_KEY"

	DefaultVoiceID    = "Ashley"
	DefaultModelID    = "inworld-tts-1.5-max"
	DefaultSampleRate = 24000
)

// KnownVoices are the voices offered to callers; other ids are passed through
// with a warning.
var KnownVoices = []string{DefaultVoiceID, "Clive", "Hana", "Blake", "Olivia", "Mark"}

type Config struct {
	APIKey     string
	URL        string
	VoiceID    string
	ModelID    string
	SampleRate int

	// TraceID, when set, tags every metrics event so both clients of one
	// conversation can be correlated.
	TraceID         string
	BufferHighWater int
	Breaker         *resilience.CircuitBreaker
	Logger          *slog.Logger
	Observer        metrics.Observer
	Now             func() time.Time
}

// Settings is the shape of vendors.tts.settings for provider "inworld".
type Settings struct {
	APIKey          string `mapstructure:"api_key"`
	URL             string `mapstructure:"url"`
	VoiceID         string `mapstructure:"voice_id"`
	ModelID         string `mapstructure:"model_id"`
	SampleRate      int    `mapstructure:"sample_rate"`
	BufferHighWater int    `mapstructure:"buffer_high_water"`
}

var settingsSchema = configutil.Schema{
	Optional: []string{"api_key", "url", "voice_id", "model_id", "sample_rate", "buffer_high_water"},
}

func ConfigFromSettings(settings map[string]any) (Config, error) {
	if err := configutil.ValidateSettings(settings, settingsSchema); err != nil {
		return Config{}, err
	}
	var s Settings
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return Config{}, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	return Config{
		APIKey:          s.APIKey,
		URL:             s.URL,
		VoiceID:         s.VoiceID,
		ModelID:         s.ModelID,
		SampleRate:      s.SampleRate,
		BufferHighWater: s.BufferHighWater,
	}, nil
}

func isKnownVoice(id string) bool {
	return slices.Contains(KnownVoices, id)
}
