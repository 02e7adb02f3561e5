package assemblyai

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/voxstream/pkg/configutil"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/resilience"
)

const (
	DefaultURL = "wss://streaming.assemblyai.com/v3/ws"
	// APIKeyEnv is consulted when Config.APIKey is blank.
	APIKeyEnv = "ASSEMBLYAI_API_KEY"

	DefaultSampleRate                       = 16000
	DefaultFormatTurns                      = true
	DefaultEndOfTurnConfidenceThreshold     = 0.4
	DefaultMinEndOfTurnSilenceWhenConfident = 400
	DefaultMaxTurnSilence                   = 800
)

type Config struct {
	APIKey string
	// URL overrides DefaultURL; query parameters are appended to it.
	URL        string
	SampleRate int
	// FormatTurns asks the server to punctuate and case final transcripts.
	// nil means DefaultFormatTurns.
	FormatTurns *bool
	// EndOfTurnConfidenceThreshold is nil for the default so that 0 stays expressible.
	EndOfTurnConfidenceThreshold *float64
	// Silence durations in milliseconds; 0 selects the default.
	MinEndOfTurnSilenceWhenConfident int
	MaxTurnSilence                   int

	// BufferHighWater logs a warning once the unread event backlog exceeds it.
	// TraceID, when set, tags every metrics event so both clients of one
	// conversation can be correlated.
	TraceID         string
	BufferHighWater int
	Breaker         *resilience.CircuitBreaker
	Logger          *slog.Logger
	Observer        metrics.Observer
	Now             func() time.Time
}

// Settings is the shape of vendors.stt.settings for provider "assemblyai".
type Settings struct {
	APIKey                           string   `mapstructure:"api_key"`
	URL                              string   `mapstructure:"url"`
	SampleRate                       int      `mapstructure:"sample_rate"`
	FormatTurns                      *bool    `mapstructure:"format_turns"`
	EndOfTurnConfidenceThreshold     *float64 `mapstructure:"end_of_turn_confidence_threshold"`
	MinEndOfTurnSilenceWhenConfident int      `mapstructure:"min_end_of_turn_silence_when_confident"`
	MaxTurnSilence                   int      `mapstructure:"max_turn_silence"`
	BufferHighWater                  int      `mapstructure:"buffer_high_water"`
}

var settingsSchema = configutil.Schema{
	Optional: []string{
		"api_key", "url", "sample_rate", "format_turns",
		"end_of_turn_confidence_threshold",
		"min_end_of_turn_silence_when_confident",
		"max_turn_silence", "buffer_high_water",
	},
}

// ConfigFromSettings validates and decodes a free-form settings map.
func ConfigFromSettings(settings map[string]any) (Config, error) {
	if err := configutil.ValidateSettings(settings, settingsSchema); err != nil {
		return Config{}, err
	}
	var s Settings
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return Config{}, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	return Config{
		APIKey:                           s.APIKey,
		URL:                              s.URL,
		SampleRate:                       s.SampleRate,
		FormatTurns:                      s.FormatTurns,
		EndOfTurnConfidenceThreshold:     s.EndOfTurnConfidenceThreshold,
		MinEndOfTurnSilenceWhenConfident: s.MinEndOfTurnSilenceWhenConfident,
		MaxTurnSilence:                   s.MaxTurnSilence,
		BufferHighWater:                  s.BufferHighWater,
	}, nil
}

// params are the resolved session parameters sent in the handshake.
type params struct {
	sampleRate          int
	formatTurns         bool
	confidenceThreshold float64
	minSilenceConfident int
	maxTurnSilence      int
}

func resolveParams(cfg Config) params {
	p := params{
		sampleRate:          cfg.SampleRate,
		formatTurns:         configutil.BoolValue(cfg.FormatTurns, DefaultFormatTurns),
		confidenceThreshold: configutil.Float64Value(cfg.EndOfTurnConfidenceThreshold, DefaultEndOfTurnConfidenceThreshold),
		minSilenceConfident: cfg.MinEndOfTurnSilenceWhenConfident,
		maxTurnSilence:      cfg.MaxTurnSilence,
	}
	if p.sampleRate <= 0 {
		p.sampleRate = DefaultSampleRate
	}
	if p.minSilenceConfident <= 0 {
		p.minSilenceConfident = DefaultMinEndOfTurnSilenceWhenConfident
	}
	if p.maxTurnSilence <= 0 {
		p.maxTurnSilence = DefaultMaxTurnSilence
	}
	return p
}

func (p params) query() url.Values {
	q := url.Values{}
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("format_turns", strconv.FormatBool(p.formatTurns))
	q.Set("end_of_turn_confidence_threshold", strconv.FormatFloat(p.confidenceThreshold, 'f', -1, 64))
	q.Set("min_end_of_turn_silence_when_confident", strconv.Itoa(p.minSilenceConfident))
	q.Set("max_turn_silence", strconv.Itoa(p.maxTurnSilence))
	return q
}

func buildURL(base string, p params) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = DefaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range p.query() {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
