package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/voxstream/pkg/configutil"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/llm"
	"github.com/harunnryd/voxstream/pkg/logging"
	"github.com/harunnryd/voxstream/pkg/resilience"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	APIKeyEnv      = "OPENAI_API_KEY"
)

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature *float64
	MaxTokens   int
	Client      *http.Client
	Logger      *slog.Logger
}

// Settings is the shape of vendors.llm.settings for provider "openai".
type Settings struct {
	APIKey      string   `mapstructure:"api_key"`
	Model       string   `mapstructure:"model"`
	BaseURL     string   `mapstructure:"base_url"`
	Temperature *float64 `mapstructure:"temperature"`
	MaxTokens   int      `mapstructure:"max_tokens"`
}

var settingsSchema = configutil.Schema{
	Optional: []string{"api_key", "model", "base_url", "temperature", "max_tokens"},
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
		APIKey:      s.APIKey,
		Model:       s.Model,
		BaseURL:     s.BaseURL,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	}, nil
}

// Responder streams chat completions over server-sent events.
type Responder struct {
	apiKey      string
	model       string
	baseURL     string
	temperature *float64
	maxTokens   int
	client      *http.Client
	logger      *slog.Logger
}

func New(cfg Config) (*Responder, error) {
	apiKey := configutil.EnvFallback(cfg.APIKey, APIKeyEnv)
	if apiKey == "" {
		return nil, errorsx.MissingCredential("openai", APIKeyEnv)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Responder{
		apiKey:      apiKey,
		model:       configutil.StringValue(cfg.Model, DefaultModel),
		baseURL:     strings.TrimRight(configutil.StringValue(cfg.BaseURL, DefaultBaseURL), "/"),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      client,
		logger:      logging.NewComponentLogger(cfg.Logger, "openai_llm"),
	}, nil
}

func (r *Responder) Name() string { return "openai" }

func (r *Responder) Model() string { return r.model }

type chatRequest struct {
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Messages    []llm.Message `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream posts messages and returns the content deltas. Non-2xx responses
// are errors with reason llm_stream; 429 is a resilience.RateLimitError.
// A body that fails mid-read ends the stream with an llm_stream Token.Err.
func (r *Responder) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Token, error) {
	b, err := json.Marshal(chatRequest{
		Model:       r.model,
		Stream:      true,
		Messages:    messages,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonLLMStream)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonLLMStream)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonLLMStream)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorsx.Wrap(resilience.RateLimitError{Provider: "openai", Message: string(body)}, errorsx.ReasonLLMRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorsx.Errorf(errorsx.ReasonLLMStream, "openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	out := make(chan llm.Token, 128)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				r.logger.Warn("openai_chunk_decode_error", slog.String("error", err.Error()))
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				select {
				case <-ctx.Done():
					return
				case out <- llm.Token{Text: text}:
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			r.logger.Error("openai_stream_read_failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case out <- llm.Token{Err: errorsx.Wrap(err, errorsx.ReasonLLMStream)}:
			}
		}
	}()
	return out, nil
}

func (r *Responder) String() string {
	return fmt.Sprintf("openai(%s)", r.model)
}

var _ llm.Responder = (*Responder)(nil)
