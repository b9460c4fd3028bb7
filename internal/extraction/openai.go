package extraction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/jx"
)

// Defaults for the chat completions provider. A low temperature biases the
// model toward deterministic output.
const (
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultTemperature     = 0.1
	DefaultMaxOutputTokens = 2048
)

// OpenAIConfig configures the OpenAI provider. The strict schema flag is not
// configurable: it is always sent enabled.
type OpenAIConfig struct {
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	HTTPClient      *http.Client
}

// OpenAI implements Provider against an OpenAI compatible chat completions API
type OpenAI struct {
	apiKey string
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI creates an OpenAI provider. apiKey is sent as a bearer credential.
func NewOpenAI(apiKey string, cfg OpenAIConfig) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	slog.Debug("Configured OpenAI provider",
		"base_url", cfg.BaseURL,
		"model", cfg.Model,
		"api_key", maskCredential(apiKey),
	)

	return &OpenAI{
		apiKey: apiKey,
		cfg:    cfg,
		client: client,
	}, nil
}

// requestBody encodes the chat completion request for req
func (o *OpenAI) requestBody(req Request) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("model", func(e *jx.Encoder) { e.Str(o.cfg.Model) })
		e.Field("temperature", func(e *jx.Encoder) { e.Float64(o.cfg.Temperature) })
		e.Field("max_tokens", func(e *jx.Encoder) { e.Int(o.cfg.MaxOutputTokens) })
		e.Field("messages", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("role", func(e *jx.Encoder) { e.Str("system") })
					e.Field("content", func(e *jx.Encoder) { e.Str(req.Instructions) })
				})
				e.Obj(func(e *jx.Encoder) {
					e.Field("role", func(e *jx.Encoder) { e.Str("user") })
					e.Field("content", func(e *jx.Encoder) { e.Str(req.Text) })
				})
			})
		})
		e.Field("response_format", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("type", func(e *jx.Encoder) { e.Str("json_schema") })
				e.Field("json_schema", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						e.Field("name", func(e *jx.Encoder) { e.Str(req.SchemaName) })
						e.Field("strict", func(e *jx.Encoder) { e.Bool(true) })
						e.Field("schema", req.Schema.Encode)
					})
				})
			})
		})
	})
	return e.Bytes()
}

// Submit sends req to the chat completions endpoint
func (o *OpenAI) Submit(ctx context.Context, req Request) (Envelope, error) {
	url := o.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(o.requestBody(req)))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceError{
			StatusCode: resp.StatusCode,
			Message:    serviceMessage(resp.StatusCode, body),
		}
	}

	return Envelope(body), nil
}

// Close is a no-op for the HTTP client
func (o *OpenAI) Close() error {
	return nil
}
