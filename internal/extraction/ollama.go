package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaBaseURL is the address of a local Ollama daemon
const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaConfig configures the Ollama provider
type OllamaConfig struct {
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	HTTPClient      *http.Client
}

// Ollama implements Provider using a local Ollama server. The schema is
// passed as the structured output format.
type Ollama struct {
	cfg    OllamaConfig
	client *http.Client
}

// NewOllama creates a new Ollama provider
// Recommended models for text extraction:
//   - llama3.1 (good balance of accuracy and speed)
//   - qwen2.5 (strong at structured output)
//   - mistral-nemo
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "llama3.1"
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	client := cfg.HTTPClient
	if client == nil {
		// Local models can be slow on first load
		client = &http.Client{Timeout: 120 * time.Second}
	}

	slog.Debug("Configured Ollama provider", "base_url", cfg.BaseURL, "model", cfg.Model)

	return &Ollama{cfg: cfg, client: client}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   *Node           `json:"format"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Submit sends req to Ollama's chat API and normalizes the reply into a chat
// completion envelope
func (o *Ollama) Submit(ctx context.Context, req Request) (Envelope, error) {
	reqBody := ollamaChatRequest{
		Model:  o.cfg.Model,
		Stream: false,
		Format: req.Schema,
		Messages: []ollamaMessage{
			{Role: "system", Content: req.Instructions},
			{Role: "user", Content: req.Text},
		},
		Options: ollamaOptions{
			Temperature: o.cfg.Temperature,
			NumPredict:  o.cfg.MaxOutputTokens,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{
			StatusCode: resp.StatusCode,
			Message:    serviceMessage(resp.StatusCode, body),
		}
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		// Let the decoder report the malformed body
		return Envelope(body), nil
	}
	if chatResp.Message.Content == "" {
		return emptyEnvelope(), nil
	}

	return chatEnvelope(chatResp.Message.Content), nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
