package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Vision implements Recognizer with an Ollama vision model
type Vision struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewVision creates a new Ollama vision Recognizer
// Recommended models for receipt transcription:
//   - llava:1.6 (best balance of accuracy and speed)
//   - qwen2.5vl (good OCR capabilities)
//   - llama3.2-vision
func NewVision(baseURL string, modelName string) (*Vision, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava:1.6"
	}

	return &Vision{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // Vision models are slow on CPU
		},
	}, nil
}

type visionChatRequest struct {
	Model    string          `json:"model"`
	Messages []visionMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type visionMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type visionChatResponse struct {
	Message visionMessage `json:"message"`
	Error   string        `json:"error"`
}

// Recognize transcribes the receipt image
func (v *Vision) Recognize(ctx context.Context, image []byte, contentType string) (string, error) {
	pngData, err := Normalize(image, contentType)
	if err != nil {
		return "", err
	}

	reqBody := visionChatRequest{
		Model:  v.model,
		Stream: false,
		Messages: []visionMessage{
			{
				Role:    "user",
				Content: transcribePrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
		Options: map[string]any{"temperature": 0},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", v.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp visionChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	text, err := cleanTranscript(chatResp.Message.Content)
	if err != nil {
		return "", err
	}

	slog.Debug("Recognized receipt text", "model", v.model, "length", len(text))
	return text, nil
}

// Close closes the Vision client (no-op for HTTP client)
func (v *Vision) Close() error {
	return nil
}
