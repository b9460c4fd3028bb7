package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// GeminiConfig configures the Gemini provider
type GeminiConfig struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int
	// ClientOptions are appended after the API key, e.g. a custom endpoint
	ClientOptions []option.ClientOption
}

// Gemini implements Provider using Google Gemini's structured output mode
type Gemini struct {
	client    *genai.Client
	modelName string
	cfg       GeminiConfig
}

// NewGemini creates a new Gemini provider
func NewGemini(ctx context.Context, apiKey string, cfg GeminiConfig) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}

	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, cfg.ClientOptions...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	slog.Debug("Configured Gemini provider", "model", cfg.Model, "api_key", maskCredential(apiKey))

	return &Gemini{
		client:    client,
		modelName: cfg.Model,
		cfg:       cfg,
	}, nil
}

// model returns a generative model configured for req
func (g *Gemini) model(req Request) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(float32(g.cfg.Temperature))
	model.SetMaxOutputTokens(int32(g.cfg.MaxOutputTokens))
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = geminiSchema(req.Schema)
	model.SystemInstruction = genai.NewUserContent(genai.Text(req.Instructions))
	return model
}

// Submit generates content for req and normalizes the reply into a chat
// completion envelope
func (g *Gemini) Submit(ctx context.Context, req Request) (Envelope, error) {
	resp, err := g.model(req).GenerateContent(ctx, genai.Text(req.Text))
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return emptyEnvelope(), nil
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	if responseText.Len() == 0 {
		return emptyEnvelope(), nil
	}

	return chatEnvelope(responseText.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// geminiSchema converts a schema node into Gemini's schema dialect, which has
// no additionalProperties keyword and marks optional values with Nullable
func geminiSchema(n *Node) *genai.Schema {
	switch n.Kind() {
	case KindObject:
		props := make(map[string]*genai.Schema, len(n.Properties()))
		for _, p := range n.Properties() {
			props[p.Name] = geminiSchema(p.Schema)
		}
		return &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
			Required:   n.Required(),
		}
	case KindArray:
		return &genai.Schema{Type: genai.TypeArray, Items: geminiSchema(n.Elem())}
	case KindNullable:
		s := geminiSchema(n.Elem())
		s.Nullable = true
		return s
	case KindNumber:
		return &genai.Schema{Type: genai.TypeNumber}
	default:
		return &genai.Schema{Type: genai.TypeString}
	}
}

// classifyGeminiError maps client errors onto the extraction error kinds
func classifyGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransportError{Err: err}
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &ServiceError{StatusCode: http.StatusBadRequest, Message: blocked.Error()}
	}

	if apiErr, ok := apierror.FromError(err); ok {
		st := apiErr.GRPCStatus()
		code := apiErr.HTTPCode()
		if code <= 0 {
			code = httpStatusFromCode(st.Code())
		}
		msg := st.Message()
		if msg == "" {
			msg = fmt.Sprintf("service returned status %d", code)
		}
		return &ServiceError{StatusCode: code, Message: msg}
	}

	return &TransportError{Err: err}
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
