package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"

	"github.com/zombor/receipt-ledger/internal/extraction"
	"github.com/zombor/receipt-ledger/internal/ocr"
	"github.com/zombor/receipt-ledger/internal/receipt"
)

// config holds the flags shared by every subcommand
type config struct {
	logLevel  *string
	logFormat *string

	provider      *string
	model         *string
	temperature   *float64
	maxTokens     *int
	openAIKey     *string
	openAIBaseURL *string
	geminiKey     *string
	ollamaURL     *string

	retryMax       *int
	retryBaseDelay *time.Duration

	ocrEngine *string
	ocrModel  *string

	lineItemTolerance *float64
	subtotalTolerance *float64
	totalTolerance    *float64
}

func registerGlobalFlags(fs *ff.FlagSet) *config {
	return &config{
		logLevel:  fs.StringLong("log-level", "info", "Log level: debug, info, warn, error"),
		logFormat: fs.StringLong("log-format", "console", "Log format: 'console' or 'json'"),

		provider:      fs.StringLong("provider", "openai", "Extraction provider: 'openai', 'ollama' or 'gemini'"),
		model:         fs.StringLong("model", "", "Extraction model name (provider default when empty)"),
		temperature:   fs.Float64Long("temperature", extraction.DefaultTemperature, "Sampling temperature"),
		maxTokens:     fs.IntLong("max-tokens", extraction.DefaultMaxOutputTokens, "Output token cap"),
		openAIKey:     fs.StringLong("openai-api-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)"),
		openAIBaseURL: fs.StringLong("openai-base-url", extraction.DefaultOpenAIBaseURL, "OpenAI compatible API base URL"),
		geminiKey:     fs.StringLong("gemini-api-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		ollamaURL:     fs.StringLong("ollama-url", extraction.DefaultOllamaBaseURL, "Ollama API base URL"),

		retryMax:       fs.IntLong("retry-max", 0, "Retries for transport failures and 429/5xx responses (0 disables)"),
		retryBaseDelay: fs.DurationLong("retry-base-delay", 500*time.Millisecond, "Initial retry backoff"),

		ocrEngine: fs.StringLong("ocr", "none", "Image transcription: 'none', 'ollama' or 'gemini'"),
		ocrModel:  fs.StringLong("ocr-model", "", "Transcription model name (engine default when empty)"),

		lineItemTolerance: fs.Float64Long("line-item-tolerance", receipt.DefaultTolerances.LineItem, "Allowed quantity x unit price drift per line"),
		subtotalTolerance: fs.Float64Long("subtotal-tolerance", receipt.DefaultTolerances.Subtotal, "Allowed drift between line totals and subtotal"),
		totalTolerance:    fs.Float64Long("total-tolerance", receipt.DefaultTolerances.Total, "Allowed drift between subtotal + tax and total"),
	}
}

// setupLogging builds the zap logger and routes slog through it
func (c *config) setupLogging() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(*c.logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", *c.logLevel, err)
	}

	var zcfg zap.Config
	switch *c.logFormat {
	case "json":
		zcfg = zap.NewProductionConfig()
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q (want console or json)", *c.logFormat)
	}
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	slog.SetDefault(slog.New(zapslog.NewHandler(logger.Core())))
	return logger, nil
}

func (c *config) tolerances() receipt.Tolerances {
	return receipt.Tolerances{
		LineItem: *c.lineItemTolerance,
		Subtotal: *c.subtotalTolerance,
		Total:    *c.totalTolerance,
	}
}

func (c *config) geminiAPIKey() string {
	if *c.geminiKey != "" {
		return *c.geminiKey
	}
	return os.Getenv("GEMINI_API_KEY")
}

// newProvider constructs the configured extraction provider
func (c *config) newProvider(ctx context.Context) (extraction.Provider, error) {
	switch *c.provider {
	case "openai":
		apiKey := *c.openAIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai api key is required: set --openai-api-key or OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI provider...", "base_url", *c.openAIBaseURL)
		return extraction.NewOpenAI(apiKey, extraction.OpenAIConfig{
			BaseURL:         *c.openAIBaseURL,
			Model:           *c.model,
			Temperature:     *c.temperature,
			MaxOutputTokens: *c.maxTokens,
		})
	case "ollama":
		slog.Info("Initializing Ollama provider...", "url", *c.ollamaURL)
		return extraction.NewOllama(extraction.OllamaConfig{
			BaseURL:         *c.ollamaURL,
			Model:           *c.model,
			Temperature:     *c.temperature,
			MaxOutputTokens: *c.maxTokens,
		})
	case "gemini":
		apiKey := c.geminiAPIKey()
		if apiKey == "" {
			return nil, fmt.Errorf("gemini api key is required: set --gemini-api-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini provider...")
		return extraction.NewGemini(ctx, apiKey, extraction.GeminiConfig{
			Model:           *c.model,
			Temperature:     *c.temperature,
			MaxOutputTokens: *c.maxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider %q (valid: openai, ollama, gemini)", *c.provider)
	}
}

// newExtractor wraps the provider with metrics and, when enabled, retries
func (c *config) newExtractor(ctx context.Context, reg prometheus.Registerer) (*extraction.Extractor, error) {
	if *c.retryMax < 0 {
		return nil, fmt.Errorf("--retry-max must not be negative")
	}

	provider, err := c.newProvider(ctx)
	if err != nil {
		return nil, err
	}

	metrics, err := extraction.NewMetrics(reg)
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	provider = metrics.Instrument(provider, *c.provider)

	if *c.retryMax > 0 {
		policy := extraction.RetryPolicy{
			MaxRetries: uint64(*c.retryMax),
			BaseDelay:  *c.retryBaseDelay,
		}
		provider = extraction.WithRetry(provider, policy.Backoff)
	}

	return extraction.NewExtractor(provider), nil
}

// newRecognizer returns nil when image transcription is disabled
func (c *config) newRecognizer(ctx context.Context) (ocr.Recognizer, error) {
	switch *c.ocrEngine {
	case "none", "":
		return nil, nil
	case "ollama":
		slog.Info("Initializing Ollama vision recognizer...", "url", *c.ollamaURL)
		return ocr.NewVision(*c.ollamaURL, *c.ocrModel)
	case "gemini":
		apiKey := c.geminiAPIKey()
		if apiKey == "" {
			return nil, fmt.Errorf("gemini api key is required for --ocr gemini")
		}
		slog.Info("Initializing Gemini recognizer...")
		return ocr.NewGemini(ctx, apiKey, *c.ocrModel)
	default:
		return nil, fmt.Errorf("invalid ocr engine %q (valid: none, ollama, gemini)", *c.ocrEngine)
	}
}
