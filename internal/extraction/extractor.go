package extraction

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zombor/receipt-ledger/internal/receipt"
)

// Extractor turns raw receipt text into a Receipt using one Provider
type Extractor struct {
	provider Provider
}

// NewExtractor creates an Extractor backed by p
func NewExtractor(p Provider) *Extractor {
	return &Extractor{provider: p}
}

// Extract composes a request for text, submits it exactly once through the
// provider and decodes the reply. Errors are a *TransportError, a
// *ServiceError or a *PayloadError.
func (x *Extractor) Extract(ctx context.Context, text string) (receipt.Receipt, error) {
	slog.Debug("Extracting receipt", "text_length", len(text))

	env, err := x.provider.Submit(ctx, Compose(text))
	if err != nil {
		slog.Warn("Extraction request failed", "error", err)
		return receipt.Receipt{}, err
	}

	r, err := Decode(env)
	if err != nil {
		var payloadErr *PayloadError
		if errors.As(err, &payloadErr) {
			slog.Warn("Extraction payload rejected", "detail", payloadErr.Detail, "content", payloadErr.Content)
		}
		return receipt.Receipt{}, err
	}

	slog.Debug("Extracted receipt", "store", r.Store(), "items", len(r.Items), "total", r.Total)
	return r, nil
}

// Close closes the underlying provider
func (x *Extractor) Close() error {
	return x.provider.Close()
}
