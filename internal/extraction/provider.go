package extraction

import (
	"context"

	"github.com/go-faster/jx"
)

// Envelope is the raw success reply of an extraction service. Its payload is
// the first choice's message content, a JSON string matching the schema.
type Envelope []byte

// Provider sends a composed request to an extraction service
type Provider interface {
	// Submit performs one extraction call. It returns the raw envelope, a
	// *TransportError or a *ServiceError.
	Submit(ctx context.Context, req Request) (Envelope, error)
	// Close releases the provider's resources
	Close() error
}

// chatEnvelope wraps content the way a chat completion reply does, so that
// services with a different reply shape share one decoder
func chatEnvelope(content string) Envelope {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("choices", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("index", func(e *jx.Encoder) { e.Int(0) })
					e.Field("message", func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							e.Field("role", func(e *jx.Encoder) { e.Str("assistant") })
							e.Field("content", func(e *jx.Encoder) { e.Str(content) })
						})
					})
				})
			})
		})
	})
	return Envelope(e.Bytes())
}

// emptyEnvelope is a reply without choices
func emptyEnvelope() Envelope {
	return Envelope(`{"choices":[]}`)
}

// maskCredential returns a short, non-identifying prefix of a credential for logs
func maskCredential(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "…"
	}
	return key[:visible] + "…"
}
