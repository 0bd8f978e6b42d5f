// Package requestid propagates request IDs through contexts and logs.
package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header carrying the request ID.
const Header = "X-Request-ID"

const maxInboundLen = 128

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Accept reuses a caller-supplied ID when it is printable and short,
// otherwise it generates one.
func Accept(ctx context.Context, inbound string) (context.Context, string) {
	inbound = strings.TrimSpace(inbound)
	if inbound == "" || len(inbound) > maxInboundLen || strings.ContainsFunc(inbound, func(r rune) bool {
		return r < 0x21 || r > 0x7e
	}) {
		return New(ctx)
	}
	return WithRequestID(ctx, inbound), inbound
}

// Logger returns logger annotated with the context's request ID, if any.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}
