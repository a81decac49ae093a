package shared

import (
	"context"

	"github.com/google/uuid"

	"github.com/niiniyare/abacgate/pkg/abac"
)

type contextKey string

const (
	CallerIdentitiesKey contextKey = "caller_identities"
	CorrelationIDKey    contextKey = "correlation_id"
)

// WithCallerIdentities attaches the identities resolved for the current caller (e.g. by upstream
// middleware) so request-builders further down the call chain don't need them threaded as an
// explicit parameter. The shape matches abac.Request.Identities: identity type to instance list.
func WithCallerIdentities(ctx context.Context, identities map[string][]abac.JSON) context.Context {
	return context.WithValue(ctx, CallerIdentitiesKey, identities)
}

// CallerIdentities retrieves the identities attached by WithCallerIdentities.
func CallerIdentities(ctx context.Context) (map[string][]abac.JSON, bool) {
	identities, ok := ctx.Value(CallerIdentitiesKey).(map[string][]abac.JSON)
	return identities, ok
}

// WithCorrelationID attaches a correlation ID (e.g. an inbound request ID) used to tie together
// log lines and spans emitted across a single Authorize/AuditPage call.
func WithCorrelationID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// CorrelationID retrieves the correlation ID attached by WithCorrelationID.
func CorrelationID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(CorrelationIDKey).(uuid.UUID)
	return id, ok
}
