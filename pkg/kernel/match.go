// Package kernel implements the grant-matching algorithm: given a request and a single grant,
// decide whether the grant applies. The kernel depends only on the query.Searcher and
// schema.Validator collaborator interfaces, never on a concrete storage or compute substrate.
package kernel

import (
	"context"
	"fmt"

	"github.com/niiniyare/abacgate/pkg/abac"
	"github.com/niiniyare/abacgate/pkg/query"
	"github.com/niiniyare/abacgate/pkg/schema"
)

// Matcher evaluates one grant against one request.
type Matcher struct {
	searcher  query.Searcher
	validator schema.Validator
}

func NewMatcher(searcher query.Searcher, validator schema.Validator) *Matcher {
	if validator == nil {
		validator = schema.NewStructuralValidator()
	}
	return &Matcher{searcher: searcher, validator: validator}
}

// Result is the outcome of matching one grant against one request.
type Result struct {
	// Matched is true only when every applicable step passed and the query's boolean result
	// equaled the grant's expected Equality value.
	Matched bool

	// Errors accumulates non-critical and critical entries raised along the way. A critical
	// entry means the grant could not be conclusively evaluated.
	Errors abac.ErrorBucket
}

// Match runs the four-step algorithm against one grant:
//  1. action filter — grant.MatchesAction(request.Action); a miss is not an error, just no match.
//  2. context-schema validation, gated by the effective context_validation policy.
//  3. query evaluation via Searcher.Search, gated by the effective query_validation policy.
//  4. equality comparison — the query result must be a boolean equal to grant.Equality; any
//     non-boolean result is non-applicable regardless of grant.Equality.
func (m *Matcher) Match(ctx context.Context, req abac.Request, grant abac.Grant) Result {
	if !grant.MatchesAction(req.Action) {
		return Result{Matched: false}
	}

	var bucket abac.ErrorBucket

	contextValidation := grant.ContextValidation
	if req.ContextValidation != "" {
		contextValidation = req.ContextValidation
	}
	if contextValidation == "" {
		contextValidation = abac.ContextValidationNone
	}

	if grant.ContextSchema != nil && contextValidation != abac.ContextValidationNone {
		if err := m.validator.ValidateInstance(ctx, grant.ContextSchema, req.Context); err != nil {
			entry := abac.ErrorEntry{
				Message:  fmt.Sprintf("context did not satisfy grant %q's context_schema: %v", grant.Name, err),
				Critical: contextValidation == abac.ContextValidationError,
				Grant:    &grant,
			}
			bucket.Context = append(bucket.Context, entry)
			if entry.Critical {
				return Result{Matched: false, Errors: bucket}
			}
			// ContextValidationGrant: a schema mismatch disqualifies this grant without being
			// fatal to the overall decision.
			return Result{Matched: false, Errors: bucket}
		}
	}

	queryValidation := grant.QueryValidation
	if req.QueryValidation != "" {
		queryValidation = req.QueryValidation
	}
	if queryValidation == "" {
		queryValidation = abac.QueryValidationNone
	}

	data := map[string]any{
		"identities": req.Identities,
		"resource":   req.Resource,
		"parents":    req.Parents,
		"children":   req.Children,
		"context":    req.Context,
		"data":       grant.Data,
	}

	value, err := m.searcher.Search(ctx, grant.Query, data)
	if err != nil {
		entry := abac.ErrorEntry{
			Message:  fmt.Sprintf("grant %q query evaluation failed: %v", grant.Name, err),
			Critical: queryValidation == abac.QueryValidationError,
			Grant:    &grant,
		}
		bucket.JMESPath = append(bucket.JMESPath, entry)
		return Result{Matched: false, Errors: bucket}
	}

	// Per the spec, applicability is a strict structural comparison against grant.Equality:
	// only a boolean query result can match at all; any other return value is non-applicable.
	b, ok := value.(bool)
	matched := ok && b == grant.Equality

	return Result{Matched: matched, Errors: bucket}
}
