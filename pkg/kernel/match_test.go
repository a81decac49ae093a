package kernel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niiniyare/abacgate/pkg/abac"
	"github.com/niiniyare/abacgate/pkg/kernel"
	"github.com/niiniyare/abacgate/pkg/query"
)

func newMatcher(t *testing.T) *kernel.Matcher {
	t.Helper()
	ev, err := query.NewEvaluator(query.Options{})
	require.NoError(t, err)
	t.Cleanup(ev.Close)
	return kernel.NewMatcher(ev, nil)
}

func TestMatch_ActionFilterMiss(t *testing.T) {
	m := newMatcher(t)
	req := abac.Request{Action: "read", ResourceType: "document"}
	grant := abac.Grant{Name: "write-only", Actions: []string{"write"}, Query: "true"}

	res := m.Match(context.Background(), req, grant)

	assert.False(t, res.Matched)
	assert.True(t, res.Errors.Empty())
}

func TestMatch_WildcardActionAndTruthyQuery(t *testing.T) {
	m := newMatcher(t)
	req := abac.Request{
		Action:       "read",
		ResourceType: "document",
		Resource:     map[string]any{"owner": "alice"},
		Identities:   map[string][]abac.JSON{"user": {map[string]any{"name": "alice"}}},
	}
	grant := abac.Grant{
		Name:     "owner-can-read",
		Query:    `identities.user[0].name == resource.owner`,
		Equality: true,
	}

	res := m.Match(context.Background(), req, grant)

	assert.True(t, res.Matched)
	assert.True(t, res.Errors.Empty())
}

func TestMatch_QueryFalseDoesNotMatch(t *testing.T) {
	m := newMatcher(t)
	req := abac.Request{
		Action:   "read",
		Resource: map[string]any{"owner": "bob"},
		Identities: map[string][]abac.JSON{
			"user": {map[string]any{"name": "alice"}},
		},
	}
	grant := abac.Grant{
		Name:     "owner-can-read",
		Query:    `identities.user[0].name == resource.owner`,
		Equality: true,
	}

	res := m.Match(context.Background(), req, grant)

	assert.False(t, res.Matched)
}

func TestMatch_EqualityRequiresExactBooleanTrue(t *testing.T) {
	m := newMatcher(t)
	req := abac.Request{Action: "read"}
	grant := abac.Grant{Name: "literal-string", Query: `"yes"`, Equality: true}

	res := m.Match(context.Background(), req, grant)

	assert.False(t, res.Matched, "non-bool result must not satisfy an equality grant")
}

func TestMatch_QueryErrorWithValidationNoneIsNonCritical(t *testing.T) {
	m := newMatcher(t)
	req := abac.Request{Action: "read"}
	grant := abac.Grant{Name: "broken", Query: `undefinedVar.field`, QueryValidation: abac.QueryValidationNone}

	res := m.Match(context.Background(), req, grant)

	assert.False(t, res.Matched)
	require.Len(t, res.Errors.JMESPath, 1)
	assert.False(t, res.Errors.JMESPath[0].Critical)
}

func TestMatch_QueryErrorWithValidationErrorIsCritical(t *testing.T) {
	m := newMatcher(t)
	req := abac.Request{Action: "read"}
	grant := abac.Grant{Name: "broken", Query: `undefinedVar.field`, QueryValidation: abac.QueryValidationError}

	res := m.Match(context.Background(), req, grant)

	assert.False(t, res.Matched)
	require.Len(t, res.Errors.JMESPath, 1)
	assert.True(t, res.Errors.JMESPath[0].Critical)
}

func TestMatch_ContextSchemaMismatchDisqualifiesGrant(t *testing.T) {
	m := newMatcher(t)
	req := abac.Request{Action: "read", Context: map[string]any{}}
	grant := abac.Grant{
		Name:              "needs-mfa",
		Query:             "true",
		ContextValidation: abac.ContextValidationGrant,
		ContextSchema: map[string]any{
			"type":     "object",
			"required": []any{"mfa"},
		},
	}

	res := m.Match(context.Background(), req, grant)

	assert.False(t, res.Matched)
	require.Len(t, res.Errors.Context, 1)
	assert.False(t, res.Errors.Context[0].Critical)
}

func TestMatch_RequestOverridesGrantValidationPolicy(t *testing.T) {
	m := newMatcher(t)
	req := abac.Request{Action: "read", QueryValidation: abac.QueryValidationError}
	grant := abac.Grant{Name: "broken", Query: `undefinedVar.field`, QueryValidation: abac.QueryValidationNone}

	res := m.Match(context.Background(), req, grant)

	require.Len(t, res.Errors.JMESPath, 1)
	assert.True(t, res.Errors.JMESPath[0].Critical, "request-level policy should override the grant's own")
}
