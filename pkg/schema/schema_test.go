package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niiniyare/abacgate/pkg/abac"
	"github.com/niiniyare/abacgate/pkg/schema"
)

func identityDefs() []abac.IdentityDefinition {
	return []abac.IdentityDefinition{
		{IdentityType: "User", Schema: map[string]any{
			"type": "object", "required": []any{"id"},
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
		}},
	}
}

func resourceDefs() []abac.ResourceDefinition {
	return []abac.ResourceDefinition{
		{
			ResourceType: "Document",
			Actions:      []string{"Document:Read", "Document:Write"},
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"owner": map[string]any{"type": "string"}},
			},
			ParentTypes: []string{"Folder"},
		},
		{ResourceType: "Folder", Actions: []string{"Folder:List"}},
	}
}

func TestBuilder_GrantSchema_RequiredAndEnums(t *testing.T) {
	b := schema.NewBuilder(identityDefs(), resourceDefs())
	gs := b.GrantSchema()
	assert.Equal(t, "object", gs["type"])
	required, _ := gs["required"].([]any)
	assert.Contains(t, required, "effect")
	assert.Contains(t, required, "query")
}

func TestBuilder_RequestSchema_EnumsReflectDefinitions(t *testing.T) {
	b := schema.NewBuilder(identityDefs(), resourceDefs())
	rs := b.RequestSchema()
	props, _ := rs["properties"].(map[string]any)
	resourceType, _ := props["resource_type"].(map[string]any)
	enum, _ := resourceType["enum"].([]any)
	assert.ElementsMatch(t, []any{"Document", "Folder"}, enum)
}

func TestBuilder_DeclaredActions(t *testing.T) {
	b := schema.NewBuilder(identityDefs(), resourceDefs())
	declared := b.DeclaredActions()
	_, ok := declared["Document:Read"]
	assert.True(t, ok)
	_, ok = declared["Nonexistent:Action"]
	assert.False(t, ok)
}

func TestValidateDefinitions_RejectsDuplicateAction(t *testing.T) {
	dupResources := []abac.ResourceDefinition{
		{ResourceType: "Document", Actions: []string{"Shared:Action"}},
		{ResourceType: "Folder", Actions: []string{"Shared:Action"}},
	}
	result := schema.ValidateDefinitions(nil, identityDefs(), dupResources)
	require.False(t, result.Valid)
	require.NotEmpty(t, result.Errors.Definition)
	assert.Contains(t, result.Errors.Definition[0].Message, "Shared:Action")
}

func TestValidateDefinitions_RejectsUndeclaredParentType(t *testing.T) {
	resources := []abac.ResourceDefinition{
		{ResourceType: "Document", Actions: []string{"Document:Read"}, ParentTypes: []string{"Ghost"}},
	}
	result := schema.ValidateDefinitions(nil, nil, resources)
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors.Definition[0].Message, "Ghost")
}

func TestValidateDefinitions_AcceptsWellFormedSet(t *testing.T) {
	result := schema.ValidateDefinitions(nil, identityDefs(), resourceDefs())
	assert.True(t, result.Valid)
}

func TestValidators_ValidateGrant_RejectsUndeclaredAction(t *testing.T) {
	builder := schema.NewBuilder(identityDefs(), resourceDefs())
	v := schema.NewValidators(builder, nil)

	grant := abac.Grant{
		Name: "bad-grant", Effect: abac.EffectAllow, Query: "true",
		Actions: []string{"Document:Delete"},
	}
	result := v.ValidateGrant(context.Background(), grant)
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors.Grant[0].Message, "Document:Delete")
}

func TestValidators_ValidateGrant_AcceptsDeclaredAction(t *testing.T) {
	builder := schema.NewBuilder(identityDefs(), resourceDefs())
	v := schema.NewValidators(builder, nil)

	grant := abac.Grant{
		Name: "good-grant", Effect: abac.EffectAllow, Query: "true",
		Actions: []string{"Document:Read"},
	}
	result := v.ValidateGrant(context.Background(), grant)
	assert.True(t, result.Valid)
}

func TestValidators_ValidateRequest_RejectsUndeclaredResourceType(t *testing.T) {
	builder := schema.NewBuilder(identityDefs(), resourceDefs())
	v := schema.NewValidators(builder, nil)

	req := abac.Request{
		Identities:   map[string][]abac.JSON{"User": {map[string]any{"id": "u1"}}},
		ResourceType: "Spreadsheet",
		Action:       "Document:Read",
		Resource:     map[string]any{"owner": "u1"},
	}
	result := v.ValidateRequest(context.Background(), req)
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors.Request[0].Message, "Spreadsheet")
}

// TestValidators_ValidateRequest_AcceptsTypedIdentityMaps exercises the structural-instance path
// with the concrete map/slice types abac.Request actually carries (map[string][]abac.JSON, not
// the literal map[string]any / []any types), which previously caused every request to fail
// validation with a spurious "expected object" error on the identities field.
func TestValidators_ValidateRequest_AcceptsTypedIdentityMaps(t *testing.T) {
	builder := schema.NewBuilder(identityDefs(), resourceDefs())
	v := schema.NewValidators(builder, nil)

	req := abac.Request{
		Identities:   map[string][]abac.JSON{"User": {map[string]any{"id": "u1"}}},
		ResourceType: "Document",
		Action:       "Document:Read",
		Resource:     map[string]any{"owner": "u1"},
	}
	result := v.ValidateRequest(context.Background(), req)
	assert.True(t, result.Valid, "unexpected errors: %+v", result.Errors)
}

func TestValidators_ValidateRequest_RejectsUndeclaredIdentityType(t *testing.T) {
	builder := schema.NewBuilder(identityDefs(), resourceDefs())
	v := schema.NewValidators(builder, nil)

	req := abac.Request{
		Identities:   map[string][]abac.JSON{"Service": {map[string]any{"id": "svc1"}}},
		ResourceType: "Document",
		Action:       "Document:Read",
		Resource:     map[string]any{"owner": "u1"},
	}
	result := v.ValidateRequest(context.Background(), req)
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors.Request[0].Message, "Service")
}

func TestValidators_ValidateRequest_RejectsUndeclaredAction(t *testing.T) {
	builder := schema.NewBuilder(identityDefs(), resourceDefs())
	v := schema.NewValidators(builder, nil)

	req := abac.Request{
		Identities:   map[string][]abac.JSON{"User": {map[string]any{"id": "u1"}}},
		ResourceType: "Document",
		Action:       "Document:Delete",
		Resource:     map[string]any{"owner": "u1"},
	}
	result := v.ValidateRequest(context.Background(), req)
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors.Request[0].Message, "Document:Delete")
}

func TestStructuralValidator_ValidateInstance_TypedSliceItems(t *testing.T) {
	v := schema.NewStructuralValidator()
	sch := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	// a concrete []abac.JSON, not a literal []any, exercises isSliceLike the same way a
	// map[string][]abac.JSON entry does.
	instance := []abac.JSON{"a", "b", "c"}
	err := v.ValidateInstance(context.Background(), sch, instance)
	assert.NoError(t, err)
}

func TestStructuralValidator_ValidateInstance_RejectsWrongType(t *testing.T) {
	v := schema.NewStructuralValidator()
	sch := map[string]any{"type": "string"}
	err := v.ValidateInstance(context.Background(), sch, 42)
	assert.Error(t, err)
}

func TestStructuralValidator_ValidateSchema_RejectsNonObject(t *testing.T) {
	v := schema.NewStructuralValidator()
	err := v.ValidateSchema("not-a-schema")
	assert.Error(t, err)
}
