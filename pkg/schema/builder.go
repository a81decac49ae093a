package schema

import "github.com/niiniyare/abacgate/pkg/abac"

// Builder derives the five JSON-Schema documents the engine serves from a set of identity and
// resource definitions: grant_schema, request_schema, audit_schema, authorize_schema, and
// errors_schema.
type Builder struct {
	identityDefs []abac.IdentityDefinition
	resourceDefs []abac.ResourceDefinition
}

func NewBuilder(identityDefs []abac.IdentityDefinition, resourceDefs []abac.ResourceDefinition) *Builder {
	return &Builder{identityDefs: identityDefs, resourceDefs: resourceDefs}
}

// GrantSchema describes the shape of a Grant payload.
func (b *Builder) GrantSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"name", "effect", "query", "equality"},
		"properties": map[string]any{
			"grant_uuid":         map[string]any{"type": "string"},
			"name":               map[string]any{"type": "string"},
			"description":        map[string]any{"type": "string"},
			"tags":               map[string]any{"type": "object"},
			"effect":             map[string]any{"type": "string", "enum": []any{"allow", "deny"}},
			"actions":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"query":              map[string]any{"type": "string"},
			"query_validation":   map[string]any{"type": "string", "enum": []any{"none", "validate", "error"}},
			"equality":           map[string]any{"type": "boolean"},
			"data":               map[string]any{},
			"context_schema":     map[string]any{"type": "object"},
			"context_validation": map[string]any{"type": "string", "enum": []any{"none", "grant", "error"}},
		},
	}
}

// RequestSchema describes the shape of a Request payload, reflecting the declared resource
// type's own schema where possible.
func (b *Builder) RequestSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"identities", "resource_type", "action", "resource"},
		"properties": map[string]any{
			"identities":    map[string]any{"type": "object"},
			"resource_type": map[string]any{"type": "string", "enum": b.resourceTypeEnum()},
			"action":        map[string]any{"type": "string", "enum": b.actionEnum()},
			"resource":      map[string]any{"type": "object"},
			"parents":       map[string]any{"type": "object"},
			"children":      map[string]any{"type": "object"},
			"context":       map[string]any{"type": "object"},
		},
	}
}

// AuditSchema describes the shape of an AuditResult response.
func (b *Builder) AuditSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"completed", "grants", "errors"},
		"properties": map[string]any{
			"completed":     map[string]any{"type": "boolean"},
			"grants":        map[string]any{"type": "array", "items": b.GrantSchema()},
			"errors":        b.ErrorsSchema(),
			"next_page_ref": map[string]any{"type": "string"},
		},
	}
}

// AuthorizeSchema describes the shape of a Decision response.
func (b *Builder) AuthorizeSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"authorized", "completed", "message", "errors"},
		"properties": map[string]any{
			"authorized": map[string]any{"type": "boolean"},
			"completed":  map[string]any{"type": "boolean"},
			"grant":      b.GrantSchema(),
			"message":    map[string]any{"type": "string"},
			"errors":     b.ErrorsSchema(),
		},
	}
}

// ErrorsSchema describes the shape of an ErrorBucket.
func (b *Builder) ErrorsSchema() map[string]any {
	entry := map[string]any{
		"type":     "object",
		"required": []any{"message", "critical"},
		"properties": map[string]any{
			"message":  map[string]any{"type": "string"},
			"critical": map[string]any{"type": "boolean"},
		},
	}
	list := map[string]any{"type": "array", "items": entry}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"context":    list,
			"definition": list,
			"grant":      list,
			"jmespath":   list,
			"request":    list,
		},
	}
}

func (b *Builder) resourceTypeEnum() []any {
	out := make([]any, 0, len(b.resourceDefs))
	for _, rd := range b.resourceDefs {
		out = append(out, rd.ResourceType)
	}
	return out
}

func (b *Builder) actionEnum() []any {
	var out []any
	for _, rd := range b.resourceDefs {
		for _, a := range rd.Actions {
			out = append(out, a)
		}
	}
	return out
}

// IdentitySchema returns the declared schema for an identity type, or nil if undeclared.
func (b *Builder) IdentitySchema(identityType string) (abac.JSON, bool) {
	for _, d := range b.identityDefs {
		if d.IdentityType == identityType {
			return d.Schema, true
		}
	}
	return nil, false
}

// ResourceDefinitionFor returns the declared definition for a resource type, or false if
// undeclared.
func (b *Builder) ResourceDefinitionFor(resourceType string) (abac.ResourceDefinition, bool) {
	for _, d := range b.resourceDefs {
		if d.ResourceType == resourceType {
			return d, true
		}
	}
	return abac.ResourceDefinition{}, false
}

// DeclaredActions returns the set of all actions declared across every resource definition.
func (b *Builder) DeclaredActions() map[string]struct{} {
	out := make(map[string]struct{})
	for _, rd := range b.resourceDefs {
		for _, a := range rd.Actions {
			out[a] = struct{}{}
		}
	}
	return out
}
