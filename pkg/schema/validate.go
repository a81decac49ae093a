package schema

import (
	"context"
	"fmt"

	"github.com/niiniyare/abacgate/pkg/abac"
)

// Validators bundles a Builder's derived schemas with a pluggable Validator collaborator to
// implement validate_definitions, validate_grants, and validate_request.
type Validators struct {
	builder   *Builder
	validator Validator
}

func NewValidators(builder *Builder, validator Validator) *Validators {
	if validator == nil {
		validator = NewStructuralValidator()
	}
	return &Validators{builder: builder, validator: validator}
}

// ValidateDefinitions enforces: unique identity types, unique resource types, globally unique
// action strings, every parent/child type is a declared resource type, and every schema in the
// definition set is itself a valid JSON-Schema.
func ValidateDefinitions(validator Validator, identityDefs []abac.IdentityDefinition, resourceDefs []abac.ResourceDefinition) abac.ValidationResult {
	if validator == nil {
		validator = NewStructuralValidator()
	}
	var bucket abac.ErrorBucket

	seenIdentity := make(map[string]bool)
	for _, d := range identityDefs {
		if seenIdentity[d.IdentityType] {
			bucket.Definition = append(bucket.Definition, abac.ErrorEntry{
				Message:        fmt.Sprintf("duplicate identity_type %q", d.IdentityType),
				Critical:       true,
				DefinitionType: d.IdentityType,
			})
			continue
		}
		seenIdentity[d.IdentityType] = true
		if err := validator.ValidateSchema(d.Schema); err != nil {
			bucket.Definition = append(bucket.Definition, abac.ErrorEntry{
				Message:        fmt.Sprintf("identity %q: %v", d.IdentityType, err),
				Critical:       true,
				DefinitionType: d.IdentityType,
				Definition:     d.Schema,
			})
		}
	}

	seenResource := make(map[string]bool)
	seenAction := make(map[string]string) // action -> owning resource type
	resourceTypes := make(map[string]bool)
	for _, d := range resourceDefs {
		resourceTypes[d.ResourceType] = true
	}

	for _, d := range resourceDefs {
		if seenResource[d.ResourceType] {
			bucket.Definition = append(bucket.Definition, abac.ErrorEntry{
				Message:        fmt.Sprintf("duplicate resource_type %q", d.ResourceType),
				Critical:       true,
				DefinitionType: d.ResourceType,
			})
			continue
		}
		seenResource[d.ResourceType] = true

		if err := validator.ValidateSchema(d.Schema); err != nil {
			bucket.Definition = append(bucket.Definition, abac.ErrorEntry{
				Message:        fmt.Sprintf("resource %q: %v", d.ResourceType, err),
				Critical:       true,
				DefinitionType: d.ResourceType,
				Definition:     d.Schema,
			})
		}

		for _, action := range d.Actions {
			if owner, dup := seenAction[action]; dup {
				bucket.Definition = append(bucket.Definition, abac.ErrorEntry{
					Message:        fmt.Sprintf("action %q declared by both %q and %q", action, owner, d.ResourceType),
					Critical:       true,
					DefinitionType: d.ResourceType,
				})
				continue
			}
			seenAction[action] = d.ResourceType
		}

		for _, pt := range d.ParentTypes {
			if !resourceTypes[pt] {
				bucket.Definition = append(bucket.Definition, abac.ErrorEntry{
					Message:        fmt.Sprintf("resource %q declares undeclared parent_type %q", d.ResourceType, pt),
					Critical:       true,
					DefinitionType: d.ResourceType,
				})
			}
		}
		for _, ct := range d.ChildTypes {
			if !resourceTypes[ct] {
				bucket.Definition = append(bucket.Definition, abac.ErrorEntry{
					Message:        fmt.Sprintf("resource %q declares undeclared child_type %q", d.ResourceType, ct),
					Critical:       true,
					DefinitionType: d.ResourceType,
				})
			}
		}
	}

	return abac.ValidationResult{Valid: bucket.Empty(), Errors: bucket}
}

// ValidateGrant checks a grant against the derived grant_schema and additionally that every
// listed action exists and that context_schema is itself a well-formed schema.
func (v *Validators) ValidateGrant(ctx context.Context, grant abac.Grant) abac.ValidationResult {
	var bucket abac.ErrorBucket

	instance := grantToInstance(grant)
	if err := v.validator.ValidateInstance(ctx, v.builder.GrantSchema(), instance); err != nil {
		bucket.Grant = append(bucket.Grant, abac.ErrorEntry{
			Message:  err.Error(),
			Critical: true,
			Grant:    &grant,
		})
	}

	declared := v.builder.DeclaredActions()
	for _, action := range grant.Actions {
		if _, ok := declared[action]; !ok {
			bucket.Grant = append(bucket.Grant, abac.ErrorEntry{
				Message:  fmt.Sprintf("action %q is not declared by any resource definition", action),
				Critical: true,
				Grant:    &grant,
			})
		}
	}

	if grant.ContextSchema != nil {
		if err := v.validator.ValidateSchema(grant.ContextSchema); err != nil {
			bucket.Grant = append(bucket.Grant, abac.ErrorEntry{
				Message:  fmt.Sprintf("context_schema: %v", err),
				Critical: true,
				Grant:    &grant,
			})
		}
	}

	return abac.ValidationResult{Valid: bucket.Empty(), Errors: bucket}
}

// ValidateRequest checks a request against the derived request_schema, then that action is
// declared for resource_type and that each identity entry conforms to its declared identity
// schema.
func (v *Validators) ValidateRequest(ctx context.Context, req abac.Request) abac.ValidationResult {
	var bucket abac.ErrorBucket

	instance := requestToInstance(req)
	if err := v.validator.ValidateInstance(ctx, v.builder.RequestSchema(), instance); err != nil {
		bucket.Request = append(bucket.Request, abac.ErrorEntry{Message: err.Error(), Critical: true})
	}

	rd, ok := v.builder.ResourceDefinitionFor(req.ResourceType)
	if !ok {
		bucket.Request = append(bucket.Request, abac.ErrorEntry{
			Message:  fmt.Sprintf("resource_type %q is not declared", req.ResourceType),
			Critical: true,
		})
	} else {
		found := false
		for _, a := range rd.Actions {
			if a == req.Action {
				found = true
				break
			}
		}
		if !found {
			bucket.Request = append(bucket.Request, abac.ErrorEntry{
				Message:  fmt.Sprintf("action %q is not declared for resource_type %q", req.Action, req.ResourceType),
				Critical: true,
			})
		}
		if req.Resource != nil {
			if err := v.validator.ValidateInstance(ctx, rd.Schema, req.Resource); err != nil {
				bucket.Request = append(bucket.Request, abac.ErrorEntry{
					Message:  fmt.Sprintf("resource: %v", err),
					Critical: true,
				})
			}
		}
	}

	for identityType, entries := range req.Identities {
		idSchema, declared := v.builder.IdentitySchema(identityType)
		if !declared {
			bucket.Request = append(bucket.Request, abac.ErrorEntry{
				Message:  fmt.Sprintf("identity_type %q is not declared", identityType),
				Critical: true,
			})
			continue
		}
		for i, entry := range entries {
			if err := v.validator.ValidateInstance(ctx, idSchema, entry); err != nil {
				bucket.Request = append(bucket.Request, abac.ErrorEntry{
					Message:  fmt.Sprintf("identities[%q][%d]: %v", identityType, i, err),
					Critical: true,
				})
			}
		}
	}

	return abac.ValidationResult{Valid: bucket.Empty(), Errors: bucket}
}

func grantToInstance(g abac.Grant) map[string]any {
	m := map[string]any{
		"name":     g.Name,
		"effect":   string(g.Effect),
		"query":    g.Query,
		"equality": g.Equality,
	}
	if g.GrantUUID != "" {
		m["grant_uuid"] = g.GrantUUID
	}
	if g.Description != "" {
		m["description"] = g.Description
	}
	if len(g.Actions) > 0 {
		actions := make([]any, len(g.Actions))
		for i, a := range g.Actions {
			actions[i] = a
		}
		m["actions"] = actions
	}
	return m
}

// requestToInstance mirrors what JSON encoding of the request would produce: absent optional
// payloads are omitted rather than carried as nulls, so the schema's per-property type checks
// only run against values the caller actually supplied.
func requestToInstance(r abac.Request) map[string]any {
	m := map[string]any{
		"identities":    r.Identities,
		"resource_type": r.ResourceType,
		"action":        r.Action,
	}
	if r.Resource != nil {
		m["resource"] = r.Resource
	}
	if r.Parents != nil {
		m["parents"] = r.Parents
	}
	if r.Children != nil {
		m["children"] = r.Children
	}
	if r.Context != nil {
		m["context"] = r.Context
	}
	return m
}
