// Package abac holds the domain types shared across the authorization engine:
// definitions, grants, requests, decisions, and the enums that govern them.
package abac

// Effect is the outcome a grant asserts when its predicate matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

var validEffects = map[Effect]struct{}{
	EffectAllow: {},
	EffectDeny:  {},
}

func (e Effect) IsValid() bool {
	_, ok := validEffects[e]
	return ok
}

func (e Effect) String() string {
	return string(e)
}

func AllEffects() []Effect {
	return []Effect{EffectAllow, EffectDeny}
}

// QueryValidation controls how the kernel reacts when a grant's query expression fails to
// evaluate against a request.
type QueryValidation string

const (
	QueryValidationNone     QueryValidation = "none"
	QueryValidationValidate QueryValidation = "validate"
	QueryValidationError    QueryValidation = "error"
)

var validQueryValidations = map[QueryValidation]struct{}{
	QueryValidationNone:     {},
	QueryValidationValidate: {},
	QueryValidationError:    {},
}

func (q QueryValidation) IsValid() bool {
	_, ok := validQueryValidations[q]
	return ok
}

func (q QueryValidation) String() string {
	return string(q)
}

// ContextValidation controls how the kernel reacts when request.context fails a grant's
// context_schema.
type ContextValidation string

const (
	ContextValidationNone  ContextValidation = "none"
	ContextValidationGrant ContextValidation = "grant"
	ContextValidationError ContextValidation = "error"
)

var validContextValidations = map[ContextValidation]struct{}{
	ContextValidationNone:  {},
	ContextValidationGrant: {},
	ContextValidationError: {},
}

func (c ContextValidation) IsValid() bool {
	_, ok := validContextValidations[c]
	return ok
}

func (c ContextValidation) String() string {
	return string(c)
}

// ModuleLocality is the deployment scope of a compute or storage component, used to reject
// incompatible pairings in the engine façade.
type ModuleLocality string

const (
	LocalityProcess ModuleLocality = "PROCESS"
	LocalitySystem  ModuleLocality = "SYSTEM"
	LocalityNetwork ModuleLocality = "NETWORK"
)

var validLocalities = map[ModuleLocality]struct{}{
	LocalityProcess: {},
	LocalitySystem:  {},
	LocalityNetwork: {},
}

func (l ModuleLocality) IsValid() bool {
	_, ok := validLocalities[l]
	return ok
}

func (l ModuleLocality) String() string {
	return string(l)
}

// localityCompat enumerates, for a given compute locality, the set of storage localities it may
// be paired with. An in-process compute needs in-process storage or better; a networked compute
// cannot reach in-process storage belonging to a different process.
var localityCompat = map[ModuleLocality]map[ModuleLocality]struct{}{
	LocalityProcess: {
		LocalityProcess: {},
		LocalitySystem:  {},
		LocalityNetwork: {},
	},
	LocalitySystem: {
		LocalitySystem:  {},
		LocalityNetwork: {},
	},
	LocalityNetwork: {
		LocalityNetwork: {},
	},
}

// LocalityCompatible reports whether a storage of locality `storage` may be paired with a
// compute of locality `compute`.
func LocalityCompatible(compute, storage ModuleLocality) bool {
	allowed, ok := localityCompat[compute]
	if !ok {
		return false
	}
	_, ok = allowed[storage]
	return ok
}
