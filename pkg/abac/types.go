package abac

import "time"

// JSON is a free-form JSON value: an object, array, string, number, bool, or nil. Grants,
// requests, and contexts are represented at this level to avoid round-trip loss through the
// expression-language evaluator.
type JSON = any

// IdentityDefinition declares a category of caller (User, Service, Role, …).
type IdentityDefinition struct {
	IdentityType string `json:"identity_type"`
	Schema       JSON   `json:"schema"`
}

// ResourceDefinition declares a category of protected resource and the actions that can be
// taken on it.
type ResourceDefinition struct {
	ResourceType string   `json:"resource_type"`
	Actions      []string `json:"actions"`
	Schema       JSON     `json:"schema"`
	ParentTypes  []string `json:"parent_types,omitempty"`
	ChildTypes   []string `json:"child_types,omitempty"`
}

// Grant is a declarative policy record: an effect, an action filter, and a predicate
// expression evaluated against a request.
type Grant struct {
	GrantUUID         string            `json:"grant_uuid,omitempty"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
	Effect            Effect            `json:"effect"`
	Actions           []string          `json:"actions,omitempty"`
	Query             string            `json:"query"`
	QueryValidation   QueryValidation   `json:"query_validation,omitempty"`
	Equality          bool              `json:"equality"`
	Data              JSON              `json:"data,omitempty"`
	ContextSchema     JSON              `json:"context_schema,omitempty"`
	ContextValidation ContextValidation `json:"context_validation,omitempty"`
}

// Clone returns a deep copy of the grant so that callers mutating a returned value cannot
// mutate engine state.
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	cp := *g
	if g.Tags != nil {
		cp.Tags = make(map[string]string, len(g.Tags))
		for k, v := range g.Tags {
			cp.Tags[k] = v
		}
	}
	if g.Actions != nil {
		cp.Actions = append([]string(nil), g.Actions...)
	}
	cp.Data = deepCopyJSON(g.Data)
	cp.ContextSchema = deepCopyJSON(g.ContextSchema)
	return &cp
}

// MatchesAction reports whether the grant applies to the given action: an empty Actions list
// is a wildcard that matches every action.
func (g *Grant) MatchesAction(action string) bool {
	if len(g.Actions) == 0 {
		return true
	}
	for _, a := range g.Actions {
		if a == action {
			return true
		}
	}
	return false
}

func deepCopyJSON(v JSON) JSON {
	switch t := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(t))
		for k, val := range t {
			cp[k] = deepCopyJSON(val)
		}
		return cp
	case []any:
		cp := make([]any, len(t))
		for i, val := range t {
			cp[i] = deepCopyJSON(val)
		}
		return cp
	default:
		return v
	}
}

// Request describes a caller, a target resource, an action, and ambient context submitted for
// an authorization decision.
type Request struct {
	Identities map[string][]JSON `json:"identities"`
	ResourceType string          `json:"resource_type"`
	Action       string          `json:"action"`
	Resource     JSON            `json:"resource"`
	Parents      map[string][]JSON `json:"parents,omitempty"`
	Children     map[string][]JSON `json:"children,omitempty"`
	Context      JSON            `json:"context,omitempty"`

	// QueryValidation/ContextValidation, when non-empty, override a matched grant's own
	// validation-policy tags for the duration of this request.
	QueryValidation   QueryValidation   `json:"query_validation,omitempty"`
	ContextValidation ContextValidation `json:"context_validation,omitempty"`
}

// Latch is a cross-process one-shot flag used for cooperative cancellation across tasks or
// processes: created before a scan, optionally set by any worker to abort peers, deleted after
// the scan.
type Latch struct {
	StorageLatchUUID string    `json:"storage_latch_uuid"`
	Set              bool      `json:"set"`
	CreatedAt        time.Time `json:"created_at"`
}

// ErrorEntry is one item in an ErrorBucket list.
type ErrorEntry struct {
	Message  string `json:"message"`
	Critical bool   `json:"critical"`

	// Contextual fields; which ones are populated depends on which bucket the entry lives in.
	Grant          *Grant `json:"grant,omitempty"`
	DefinitionType string `json:"definition_type,omitempty"`
	Definition     JSON   `json:"definition,omitempty"`
	Field          string `json:"field,omitempty"`
}

// ErrorBucket partitions accumulated errors by the component that raised them.
type ErrorBucket struct {
	Context    []ErrorEntry `json:"context,omitempty"`
	Definition []ErrorEntry `json:"definition,omitempty"`
	Grant      []ErrorEntry `json:"grant,omitempty"`
	JMESPath   []ErrorEntry `json:"jmespath,omitempty"`
	Request    []ErrorEntry `json:"request,omitempty"`
}

// Empty reports whether no errors have been recorded in any bucket.
func (b ErrorBucket) Empty() bool {
	return len(b.Context) == 0 && len(b.Definition) == 0 && len(b.Grant) == 0 &&
		len(b.JMESPath) == 0 && len(b.Request) == 0
}

// HasCritical reports whether any recorded entry, in any bucket, is critical.
func (b ErrorBucket) HasCritical() bool {
	for _, list := range [][]ErrorEntry{b.Context, b.Definition, b.Grant, b.JMESPath, b.Request} {
		for _, e := range list {
			if e.Critical {
				return true
			}
		}
	}
	return false
}

// ValidationResult is returned by every validator in pkg/schema.
type ValidationResult struct {
	Valid  bool        `json:"valid"`
	Errors ErrorBucket `json:"errors"`
}

// Decision is the response of authorize(request).
type Decision struct {
	Authorized bool        `json:"authorized"`
	Completed  bool        `json:"completed"`
	Grant      *Grant      `json:"grant,omitempty"`
	Message    string      `json:"message"`
	Errors     ErrorBucket `json:"errors"`
}

// PageRef is an opaque, storage-issued cursor identifying a position in a filtered
// enumeration. Its internal structure belongs to the storage implementation.
type PageRef = string

// GrantsPage is the result of Storage.GetGrantsPage.
type GrantsPage struct {
	Grants      []Grant  `json:"grants"`
	NextPageRef *PageRef `json:"next_page_ref,omitempty"`
}

// PageRefsPage is the result of Storage.GetGrantPageRefsPage: cursors enumerated without
// fetching their payloads, so the caller can fan them out to workers.
type PageRefsPage struct {
	PageRefs    []PageRef `json:"page_refs"`
	NextPageRef *PageRef  `json:"next_page_ref,omitempty"`
}

// AuditResult is the response of audit_page(request, page_ref): the same scan as authorize, but
// returning the matching grants for one slab rather than a yes/no decision.
type AuditResult struct {
	Completed   bool        `json:"completed"`
	Grants      []Grant     `json:"grants"`
	Errors      ErrorBucket `json:"errors"`
	NextPageRef *PageRef    `json:"next_page_ref,omitempty"`
}

// GrantFilter narrows a storage scan to grants matching an effect and/or action.
type GrantFilter struct {
	Effect *Effect
	Action *string
}
