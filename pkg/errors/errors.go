// Package errors implements the engine's two-tier error taxonomy: specification errors, which
// carry a structured error bucket produced by validation or kernel evaluation, and SDK errors,
// which are library mechanics rather than authorization policy.
package errors

import (
	"fmt"

	"github.com/niiniyare/abacgate/pkg/abac"
)

// ─── SPECIFICATION ERRORS ─────────────────────────────────────────────

// SpecificationKind names one of the five specification-error variants.
type SpecificationKind string

const (
	KindContext    SpecificationKind = "context"
	KindDefinition SpecificationKind = "definition"
	KindGrant      SpecificationKind = "grant"
	KindJMESPath   SpecificationKind = "jmespath"
	KindRequest    SpecificationKind = "request"
)

// SpecificationError signals that an operation aborted because a critical entry was recorded
// in its error bucket. completed is always false when a SpecificationError is raised.
type SpecificationError struct {
	Kind    SpecificationKind
	Message string
	Errors  abac.ErrorBucket
}

func (e *SpecificationError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func NewContextError(msg string, bucket abac.ErrorBucket) *SpecificationError {
	return &SpecificationError{Kind: KindContext, Message: msg, Errors: bucket}
}

func NewDefinitionError(msg string, bucket abac.ErrorBucket) *SpecificationError {
	return &SpecificationError{Kind: KindDefinition, Message: msg, Errors: bucket}
}

func NewGrantError(msg string, bucket abac.ErrorBucket) *SpecificationError {
	return &SpecificationError{Kind: KindGrant, Message: msg, Errors: bucket}
}

func NewJMESPathError(msg string, bucket abac.ErrorBucket) *SpecificationError {
	return &SpecificationError{Kind: KindJMESPath, Message: msg, Errors: bucket}
}

func NewRequestError(msg string, bucket abac.ErrorBucket) *SpecificationError {
	return &SpecificationError{Kind: KindRequest, Message: msg, Errors: bucket}
}

// FromBucket maps a bucket's critical entries to the specification error that aborts the
// operation. The first bucket (in context, definition, grant, jmespath, request order) holding a
// critical entry decides the kind; nil when no entry is critical.
func FromBucket(bucket abac.ErrorBucket) *SpecificationError {
	firstCritical := func(entries []abac.ErrorEntry) (string, bool) {
		for _, e := range entries {
			if e.Critical {
				return e.Message, true
			}
		}
		return "", false
	}
	if msg, ok := firstCritical(bucket.Context); ok {
		return NewContextError(msg, bucket)
	}
	if msg, ok := firstCritical(bucket.Definition); ok {
		return NewDefinitionError(msg, bucket)
	}
	if msg, ok := firstCritical(bucket.Grant); ok {
		return NewGrantError(msg, bucket)
	}
	if msg, ok := firstCritical(bucket.JMESPath); ok {
		return NewJMESPathError(msg, bucket)
	}
	if msg, ok := firstCritical(bucket.Request); ok {
		return NewRequestError(msg, bucket)
	}
	return nil
}

// IsSpecificationError reports whether err is a *SpecificationError of the given kind.
func IsSpecificationError(err error, kind SpecificationKind) bool {
	se, ok := err.(*SpecificationError)
	return ok && se.Kind == kind
}

// ─── SDK ERRORS ─────────────────────────────────────────────

// SDKCode names one of the library-mechanics error variants.
type SDKCode string

const (
	CodeStartError                     SDKCode = "START_ERROR"
	CodeLocalityIncompatibility        SDKCode = "LOCALITY_INCOMPATIBILITY"
	CodeGrantNotFound                  SDKCode = "GRANT_NOT_FOUND"
	CodeLatchNotFound                  SDKCode = "LATCH_NOT_FOUND"
	CodeNotImplemented                 SDKCode = "NOT_IMPLEMENTED"
	CodeParallelPaginationNotSupported SDKCode = "PARALLEL_PAGINATION_NOT_SUPPORTED"
	CodePageReference                  SDKCode = "PAGE_REFERENCE_ERROR"
)

// SDKError is a library-mechanics error: it never ends up in an ErrorBucket and is always
// raised directly to the caller.
type SDKError struct {
	Code    SDKCode
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is comparisons by SDK code, ignoring message/cause.
func (e *SDKError) Is(target error) bool {
	t, ok := target.(*SDKError)
	return ok && t.Code == e.Code
}

func NewStartError(msg string, cause error) *SDKError {
	return &SDKError{Code: CodeStartError, Message: msg, Cause: cause}
}

func NewLocalityIncompatibilityError(compute, storage abac.ModuleLocality) *SDKError {
	return &SDKError{
		Code: CodeLocalityIncompatibility,
		Message: fmt.Sprintf("storage locality %s is not compatible with compute locality %s",
			storage, compute),
	}
}

func NewGrantNotFoundError(grantUUID string) *SDKError {
	return &SDKError{Code: CodeGrantNotFound, Message: fmt.Sprintf("grant %s not found", grantUUID)}
}

func NewLatchNotFoundError(latchUUID string) *SDKError {
	return &SDKError{Code: CodeLatchNotFound, Message: fmt.Sprintf("latch %s not found", latchUUID)}
}

func NewNotImplementedError(op string) *SDKError {
	return &SDKError{Code: CodeNotImplemented, Message: fmt.Sprintf("%s is not implemented", op)}
}

func NewParallelPaginationNotSupportedError(storageName string) *SDKError {
	return &SDKError{
		Code:    CodeParallelPaginationNotSupported,
		Message: fmt.Sprintf("storage %q does not support parallel pagination", storageName),
	}
}

func NewPageReferenceError(pageRef string, cause error) *SDKError {
	return &SDKError{
		Code:    CodePageReference,
		Message: fmt.Sprintf("invalid page reference %q", pageRef),
		Cause:   cause,
	}
}

// IsSDKError reports whether err is an *SDKError of the given code.
func IsSDKError(err error, code SDKCode) bool {
	se, ok := err.(*SDKError)
	return ok && se.Code == code
}
