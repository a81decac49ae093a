// Package compute implements the deny-overrides-allow scanning algorithm over a Storage
// substrate: given a request, scan deny grants first (any match denies outright), then allow
// grants (first match authorizes). Three flavors share this algorithm at different levels of
// concurrency: Reference (single-process, optional parallel paging), FanOut (worker pool with
// cooperative-cancellation latches), and Delegated (pool of inner Compute/Storage pairs).
package compute

import (
	"context"

	"github.com/niiniyare/abacgate/pkg/abac"
)

// Compute is the substrate the engine façade drives to turn a request into a Decision, or one
// page into an AuditResult.
type Compute interface {
	// Authorize runs the full deny-then-allow scan to completion and returns a yes/no decision.
	Authorize(ctx context.Context, req abac.Request) (abac.Decision, error)

	// AuditPage runs the same algorithm restricted to a single page (or, for Reference with
	// parallel paging enabled, a single batch of pages) and returns the matching grants rather
	// than a decision.
	AuditPage(ctx context.Context, req abac.Request, pageRef abac.PageRef) (abac.AuditResult, error)

	// Locality reports this compute's deployment scope, checked against the paired storage's
	// locality by the engine façade before Start.
	Locality() abac.ModuleLocality
}
