package compute

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/niiniyare/abacgate/pkg/abac"
	"github.com/niiniyare/abacgate/pkg/kernel"
	"github.com/niiniyare/abacgate/pkg/storage"
	"github.com/niiniyare/abacgate/pkg/tracing"
)

// ReferenceOptions configures a Reference compute.
type ReferenceOptions struct {
	GrantsPageSize int
	RefsPageSize   int

	// ParallelPaging, when true and the paired storage supports it, makes every slab a batch of
	// page references whose payloads are fetched concurrently via errgroup and merged in ref
	// order, rather than a single sequentially fetched page.
	ParallelPaging bool

	// Tracer, when set, wraps each parallel fan-out in a span.
	Tracer tracing.Service
}

func (o ReferenceOptions) withDefaults() ReferenceOptions {
	if o.GrantsPageSize <= 0 {
		o.GrantsPageSize = 50
	}
	if o.RefsPageSize <= 0 {
		o.RefsPageSize = 50
	}
	if o.Tracer == nil {
		o.Tracer = tracing.NewNoop()
	}
	return o
}

// Reference is the single-process Compute: it drives the storage scan directly on the calling
// goroutine, with an optional errgroup-based parallel-paging fast path.
type Reference struct {
	storage storage.Storage
	matcher *kernel.Matcher
	opts    ReferenceOptions
}

func NewReference(store storage.Storage, matcher *kernel.Matcher, opts ReferenceOptions) *Reference {
	return &Reference{storage: store, matcher: matcher, opts: opts.withDefaults()}
}

func (r *Reference) Locality() abac.ModuleLocality { return abac.LocalityProcess }

// WithOverrides returns a Reference sharing this one's storage and matcher but with any
// non-nil pagination/parallelism parameter replaced, for a single caller-scoped call. Reference
// holds no per-request mutable state, so constructing one ad hoc is cheap.
func (r *Reference) WithOverrides(grantsPageSize, refsPageSize *int, parallelPaging *bool) *Reference {
	opts := r.opts
	if grantsPageSize != nil {
		opts.GrantsPageSize = *grantsPageSize
	}
	if refsPageSize != nil {
		opts.RefsPageSize = *refsPageSize
	}
	if parallelPaging != nil {
		opts.ParallelPaging = *parallelPaging
	}
	return &Reference{storage: r.storage, matcher: r.matcher, opts: opts.withDefaults()}
}

// Authorize scans deny grants for the request's action first; any match denies. Absent a deny
// match, it scans allow grants; the first match authorizes. Exhausting both without a match
// denies with Completed true.
func (r *Reference) Authorize(ctx context.Context, req abac.Request) (abac.Decision, error) {
	if decision, done, err := r.scanForEffect(ctx, req, abac.EffectDeny, true); err != nil {
		return abac.Decision{}, err
	} else if done {
		return decision, nil
	}

	decision, _, err := r.scanForEffect(ctx, req, abac.EffectAllow, false)
	if err != nil {
		return abac.Decision{}, err
	}
	return decision, nil
}

// scanForEffect walks every slab of grants carrying the given effect, running the kernel against
// each. denyPhase controls the polarity of "found" handling: for the deny phase a match means
// stop-and-deny; for the allow phase a match means stop-and-allow.
func (r *Reference) scanForEffect(ctx context.Context, req abac.Request, effect abac.Effect, denyPhase bool) (abac.Decision, bool, error) {
	action := req.Action
	filter := abac.GrantFilter{Effect: &effect, Action: &action}

	var pageRef abac.PageRef
	var bucket abac.ErrorBucket
	for {
		grants, nextRef, err := r.fetchSlab(ctx, filter, pageRef)
		if err != nil {
			return abac.Decision{}, false, err
		}

		for _, grant := range grants {
			res := r.matcher.Match(ctx, req, grant)
			bucket = mergeBucket(bucket, res.Errors)
			if res.Errors.HasCritical() {
				return abac.Decision{Completed: false, Errors: bucket}, true, nil
			}
			if res.Matched {
				g := grant
				if denyPhase {
					return abac.Decision{
						Authorized: false, Completed: true, Grant: &g,
						Message: "denied by grant " + grant.Name, Errors: bucket,
					}, true, nil
				}
				return abac.Decision{
					Authorized: true, Completed: true, Grant: &g,
					Message: "authorized by grant " + grant.Name, Errors: bucket,
				}, true, nil
			}
		}

		if nextRef == nil {
			break
		}
		pageRef = *nextRef
	}

	phase := "allow"
	if denyPhase {
		phase = "deny"
	}
	return abac.Decision{
		Authorized: false, Completed: true,
		Message: "no matching " + phase + " grant", Errors: bucket,
	}, false, nil
}

// AuditPage processes exactly one slab: a single grants page, or — when ParallelPaging is
// enabled and the storage supports it — one batch of concurrently resolved page references.
func (r *Reference) AuditPage(ctx context.Context, req abac.Request, pageRef abac.PageRef) (abac.AuditResult, error) {
	filter := abac.GrantFilter{Action: &req.Action}

	grants, nextRef, err := r.fetchSlab(ctx, filter, pageRef)
	if err != nil {
		return abac.AuditResult{}, err
	}

	var matched []abac.Grant
	var bucket abac.ErrorBucket
	for _, grant := range grants {
		res := r.matcher.Match(ctx, req, grant)
		bucket = mergeBucket(bucket, res.Errors)
		if res.Errors.HasCritical() {
			return abac.AuditResult{Completed: false, Errors: bucket}, nil
		}
		if res.Matched {
			matched = append(matched, grant)
		}
	}

	return abac.AuditResult{Completed: true, Grants: matched, Errors: bucket, NextPageRef: nextRef}, nil
}

// fetchSlab returns the next slab of the scan. Sequential mode fetches one storage page; parallel
// mode enumerates a batch of page refs and resolves their payloads concurrently, merging in ref
// order so the slab's grant order matches what the sequential scan would have produced.
func (r *Reference) fetchSlab(ctx context.Context, filter abac.GrantFilter, pageRef abac.PageRef) ([]abac.Grant, *abac.PageRef, error) {
	if !r.opts.ParallelPaging || !r.storage.ParallelPagingSupported() {
		page, err := r.storage.GetGrantsPage(ctx, filter, pageRef, r.opts.GrantsPageSize)
		if err != nil {
			return nil, nil, err
		}
		return page.Grants, page.NextPageRef, nil
	}

	ctx, span := r.opts.Tracer.StartSpan(ctx, "audit_page.parallel_fanout")
	defer span.End()

	refsPage, err := r.storage.GetGrantPageRefsPage(ctx, filter, pageRef, r.opts.GrantsPageSize, r.opts.RefsPageSize)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	span.SetAttributes(tracing.FanOutAttributes(len(refsPage.PageRefs))...)

	pages := make([]abac.GrantsPage, len(refsPage.PageRefs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refsPage.PageRefs {
		i, ref := i, ref
		g.Go(func() error {
			p, err := r.storage.FetchPage(gctx, ref)
			if err != nil {
				return err
			}
			pages[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	var grants []abac.Grant
	for _, p := range pages {
		grants = append(grants, p.Grants...)
	}
	return grants, refsPage.NextPageRef, nil
}

func mergeBucket(a, b abac.ErrorBucket) abac.ErrorBucket {
	a.Context = append(a.Context, b.Context...)
	a.Definition = append(a.Definition, b.Definition...)
	a.Grant = append(a.Grant, b.Grant...)
	a.JMESPath = append(a.JMESPath, b.JMESPath...)
	a.Request = append(a.Request, b.Request...)
	return a
}
