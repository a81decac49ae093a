package compute

import (
	"context"
	"sync"

	"github.com/niiniyare/abacgate/pkg/abac"
	"github.com/niiniyare/abacgate/pkg/kernel"
	"github.com/niiniyare/abacgate/pkg/logger"
	"github.com/niiniyare/abacgate/pkg/metrics"
	"github.com/niiniyare/abacgate/pkg/storage"
)

// FanOutOptions configures a FanOut compute.
type FanOutOptions struct {
	Workers        int
	GrantsPageSize int

	// Logger, when set, receives a debug-level event each time a phase's latch trips.
	Logger logger.Logger

	// Metrics, when set, counts latch trips by storage locality.
	Metrics *metrics.EngineMetrics
}

func (o FanOutOptions) withDefaults() FanOutOptions {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.GrantsPageSize <= 0 {
		o.GrantsPageSize = 50
	}
	return o
}

// FanOut is a worker-pool Compute: the calling goroutine pages through storage and feeds each
// page's grants into a buffered channel, a fixed pool of workers evaluates them concurrently, and a
// shared foundLatch lets the first matching worker short-circuit its peers. The driver always
// waits for every outstanding task before returning, per the engine's suspendable-operation
// contract.
type FanOut struct {
	storage storage.Storage
	matcher *kernel.Matcher
	opts    FanOutOptions
}

func NewFanOut(store storage.Storage, matcher *kernel.Matcher, opts FanOutOptions) *FanOut {
	return &FanOut{storage: store, matcher: matcher, opts: opts.withDefaults()}
}

func (f *FanOut) Locality() abac.ModuleLocality { return abac.LocalityProcess }

func (f *FanOut) Authorize(ctx context.Context, req abac.Request) (abac.Decision, error) {
	denyDecision, found, err := f.scanPhase(ctx, req, abac.EffectDeny, true)
	if err != nil {
		return abac.Decision{}, err
	}
	if found {
		return denyDecision, nil
	}
	allowDecision, _, err := f.scanPhase(ctx, req, abac.EffectAllow, false)
	if err != nil {
		return abac.Decision{}, err
	}
	return allowDecision, nil
}

type phaseResult struct {
	mu      sync.Mutex
	matched bool
	grant   abac.Grant
	bucket  abac.ErrorBucket
	fatal   bool
}

func (r *phaseResult) record(res kernel.Result, grant abac.Grant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bucket = mergeBucket(r.bucket, res.Errors)
	if res.Errors.HasCritical() {
		r.fatal = true
		return
	}
	if res.Matched && !r.matched {
		r.matched = true
		r.grant = grant
	}
}

func (f *FanOut) scanPhase(ctx context.Context, req abac.Request, effect abac.Effect, denyPhase bool) (abac.Decision, bool, error) {
	latch, err := newFoundLatch(ctx, f.storage)
	if err != nil {
		return abac.Decision{}, false, err
	}
	defer latch.Release(ctx)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	grants := make(chan abac.Grant, f.opts.Workers*2)
	result := &phaseResult{}

	var workers sync.WaitGroup
	for i := 0; i < f.opts.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for grant := range grants {
				if set, _ := latch.IsSet(workerCtx); set {
					continue
				}
				res := f.matcher.Match(workerCtx, req, grant)
				result.record(res, grant)
				if res.Matched || res.Errors.HasCritical() {
					_ = latch.Set(workerCtx)
					if f.opts.Logger != nil {
						f.opts.Logger.Debug("fanout latch tripped", logger.LatchFields(grant.GrantUUID, true))
					}
					if f.opts.Metrics != nil {
						f.opts.Metrics.RecordLatchTrip(string(f.storage.Locality()))
					}
				}
			}
		}()
	}

	action := req.Action
	filter := abac.GrantFilter{Effect: &effect, Action: &action}
	var pageRef abac.PageRef
	var paginationErr error
paginate:
	for {
		if set, _ := latch.IsSet(ctx); set {
			break
		}
		page, err := f.storage.GetGrantsPage(ctx, filter, pageRef, f.opts.GrantsPageSize)
		if err != nil {
			paginationErr = err
			break paginate
		}
		for _, grant := range page.Grants {
			select {
			case grants <- grant:
			case <-ctx.Done():
				paginationErr = ctx.Err()
				break paginate
			}
		}
		if page.NextPageRef == nil {
			break
		}
		pageRef = *page.NextPageRef
	}
	close(grants)
	workers.Wait()

	if paginationErr != nil {
		return abac.Decision{}, false, paginationErr
	}

	result.mu.Lock()
	defer result.mu.Unlock()

	if result.fatal {
		return abac.Decision{Completed: false, Errors: result.bucket}, true, nil
	}
	if result.matched {
		g := result.grant
		if denyPhase {
			return abac.Decision{
				Authorized: false, Completed: true, Grant: &g,
				Message: "denied by grant " + g.Name, Errors: result.bucket,
			}, true, nil
		}
		return abac.Decision{
			Authorized: true, Completed: true, Grant: &g,
			Message: "authorized by grant " + g.Name, Errors: result.bucket,
		}, true, nil
	}

	phase := "allow"
	if denyPhase {
		phase = "deny"
	}
	return abac.Decision{
		Authorized: false, Completed: true,
		Message: "no matching " + phase + " grant", Errors: result.bucket,
	}, false, nil
}

// AuditPage evaluates one page's worth of grants (regardless of effect) concurrently across the
// worker pool and returns the matches, without the deny/allow short-circuit semantics of
// Authorize.
func (f *FanOut) AuditPage(ctx context.Context, req abac.Request, pageRef abac.PageRef) (abac.AuditResult, error) {
	filter := abac.GrantFilter{Action: &req.Action}
	page, err := f.storage.GetGrantsPage(ctx, filter, pageRef, f.opts.GrantsPageSize)
	if err != nil {
		return abac.AuditResult{}, err
	}

	type outcome struct {
		grant abac.Grant
		res   kernel.Result
	}
	outcomes := make(chan outcome, len(page.Grants))
	work := make(chan abac.Grant)

	var workers sync.WaitGroup
	for i := 0; i < f.opts.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for grant := range work {
				outcomes <- outcome{grant: grant, res: f.matcher.Match(ctx, req, grant)}
			}
		}()
	}
	go func() {
		for _, grant := range page.Grants {
			work <- grant
		}
		close(work)
	}()

	go func() {
		workers.Wait()
		close(outcomes)
	}()

	var matched []abac.Grant
	var bucket abac.ErrorBucket
	fatal := false
	for o := range outcomes {
		bucket = mergeBucket(bucket, o.res.Errors)
		if o.res.Errors.HasCritical() {
			fatal = true
			continue
		}
		if o.res.Matched {
			matched = append(matched, o.grant)
		}
	}

	if fatal {
		return abac.AuditResult{Completed: false, Errors: bucket}, nil
	}
	return abac.AuditResult{Completed: true, Grants: matched, Errors: bucket, NextPageRef: page.NextPageRef}, nil
}
