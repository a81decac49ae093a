// Package engine implements the lifecycle façade: start/shutdown/setup/teardown, the
// compute/storage locality compatibility gate, default-parameter resolution, and dispatch of
// validation ahead of every mutating or decision-making operation.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/niiniyare/abacgate/pkg/abac"
	"github.com/niiniyare/abacgate/pkg/compute"
	sdkerrors "github.com/niiniyare/abacgate/pkg/errors"
	"github.com/niiniyare/abacgate/pkg/logger"
	"github.com/niiniyare/abacgate/pkg/metrics"
	"github.com/niiniyare/abacgate/pkg/schema"
	"github.com/niiniyare/abacgate/pkg/shared"
	"github.com/niiniyare/abacgate/pkg/storage"
	"github.com/niiniyare/abacgate/pkg/tracing"
)

// State is the façade's lifecycle position.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Config wires the engine's definitions, pluggable collaborators, and default parameters.
type Config struct {
	IdentityDefs []abac.IdentityDefinition
	ResourceDefs []abac.ResourceDefinition

	Storage   storage.Storage
	Compute   compute.Compute
	Validator schema.Validator
	Logger    logger.Logger
	Metrics   *metrics.EngineMetrics
	Tracer    tracing.Service

	DefaultGrantsPageSize int
	DefaultRefsPageSize   int
	DefaultParallelPaging bool
}

func (c Config) withDefaults() Config {
	if c.DefaultGrantsPageSize <= 0 {
		c.DefaultGrantsPageSize = 50
	}
	if c.DefaultRefsPageSize <= 0 {
		c.DefaultRefsPageSize = 50
	}
	if c.Validator == nil {
		c.Validator = schema.NewStructuralValidator()
	}
	if c.Tracer == nil {
		c.Tracer = tracing.NewNoop()
	}
	return c
}

// Engine is the public façade. All its methods other than Start and State require the engine to
// be in the Started state; Start requires the Created state.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	state      State
	builder    *schema.Builder
	validators *schema.Validators
}

// New constructs an Engine in the Created state. Nothing is validated or connected until Start.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults(), state: StateCreated}
}

// Start validates definitions, builds the derived schemas, checks locality compatibility between
// the configured compute and storage, and starts the storage backend. On any failure the engine
// remains in the Created state so Start can be retried after the caller fixes the problem.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateCreated {
		return sdkerrors.NewStartError(fmt.Sprintf("engine: cannot start from state %s", e.state), nil)
	}

	result := schema.ValidateDefinitions(e.cfg.Validator, e.cfg.IdentityDefs, e.cfg.ResourceDefs)
	if !result.Valid {
		cause := sdkerrors.NewDefinitionError("definitions failed validation", result.Errors)
		return sdkerrors.NewStartError("engine: definitions failed validation", cause)
	}

	computeLocality := e.cfg.Compute.Locality()
	storageLocality := e.cfg.Storage.Locality()
	if !abac.LocalityCompatible(computeLocality, storageLocality) {
		return sdkerrors.NewLocalityIncompatibilityError(computeLocality, storageLocality)
	}

	if err := e.cfg.Storage.Start(ctx); err != nil {
		return sdkerrors.NewStartError("engine: storage start failed", err)
	}

	e.builder = schema.NewBuilder(e.cfg.IdentityDefs, e.cfg.ResourceDefs)
	e.validators = schema.NewValidators(e.builder, e.cfg.Validator)
	e.state = StateStarted
	if e.cfg.Logger != nil {
		e.cfg.Logger.Info("engine started", logger.LifecycleFields(e.state.String()))
	}
	return nil
}

func (e *Engine) requireStarted() error {
	if e.state != StateStarted {
		return sdkerrors.NewStartError(fmt.Sprintf("engine: operation requires started state, got %s", e.state), nil)
	}
	return nil
}

// Setup runs the storage backend's idempotent durable-resource provisioning hook.
func (e *Engine) Setup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireStarted(); err != nil {
		return err
	}
	return e.cfg.Storage.Setup(ctx)
}

// Teardown runs the storage backend's idempotent durable-resource teardown hook.
func (e *Engine) Teardown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireStarted(); err != nil {
		return err
	}
	return e.cfg.Storage.Teardown(ctx)
}

// Shutdown releases the storage backend's connections and transitions to StateShutdown. The
// engine cannot be restarted afterward.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireStarted(); err != nil {
		return err
	}
	err := e.cfg.Storage.Shutdown(ctx)
	e.state = StateShutdown
	return err
}

// Enact validates grant against grant_schema and the declared-actions/context_schema invariants,
// then persists it.
func (e *Engine) Enact(ctx context.Context, grant abac.Grant) (abac.Grant, error) {
	e.mu.Lock()
	validators, store := e.validators, e.cfg.Storage
	err := e.requireStarted()
	e.mu.Unlock()
	if err != nil {
		return abac.Grant{}, err
	}

	result := validators.ValidateGrant(ctx, grant)
	if !result.Valid {
		return abac.Grant{}, sdkerrors.NewGrantError("grant failed validation", result.Errors)
	}
	enacted, err := store.Enact(ctx, grant)
	if err == nil {
		e.mu.Lock()
		lg := e.cfg.Logger
		e.mu.Unlock()
		if lg != nil {
			lg.Info("grant enacted", logger.GrantFields(enacted.GrantUUID, enacted.Name, string(enacted.Effect)))
		}
	}
	return enacted, err
}

func (e *Engine) Repeal(ctx context.Context, grantUUID string) error {
	e.mu.Lock()
	store := e.cfg.Storage
	err := e.requireStarted()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return store.Repeal(ctx, grantUUID)
}

func (e *Engine) GetGrant(ctx context.Context, grantUUID string) (abac.Grant, error) {
	e.mu.Lock()
	store := e.cfg.Storage
	err := e.requireStarted()
	e.mu.Unlock()
	if err != nil {
		return abac.Grant{}, err
	}
	return store.GetGrant(ctx, grantUUID)
}

func (e *Engine) GetGrantsPage(ctx context.Context, filter abac.GrantFilter, pageRef abac.PageRef, grantsPageSize *int) (abac.GrantsPage, error) {
	e.mu.Lock()
	store, cfg := e.cfg.Storage, e.cfg
	err := e.requireStarted()
	e.mu.Unlock()
	if err != nil {
		return abac.GrantsPage{}, err
	}
	size := cfg.DefaultGrantsPageSize
	if grantsPageSize != nil {
		size = *grantsPageSize
	}
	started := time.Now()
	page, err := store.GetGrantsPage(ctx, filter, pageRef, size)
	if err == nil && cfg.Metrics != nil {
		cfg.Metrics.RecordPageFetch(string(store.Locality()), time.Since(started))
	}
	return page, err
}

func (e *Engine) GetGrantPageRefsPage(ctx context.Context, filter abac.GrantFilter, pageRef abac.PageRef, grantsPageSize, refsPageSize *int) (abac.PageRefsPage, error) {
	e.mu.Lock()
	store, cfg := e.cfg.Storage, e.cfg
	err := e.requireStarted()
	e.mu.Unlock()
	if err != nil {
		return abac.PageRefsPage{}, err
	}
	if !store.ParallelPagingSupported() {
		return abac.PageRefsPage{}, sdkerrors.NewParallelPaginationNotSupportedError(fmt.Sprintf("%T", store))
	}
	grantsSize := cfg.DefaultGrantsPageSize
	if grantsPageSize != nil {
		grantsSize = *grantsPageSize
	}
	refsSize := cfg.DefaultRefsPageSize
	if refsPageSize != nil {
		refsSize = *refsPageSize
	}
	return store.GetGrantPageRefsPage(ctx, filter, pageRef, grantsSize, refsSize)
}

// DecisionOptions overrides the engine's default pagination/parallelism parameters for a single
// Authorize or AuditPage call.
type DecisionOptions struct {
	GrantsPageSize *int
	RefsPageSize   *int
	ParallelPaging *bool
}

// Authorize validates the request, then runs the full deny-then-allow scan to completion.
func (e *Engine) Authorize(ctx context.Context, req abac.Request, opts DecisionOptions) (abac.Decision, error) {
	e.mu.Lock()
	validators := e.validators
	comp := e.resolveCompute(opts)
	err := e.requireStarted()
	e.mu.Unlock()
	if err != nil {
		return abac.Decision{}, err
	}

	req = applyCallerIdentities(ctx, req)
	result := validators.ValidateRequest(ctx, req)
	if !result.Valid {
		return abac.Decision{}, sdkerrors.NewRequestError("request failed validation", result.Errors)
	}

	ctx, span := e.cfg.Tracer.StartSpan(ctx, "authorize",
		tracing.RequestAttributes(req.ResourceType, req.Action)...)
	defer span.End()

	started := time.Now()
	decision, err := comp.Authorize(ctx, req)
	if err == nil && !decision.Completed {
		// a critical entry aborted the scan: surface it as its specification error
		if specErr := sdkerrors.FromBucket(decision.Errors); specErr != nil {
			err = specErr
		}
	}
	if err != nil {
		span.RecordError(err)
	} else {
		var grantUUID string
		var effect string
		if decision.Grant != nil {
			grantUUID = decision.Grant.GrantUUID
			effect = string(decision.Grant.Effect)
		}
		span.SetAttributes(tracing.DecisionAttributes(decision.Authorized, decision.Completed, grantUUID)...)
		if e.cfg.Logger != nil {
			fields := logger.DecisionFields(req.Action, decision.Authorized, decision.Completed, grantUUID)
			if correlationID, ok := shared.CorrelationID(ctx); ok {
				fields = fields.WithCorrelationID(correlationID.String())
			}
			e.cfg.Logger.Info("authorize decision", fields)
		}
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.RecordDecision(effect, decision.Authorized, time.Since(started))
		}
	}
	return decision, err
}

// AuditPage validates the request, then processes exactly one slab of the scan and returns the
// grants that matched.
func (e *Engine) AuditPage(ctx context.Context, req abac.Request, pageRef abac.PageRef, opts DecisionOptions) (abac.AuditResult, error) {
	e.mu.Lock()
	validators := e.validators
	comp := e.resolveCompute(opts)
	err := e.requireStarted()
	e.mu.Unlock()
	if err != nil {
		return abac.AuditResult{}, err
	}

	req = applyCallerIdentities(ctx, req)
	result := validators.ValidateRequest(ctx, req)
	if !result.Valid {
		return abac.AuditResult{}, sdkerrors.NewRequestError("request failed validation", result.Errors)
	}

	ctx, span := e.cfg.Tracer.StartSpan(ctx, "audit_page",
		tracing.RequestAttributes(req.ResourceType, req.Action)...)
	defer span.End()

	audit, err := comp.AuditPage(ctx, req, pageRef)
	if err == nil && !audit.Completed {
		if specErr := sdkerrors.FromBucket(audit.Errors); specErr != nil {
			err = specErr
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	return audit, err
}

// applyCallerIdentities fills the request's identities from the caller context when upstream
// middleware attached them via shared.WithCallerIdentities and the request carries none itself.
// A request's own identities always win.
func applyCallerIdentities(ctx context.Context, req abac.Request) abac.Request {
	if len(req.Identities) > 0 {
		return req
	}
	if identities, ok := shared.CallerIdentities(ctx); ok {
		req.Identities = identities
	}
	return req
}

// resolveCompute returns the configured compute, or — when overrides are given and the
// configured compute is the single-process reference flavor — an ephemeral Reference sharing the
// same storage and matcher but built with the caller's per-call pagination parameters.
func (e *Engine) resolveCompute(opts DecisionOptions) compute.Compute {
	ref, ok := e.cfg.Compute.(*compute.Reference)
	if !ok {
		return e.cfg.Compute
	}
	if opts.GrantsPageSize == nil && opts.RefsPageSize == nil && opts.ParallelPaging == nil {
		return ref
	}
	return ref.WithOverrides(opts.GrantsPageSize, opts.RefsPageSize, opts.ParallelPaging)
}

// State reports the engine's current lifecycle position.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
