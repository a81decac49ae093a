package compute

import (
	"context"
	"fmt"

	"github.com/niiniyare/abacgate/pkg/abac"
)

// innerPair is one (Compute, Storage) unit owned exclusively by a Delegated pool slot: its
// storage instance is never shared with another slot, so whole requests can be dispatched to it
// without any cross-slot locking.
type innerPair struct {
	compute Compute
}

type delegatedTask struct {
	kind    delegatedKind
	ctx     context.Context
	req     abac.Request
	pageRef abac.PageRef
	result  chan<- delegatedResult
}

type delegatedKind int

const (
	delegatedAuthorize delegatedKind = iota
	delegatedAuditPage
)

type delegatedResult struct {
	decision abac.Decision
	audit    abac.AuditResult
	err      error
}

// Delegated dispatches whole Authorize/AuditPage invocations to a fixed pool of inner Compute
// instances, each paired with its own private Storage, through one shared task channel:
// whichever worker is idle takes the next task. This
// models a deployment where multiple independent engine instances share nothing but a dispatch
// queue.
type Delegated struct {
	pool  []innerPair
	tasks chan delegatedTask
}

// NewDelegated starts a Delegated compute with one worker goroutine per entry in computes. Each
// entry should already be paired with its own Storage instance constructed once at pool
// construction time.
func NewDelegated(computes []Compute) *Delegated {
	pool := make([]innerPair, len(computes))
	for i, c := range computes {
		pool[i] = innerPair{compute: c}
	}
	d := &Delegated{
		pool:  pool,
		tasks: make(chan delegatedTask),
	}
	for _, p := range pool {
		go d.worker(p.compute)
	}
	return d
}

func (d *Delegated) worker(c Compute) {
	for task := range d.tasks {
		switch task.kind {
		case delegatedAuthorize:
			decision, err := c.Authorize(task.ctx, task.req)
			task.result <- delegatedResult{decision: decision, err: err}
		case delegatedAuditPage:
			audit, err := c.AuditPage(task.ctx, task.req, task.pageRef)
			task.result <- delegatedResult{audit: audit, err: err}
		}
	}
}

func (d *Delegated) Locality() abac.ModuleLocality { return abac.LocalityProcess }

func (d *Delegated) Authorize(ctx context.Context, req abac.Request) (abac.Decision, error) {
	if len(d.pool) == 0 {
		return abac.Decision{}, fmt.Errorf("compute: delegated pool is empty")
	}
	result := make(chan delegatedResult, 1)
	select {
	case d.tasks <- delegatedTask{kind: delegatedAuthorize, ctx: ctx, req: req, result: result}:
	case <-ctx.Done():
		return abac.Decision{}, ctx.Err()
	}
	select {
	case r := <-result:
		return r.decision, r.err
	case <-ctx.Done():
		return abac.Decision{}, ctx.Err()
	}
}

func (d *Delegated) AuditPage(ctx context.Context, req abac.Request, pageRef abac.PageRef) (abac.AuditResult, error) {
	if len(d.pool) == 0 {
		return abac.AuditResult{}, fmt.Errorf("compute: delegated pool is empty")
	}
	result := make(chan delegatedResult, 1)
	select {
	case d.tasks <- delegatedTask{kind: delegatedAuditPage, ctx: ctx, req: req, pageRef: pageRef, result: result}:
	case <-ctx.Done():
		return abac.AuditResult{}, ctx.Err()
	}
	select {
	case r := <-result:
		return r.audit, r.err
	case <-ctx.Done():
		return abac.AuditResult{}, ctx.Err()
	}
}

// Shutdown stops every worker goroutine. Callers must not invoke Authorize/AuditPage afterward.
func (d *Delegated) Shutdown() {
	close(d.tasks)
}
