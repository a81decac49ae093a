// Package storage defines the Storage substrate contract: grant persistence, filtered and
// paginated enumeration, opaque page references, and cross-process cooperative-cancellation
// latches. Two concrete backends are provided: Memory (in-process reference) and Redis
// (networked, go-redis/redis/v8-backed).
package storage

import (
	"context"
	"time"

	"github.com/niiniyare/abacgate/pkg/abac"
)

// Storage is the substrate a compute implementation scans grants through. Every method is safe
// for concurrent use.
type Storage interface {
	// Start acquires any external resources (connections, pools) needed before Setup/Enact can
	// be called.
	Start(ctx context.Context) error

	// Setup prepares the backend for first use (e.g. creating indexes); idempotent.
	Setup(ctx context.Context) error

	// Teardown releases resources acquired by Setup, leaving Start's connections intact.
	Teardown(ctx context.Context) error

	// Shutdown releases everything acquired by Start.
	Shutdown(ctx context.Context) error

	// Enact inserts or replaces a grant, keyed by GrantUUID (assigned if empty).
	Enact(ctx context.Context, grant abac.Grant) (abac.Grant, error)

	// Repeal removes a grant. Returns an SDK GrantNotFoundError if it does not exist.
	Repeal(ctx context.Context, grantUUID string) error

	// GetGrant fetches a single grant by UUID.
	GetGrant(ctx context.Context, grantUUID string) (abac.Grant, error)

	// GetGrantsPage returns one page of grants matching filter, starting after pageRef (empty
	// string for the first page).
	GetGrantsPage(ctx context.Context, filter abac.GrantFilter, pageRef abac.PageRef, pageSize int) (abac.GrantsPage, error)

	// GetGrantPageRefsPage enumerates up to refsPageSize page references without fetching their
	// payloads, so a caller can fan the refs out to parallel workers. Each returned ref resolves,
	// via FetchPage, to a page of up to grantsPageSize grants. Returns an SDK
	// ParallelPaginationNotSupported error if ParallelPagingSupported() is false.
	GetGrantPageRefsPage(ctx context.Context, filter abac.GrantFilter, pageRef abac.PageRef, grantsPageSize, refsPageSize int) (abac.PageRefsPage, error)

	// FetchPage resolves a single opaque page reference (as produced by GetGrantPageRefsPage)
	// into its grant payload. Used by the parallel-paging driver.
	FetchPage(ctx context.Context, ref abac.PageRef) (abac.GrantsPage, error)

	// CreateLatch allocates a new one-shot cooperative-cancellation latch.
	CreateLatch(ctx context.Context) (abac.Latch, error)

	// GetLatch reads the current state of a latch.
	GetLatch(ctx context.Context, latchUUID string) (abac.Latch, error)

	// SetLatch flips a latch to the set state. Idempotent.
	SetLatch(ctx context.Context, latchUUID string) error

	// DeleteLatch releases a latch's storage.
	DeleteLatch(ctx context.Context, latchUUID string) error

	// CleanupLatches removes latches created before the given timestamp, guarding against
	// zombies left behind by a crashed worker.
	CleanupLatches(ctx context.Context, before time.Time) (int, error)

	// Locality reports this backend's deployment scope, used by the engine façade's
	// compute/storage compatibility gate.
	Locality() abac.ModuleLocality

	// ParallelPagingSupported reports whether GetGrantPageRefsPage/FetchPage are implemented.
	ParallelPagingSupported() bool
}
