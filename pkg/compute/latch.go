package compute

import (
	"context"
	"sync/atomic"

	"github.com/niiniyare/abacgate/pkg/abac"
	"github.com/niiniyare/abacgate/pkg/storage"
)

// foundLatch is the one-shot cooperative-cancellation flag FanOut workers poll between grant
// evaluations: once set, every worker stops evaluating further grants for that phase. When the
// paired storage is in-process, the latch lives as an atomic.Bool; when storage is networked,
// the same contract is backed by storage.Storage's latch operations so that a future
// multi-process FanOut deployment could share the flag across workers that don't share memory.
type foundLatch interface {
	IsSet(ctx context.Context) (bool, error)
	Set(ctx context.Context) error
	Release(ctx context.Context)
}

type inProcessLatch struct {
	flag atomic.Bool
}

func newInProcessLatch() *inProcessLatch { return &inProcessLatch{} }

func (l *inProcessLatch) IsSet(ctx context.Context) (bool, error) { return l.flag.Load(), nil }
func (l *inProcessLatch) Set(ctx context.Context) error           { l.flag.Store(true); return nil }
func (l *inProcessLatch) Release(ctx context.Context)             {}

type storageBackedLatch struct {
	store storage.Storage
	uuid  string
}

func newStorageBackedLatch(ctx context.Context, store storage.Storage) (*storageBackedLatch, error) {
	l, err := store.CreateLatch(ctx)
	if err != nil {
		return nil, err
	}
	return &storageBackedLatch{store: store, uuid: l.StorageLatchUUID}, nil
}

func (l *storageBackedLatch) IsSet(ctx context.Context) (bool, error) {
	latch, err := l.store.GetLatch(ctx, l.uuid)
	if err != nil {
		return false, err
	}
	return latch.Set, nil
}

func (l *storageBackedLatch) Set(ctx context.Context) error {
	return l.store.SetLatch(ctx, l.uuid)
}

func (l *storageBackedLatch) Release(ctx context.Context) {
	_ = l.store.DeleteLatch(ctx, l.uuid)
}

func newFoundLatch(ctx context.Context, store storage.Storage) (foundLatch, error) {
	if store.Locality() == abac.LocalityProcess {
		return newInProcessLatch(), nil
	}
	return newStorageBackedLatch(ctx, store)
}
