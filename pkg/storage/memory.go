package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/niiniyare/abacgate/pkg/abac"
	sdkerrors "github.com/niiniyare/abacgate/pkg/errors"
)

const wildcardActionKey = "*"

// entry pairs a grant UUID with its global insertion sequence number, so that two index slices
// can be merge-joined back into overall insertion order without a full resort.
type entry struct {
	uuid string
	seq  int64
}

// Memory is the in-process reference Storage: three denormalized indexes (by effect, by action
// with a wildcard sentinel, by effect+action), deep-copy-on-read, and a snapshot-stable cursor
// scheme that tolerates repeals between pages by tombstone-filtering rather than compacting
// indexes in place.
type Memory struct {
	mu sync.RWMutex

	grants map[string]abac.Grant
	seq    int64

	all            []entry
	byEffect       map[abac.Effect][]entry
	byAction       map[string][]entry
	byEffectAction map[string][]entry

	latches map[string]abac.Latch
}

// NewMemory constructs an empty Memory storage. Start/Setup are no-ops for this backend; they
// exist to satisfy the Storage interface uniformly with networked backends.
func NewMemory() *Memory {
	return &Memory{
		grants:         make(map[string]abac.Grant),
		byEffect:       make(map[abac.Effect][]entry),
		byAction:       make(map[string][]entry),
		byEffectAction: make(map[string][]entry),
		latches:        make(map[string]abac.Latch),
	}
}

func (m *Memory) Start(ctx context.Context) error    { return nil }
func (m *Memory) Setup(ctx context.Context) error    { return nil }
func (m *Memory) Teardown(ctx context.Context) error { return nil }
func (m *Memory) Shutdown(ctx context.Context) error { return nil }

func (m *Memory) Locality() abac.ModuleLocality { return abac.LocalityProcess }
func (m *Memory) ParallelPagingSupported() bool { return true }

func (m *Memory) Enact(ctx context.Context, grant abac.Grant) (abac.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if grant.GrantUUID == "" {
		grant.GrantUUID = uuid.NewString()
	}
	m.seq++
	e := entry{uuid: grant.GrantUUID, seq: m.seq}

	m.grants[grant.GrantUUID] = *grant.Clone()
	m.all = append(m.all, e)
	m.byEffect[grant.Effect] = append(m.byEffect[grant.Effect], e)

	actions := grant.Actions
	if len(actions) == 0 {
		actions = []string{wildcardActionKey}
	}
	for _, action := range actions {
		m.byAction[action] = append(m.byAction[action], e)
		m.byEffectAction[string(grant.Effect)+"|"+action] = append(m.byEffectAction[string(grant.Effect)+"|"+action], e)
	}

	return *grant.Clone(), nil
}

func (m *Memory) Repeal(ctx context.Context, grantUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.grants[grantUUID]; !ok {
		return sdkerrors.NewGrantNotFoundError(grantUUID)
	}
	delete(m.grants, grantUUID)
	return nil
}

func (m *Memory) GetGrant(ctx context.Context, grantUUID string) (abac.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.grants[grantUUID]
	if !ok {
		return abac.Grant{}, sdkerrors.NewGrantNotFoundError(grantUUID)
	}
	return *g.Clone(), nil
}

func (m *Memory) GetGrantsPage(ctx context.Context, filter abac.GrantFilter, pageRef abac.PageRef, pageSize int) (abac.GrantsPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, offset, err := m.resolvePage(filter, pageRef)
	if err != nil {
		return abac.GrantsPage{}, err
	}

	var grants []abac.Grant
	next := offset
	for next < len(entries) && len(grants) < pageSize {
		g, live := m.grants[entries[next].uuid]
		next++
		if !live {
			continue // tombstoned by a repeal since the index entry was written
		}
		grants = append(grants, *g.Clone())
	}

	page := abac.GrantsPage{Grants: grants}
	if next < len(entries) {
		ref := encodeCursor(cursor{BucketKey: bucketKey(filter), Offset: next})
		page.NextPageRef = &ref
	}
	return page, nil
}

func (m *Memory) GetGrantPageRefsPage(ctx context.Context, filter abac.GrantFilter, pageRef abac.PageRef, grantsPageSize, refsPageSize int) (abac.PageRefsPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, offset, err := m.resolvePage(filter, pageRef)
	if err != nil {
		return abac.PageRefsPage{}, err
	}
	if grantsPageSize < 1 {
		grantsPageSize = 1
	}

	var refs []abac.PageRef
	next := offset
	for next < len(entries) && len(refs) < refsPageSize {
		refs = append(refs, encodeCursor(cursor{
			BucketKey: bucketKey(filter) + "#slab",
			Offset:    next,
			Size:      grantsPageSize,
		}))
		next += grantsPageSize
	}
	if next > len(entries) {
		next = len(entries)
	}

	out := abac.PageRefsPage{PageRefs: refs}
	if next < len(entries) {
		ref := encodeCursor(cursor{BucketKey: bucketKey(filter), Offset: next})
		out.NextPageRef = &ref
	}
	return out, nil
}

// FetchPage resolves a slab reference produced by GetGrantPageRefsPage into the page of grants it
// covers. The reference format is private to Memory: callers must treat it as opaque.
func (m *Memory) FetchPage(ctx context.Context, ref abac.PageRef) (abac.GrantsPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := decodeCursor(ref)
	if err != nil {
		return abac.GrantsPage{}, sdkerrors.NewPageReferenceError(string(ref), err)
	}

	filter := filterFromBucketKey(trimSlabSuffix(c.BucketKey))
	entries := m.indexFor(filter)
	if c.Offset < 0 || c.Offset >= len(entries) || c.Size <= 0 {
		return abac.GrantsPage{}, sdkerrors.NewPageReferenceError(string(ref), nil)
	}

	end := c.Offset + c.Size
	if end > len(entries) {
		end = len(entries)
	}
	var grants []abac.Grant
	for _, e := range entries[c.Offset:end] {
		g, live := m.grants[e.uuid]
		if !live {
			continue
		}
		grants = append(grants, *g.Clone())
	}
	return abac.GrantsPage{Grants: grants}, nil
}

func (m *Memory) resolvePage(filter abac.GrantFilter, pageRef abac.PageRef) ([]entry, int, error) {
	entries := m.indexFor(filter)
	if pageRef == "" {
		return entries, 0, nil
	}
	c, err := decodeCursor(pageRef)
	if err != nil {
		return nil, 0, sdkerrors.NewPageReferenceError(string(pageRef), err)
	}
	if c.BucketKey != bucketKey(filter) {
		return nil, 0, sdkerrors.NewPageReferenceError(string(pageRef), nil)
	}
	return entries, c.Offset, nil
}

func (m *Memory) indexFor(filter abac.GrantFilter) []entry {
	switch {
	case filter.Effect != nil && filter.Action != nil:
		return mergeEntries(
			m.byEffectAction[string(*filter.Effect)+"|"+*filter.Action],
			m.byEffectAction[string(*filter.Effect)+"|"+wildcardActionKey],
		)
	case filter.Effect != nil:
		return m.byEffect[*filter.Effect]
	case filter.Action != nil:
		return mergeEntries(m.byAction[*filter.Action], m.byAction[wildcardActionKey])
	default:
		return m.all
	}
}

func mergeEntries(a, b []entry) []entry {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]entry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].seq <= b[j].seq {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func trimSlabSuffix(s string) string {
	const suffix = "#slab"
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

func filterFromBucketKey(key string) abac.GrantFilter {
	effect, action := abac.Effect(""), ""
	sep := -1
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return abac.GrantFilter{}
	}
	effect = abac.Effect(key[:sep])
	action = key[sep+1:]

	var filter abac.GrantFilter
	if effect != "*" && effect != "" {
		e := effect
		filter.Effect = &e
	}
	if action != "*" && action != "" {
		a := action
		filter.Action = &a
	}
	return filter
}

func (m *Memory) CreateLatch(ctx context.Context) (abac.Latch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := abac.Latch{StorageLatchUUID: uuid.NewString(), Set: false, CreatedAt: time.Now()}
	m.latches[l.StorageLatchUUID] = l
	return l, nil
}

func (m *Memory) GetLatch(ctx context.Context, latchUUID string) (abac.Latch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.latches[latchUUID]
	if !ok {
		return abac.Latch{}, sdkerrors.NewLatchNotFoundError(latchUUID)
	}
	return l, nil
}

func (m *Memory) SetLatch(ctx context.Context, latchUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.latches[latchUUID]
	if !ok {
		return sdkerrors.NewLatchNotFoundError(latchUUID)
	}
	l.Set = true
	m.latches[latchUUID] = l
	return nil
}

func (m *Memory) DeleteLatch(ctx context.Context, latchUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.latches[latchUUID]; !ok {
		return sdkerrors.NewLatchNotFoundError(latchUUID)
	}
	delete(m.latches, latchUUID)
	return nil
}

// LatchTTL is the default age after which a latch is considered a zombie, for callers to compute
// CleanupLatches' before argument from.
const LatchTTL = 5 * time.Minute

// CleanupLatches removes every latch created before the given timestamp, reclaiming zombies left
// behind by a crashed worker that never reached DeleteLatch.
func (m *Memory) CleanupLatches(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, l := range m.latches {
		if l.CreatedAt.Before(before) {
			delete(m.latches, id)
			n++
		}
	}
	return n, nil
}
