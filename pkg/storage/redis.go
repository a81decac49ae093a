package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/niiniyare/abacgate/pkg/abac"
	sdkerrors "github.com/niiniyare/abacgate/pkg/errors"
)

// RedisOptions configures a Redis-backed Storage.
type RedisOptions struct {
	KeyPrefix string
	LatchTTL  time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "abacgate"
	}
	if o.LatchTTL <= 0 {
		o.LatchTTL = LatchTTL
	}
	return o
}

// Redis is the networked Storage backend. It exercises go-redis/redis/v8 connection pooling,
// SCAN-cursor iteration for latch cleanup, and Redis sets for the three denormalized indexes the
// Memory backend also maintains, with grant payloads stored as JSON strings in a hash.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
}

func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	return &Redis{client: client, opts: opts.withDefaults()}
}

func (r *Redis) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return sdkerrors.NewStartError("redis storage: ping failed", err)
	}
	return nil
}

func (r *Redis) Setup(ctx context.Context) error    { return nil }
func (r *Redis) Teardown(ctx context.Context) error { return nil }

func (r *Redis) Shutdown(ctx context.Context) error {
	return r.client.Close()
}

func (r *Redis) Locality() abac.ModuleLocality { return abac.LocalityNetwork }
func (r *Redis) ParallelPagingSupported() bool { return true }

func (r *Redis) key(parts ...string) string {
	out := r.opts.KeyPrefix
	for _, p := range parts {
		out += ":" + p
	}
	return out
}

func (r *Redis) Enact(ctx context.Context, grant abac.Grant) (abac.Grant, error) {
	if grant.GrantUUID == "" {
		grant.GrantUUID = uuid.NewString()
	}

	raw, err := json.Marshal(grant)
	if err != nil {
		return abac.Grant{}, fmt.Errorf("redis storage: marshal grant: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key("grants"), grant.GrantUUID, raw)
	pipe.RPush(ctx, r.key("idx", "all"), grant.GrantUUID)
	pipe.SAdd(ctx, r.key("idx", "effect", string(grant.Effect)), grant.GrantUUID)

	actions := grant.Actions
	if len(actions) == 0 {
		actions = []string{wildcardActionKey}
	}
	for _, action := range actions {
		pipe.SAdd(ctx, r.key("idx", "action", action), grant.GrantUUID)
		pipe.SAdd(ctx, r.key("idx", "effect_action", string(grant.Effect)+"|"+action), grant.GrantUUID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return abac.Grant{}, fmt.Errorf("redis storage: enact grant: %w", err)
	}
	return grant, nil
}

func (r *Redis) Repeal(ctx context.Context, grantUUID string) error {
	n, err := r.client.HDel(ctx, r.key("grants"), grantUUID).Result()
	if err != nil {
		return fmt.Errorf("redis storage: repeal grant: %w", err)
	}
	if n == 0 {
		return sdkerrors.NewGrantNotFoundError(grantUUID)
	}
	return nil
}

func (r *Redis) GetGrant(ctx context.Context, grantUUID string) (abac.Grant, error) {
	raw, err := r.client.HGet(ctx, r.key("grants"), grantUUID).Result()
	if err == redis.Nil {
		return abac.Grant{}, sdkerrors.NewGrantNotFoundError(grantUUID)
	}
	if err != nil {
		return abac.Grant{}, fmt.Errorf("redis storage: get grant: %w", err)
	}
	var grant abac.Grant
	if err := json.Unmarshal([]byte(raw), &grant); err != nil {
		return abac.Grant{}, fmt.Errorf("redis storage: decode grant: %w", err)
	}
	return grant, nil
}

// orderedUUIDs returns the UUIDs matching filter, restricted to those still live in the grants
// hash, ordered by their position in the insertion-order list. Membership checks against the
// effect/action/effect-action sets happen in-process after a single LRANGE, which keeps the
// pagination cursor scheme identical to Memory's offset-into-ordered-list approach.
func (r *Redis) orderedUUIDs(ctx context.Context, filter abac.GrantFilter) ([]string, error) {
	all, err := r.client.LRange(ctx, r.key("idx", "all"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis storage: list grants: %w", err)
	}
	if filter.Effect == nil && filter.Action == nil {
		return all, nil
	}

	var members map[string]bool
	switch {
	case filter.Effect != nil && filter.Action != nil:
		members, err = r.unionMembers(ctx,
			r.key("idx", "effect_action", string(*filter.Effect)+"|"+*filter.Action),
			r.key("idx", "effect_action", string(*filter.Effect)+"|"+wildcardActionKey))
	case filter.Effect != nil:
		members, err = r.setMembers(ctx, r.key("idx", "effect", string(*filter.Effect)))
	default:
		members, err = r.unionMembers(ctx,
			r.key("idx", "action", *filter.Action),
			r.key("idx", "action", wildcardActionKey))
	}
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(members))
	for _, uuid := range all {
		if members[uuid] {
			out = append(out, uuid)
		}
	}
	return out, nil
}

func (r *Redis) setMembers(ctx context.Context, key string) (map[string]bool, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis storage: smembers %s: %w", key, err)
	}
	out := make(map[string]bool, len(members))
	for _, m := range members {
		out[m] = true
	}
	return out, nil
}

func (r *Redis) unionMembers(ctx context.Context, keys ...string) (map[string]bool, error) {
	members, err := r.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis storage: sunion: %w", err)
	}
	out := make(map[string]bool, len(members))
	for _, m := range members {
		out[m] = true
	}
	return out, nil
}

func (r *Redis) GetGrantsPage(ctx context.Context, filter abac.GrantFilter, pageRef abac.PageRef, pageSize int) (abac.GrantsPage, error) {
	uuids, offset, err := r.resolvePage(ctx, filter, pageRef)
	if err != nil {
		return abac.GrantsPage{}, err
	}

	var grants []abac.Grant
	next := offset
	for next < len(uuids) && len(grants) < pageSize {
		g, err := r.GetGrant(ctx, uuids[next])
		next++
		if sdkerrors.IsSDKError(err, sdkerrors.CodeGrantNotFound) {
			continue
		}
		if err != nil {
			return abac.GrantsPage{}, err
		}
		grants = append(grants, g)
	}

	page := abac.GrantsPage{Grants: grants}
	if next < len(uuids) {
		ref := encodeCursor(cursor{BucketKey: bucketKey(filter), Offset: next})
		page.NextPageRef = &ref
	}
	return page, nil
}

func (r *Redis) GetGrantPageRefsPage(ctx context.Context, filter abac.GrantFilter, pageRef abac.PageRef, grantsPageSize, refsPageSize int) (abac.PageRefsPage, error) {
	uuids, offset, err := r.resolvePage(ctx, filter, pageRef)
	if err != nil {
		return abac.PageRefsPage{}, err
	}
	if grantsPageSize < 1 {
		grantsPageSize = 1
	}

	var refs []abac.PageRef
	next := offset
	for next < len(uuids) && len(refs) < refsPageSize {
		refs = append(refs, encodeCursor(cursor{
			BucketKey: bucketKey(filter) + "#slab",
			Offset:    next,
			Size:      grantsPageSize,
		}))
		next += grantsPageSize
	}
	if next > len(uuids) {
		next = len(uuids)
	}

	out := abac.PageRefsPage{PageRefs: refs}
	if next < len(uuids) {
		ref := encodeCursor(cursor{BucketKey: bucketKey(filter), Offset: next})
		out.NextPageRef = &ref
	}
	return out, nil
}

func (r *Redis) FetchPage(ctx context.Context, ref abac.PageRef) (abac.GrantsPage, error) {
	c, err := decodeCursor(ref)
	if err != nil {
		return abac.GrantsPage{}, sdkerrors.NewPageReferenceError(string(ref), err)
	}
	filter := filterFromBucketKey(trimSlabSuffix(c.BucketKey))
	uuids, err := r.orderedUUIDs(ctx, filter)
	if err != nil {
		return abac.GrantsPage{}, err
	}
	if c.Offset < 0 || c.Offset >= len(uuids) || c.Size <= 0 {
		return abac.GrantsPage{}, sdkerrors.NewPageReferenceError(string(ref), nil)
	}

	end := c.Offset + c.Size
	if end > len(uuids) {
		end = len(uuids)
	}
	var grants []abac.Grant
	for _, id := range uuids[c.Offset:end] {
		g, err := r.GetGrant(ctx, id)
		if sdkerrors.IsSDKError(err, sdkerrors.CodeGrantNotFound) {
			continue
		}
		if err != nil {
			return abac.GrantsPage{}, err
		}
		grants = append(grants, g)
	}
	return abac.GrantsPage{Grants: grants}, nil
}

func (r *Redis) resolvePage(ctx context.Context, filter abac.GrantFilter, pageRef abac.PageRef) ([]string, int, error) {
	uuids, err := r.orderedUUIDs(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	if pageRef == "" {
		return uuids, 0, nil
	}
	c, err := decodeCursor(pageRef)
	if err != nil {
		return nil, 0, sdkerrors.NewPageReferenceError(string(pageRef), err)
	}
	if c.BucketKey != bucketKey(filter) {
		return nil, 0, sdkerrors.NewPageReferenceError(string(pageRef), nil)
	}
	return uuids, c.Offset, nil
}

type redisLatch struct {
	Set       bool      `json:"set"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Redis) CreateLatch(ctx context.Context) (abac.Latch, error) {
	id := uuid.NewString()
	l := redisLatch{Set: false, CreatedAt: time.Now()}
	raw, _ := json.Marshal(l)
	if err := r.client.Set(ctx, r.key("latch", id), raw, r.opts.LatchTTL).Err(); err != nil {
		return abac.Latch{}, fmt.Errorf("redis storage: create latch: %w", err)
	}
	return abac.Latch{StorageLatchUUID: id, Set: false, CreatedAt: l.CreatedAt}, nil
}

func (r *Redis) getRedisLatch(ctx context.Context, latchUUID string) (redisLatch, error) {
	raw, err := r.client.Get(ctx, r.key("latch", latchUUID)).Result()
	if err == redis.Nil {
		return redisLatch{}, sdkerrors.NewLatchNotFoundError(latchUUID)
	}
	if err != nil {
		return redisLatch{}, fmt.Errorf("redis storage: get latch: %w", err)
	}
	var l redisLatch
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return redisLatch{}, fmt.Errorf("redis storage: decode latch: %w", err)
	}
	return l, nil
}

func (r *Redis) GetLatch(ctx context.Context, latchUUID string) (abac.Latch, error) {
	l, err := r.getRedisLatch(ctx, latchUUID)
	if err != nil {
		return abac.Latch{}, err
	}
	return abac.Latch{StorageLatchUUID: latchUUID, Set: l.Set, CreatedAt: l.CreatedAt}, nil
}

func (r *Redis) SetLatch(ctx context.Context, latchUUID string) error {
	l, err := r.getRedisLatch(ctx, latchUUID)
	if err != nil {
		return err
	}
	l.Set = true
	raw, _ := json.Marshal(l)
	ttl := r.client.TTL(ctx, r.key("latch", latchUUID)).Val()
	if ttl <= 0 {
		ttl = r.opts.LatchTTL
	}
	if err := r.client.Set(ctx, r.key("latch", latchUUID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis storage: set latch: %w", err)
	}
	return nil
}

func (r *Redis) DeleteLatch(ctx context.Context, latchUUID string) error {
	n, err := r.client.Del(ctx, r.key("latch", latchUUID)).Result()
	if err != nil {
		return fmt.Errorf("redis storage: delete latch: %w", err)
	}
	if n == 0 {
		return sdkerrors.NewLatchNotFoundError(latchUUID)
	}
	return nil
}

// CleanupLatches SCANs the latch keyspace for entries created before the given timestamp that,
// despite carrying a TTL, have not yet been reaped (e.g. a TTL that was never set because of a
// prior partial failure), and deletes them directly.
func (r *Redis) CleanupLatches(ctx context.Context, before time.Time) (int, error) {
	pattern := r.key("latch", "*")
	var removed int
	var scanCursor uint64

	for {
		keys, next, err := r.client.Scan(ctx, scanCursor, pattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("redis storage: scan latches: %w", err)
		}
		sort.Strings(keys) // deterministic ordering for tests against redismock
		for _, key := range keys {
			raw, err := r.client.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			var l redisLatch
			if err := json.Unmarshal([]byte(raw), &l); err != nil {
				continue
			}
			if l.CreatedAt.Before(before) {
				if err := r.client.Del(ctx, key).Err(); err == nil {
					removed++
				}
			}
		}
		scanCursor = next
		if scanCursor == 0 {
			break
		}
	}
	return removed, nil
}
