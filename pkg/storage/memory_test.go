package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niiniyare/abacgate/pkg/abac"
	sdkerrors "github.com/niiniyare/abacgate/pkg/errors"
	"github.com/niiniyare/abacgate/pkg/storage"
)

func effectPtr(e abac.Effect) *abac.Effect { return &e }
func actionPtr(a string) *string           { return &a }

func TestMemory_EnactAndGetGrant(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	grant, err := m.Enact(ctx, abac.Grant{Name: "allow-read", Effect: abac.EffectAllow, Query: "true"})
	require.NoError(t, err)
	require.NotEmpty(t, grant.GrantUUID)

	got, err := m.GetGrant(ctx, grant.GrantUUID)
	require.NoError(t, err)
	assert.Equal(t, "allow-read", got.Name)
}

func TestMemory_GetGrant_NotFound(t *testing.T) {
	m := storage.NewMemory()
	_, err := m.GetGrant(context.Background(), "missing")
	assert.True(t, sdkerrors.IsSDKError(err, sdkerrors.CodeGrantNotFound))
}

func TestMemory_GetGrantsPage_FiltersByEffectAndAction(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	_, err := m.Enact(ctx, abac.Grant{Name: "deny-delete", Effect: abac.EffectDeny, Actions: []string{"delete"}, Query: "true"})
	require.NoError(t, err)
	_, err = m.Enact(ctx, abac.Grant{Name: "allow-all", Effect: abac.EffectAllow, Query: "true"})
	require.NoError(t, err)
	_, err = m.Enact(ctx, abac.Grant{Name: "allow-read", Effect: abac.EffectAllow, Actions: []string{"read"}, Query: "true"})
	require.NoError(t, err)

	page, err := m.GetGrantsPage(ctx, abac.GrantFilter{Effect: effectPtr(abac.EffectAllow), Action: actionPtr("read")}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Grants, 2) // allow-all (wildcard) + allow-read
	assert.Nil(t, page.NextPageRef)
}

func TestMemory_GetGrantsPage_Pagination(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	for i := 0; i < 5; i++ {
		_, err := m.Enact(ctx, abac.Grant{Name: "g", Effect: abac.EffectAllow, Query: "true"})
		require.NoError(t, err)
	}

	filter := abac.GrantFilter{Effect: effectPtr(abac.EffectAllow)}
	page1, err := m.GetGrantsPage(ctx, filter, "", 2)
	require.NoError(t, err)
	require.Len(t, page1.Grants, 2)
	require.NotNil(t, page1.NextPageRef)

	page2, err := m.GetGrantsPage(ctx, filter, *page1.NextPageRef, 2)
	require.NoError(t, err)
	require.Len(t, page2.Grants, 2)
	require.NotNil(t, page2.NextPageRef)

	page3, err := m.GetGrantsPage(ctx, filter, *page2.NextPageRef, 2)
	require.NoError(t, err)
	require.Len(t, page3.Grants, 1)
	assert.Nil(t, page3.NextPageRef)
}

func TestMemory_Repeal_TombstonesWithoutBreakingCursor(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	var uuids []string
	for i := 0; i < 3; i++ {
		g, err := m.Enact(ctx, abac.Grant{Name: "g", Effect: abac.EffectAllow, Query: "true"})
		require.NoError(t, err)
		uuids = append(uuids, g.GrantUUID)
	}

	require.NoError(t, m.Repeal(ctx, uuids[1]))

	page, err := m.GetGrantsPage(ctx, abac.GrantFilter{Effect: effectPtr(abac.EffectAllow)}, "", 10)
	require.NoError(t, err)
	assert.Len(t, page.Grants, 2)
}

func TestMemory_ParallelPageRefsThenFetch(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	for i := 0; i < 5; i++ {
		_, err := m.Enact(ctx, abac.Grant{Name: "g", Effect: abac.EffectDeny, Query: "true"})
		require.NoError(t, err)
	}

	// 5 grants at 2 per slab: refs cover [0,1] [2,3] [4]
	filter := abac.GrantFilter{Effect: effectPtr(abac.EffectDeny)}
	refs, err := m.GetGrantPageRefsPage(ctx, filter, "", 2, 10)
	require.NoError(t, err)
	require.Len(t, refs.PageRefs, 3)
	assert.Nil(t, refs.NextPageRef)

	total := 0
	for _, ref := range refs.PageRefs {
		page, err := m.FetchPage(ctx, ref)
		require.NoError(t, err)
		total += len(page.Grants)
	}
	assert.Equal(t, 5, total)
}

func TestMemory_PageRefsPageHonorsRefsPageSize(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	for i := 0; i < 5; i++ {
		_, err := m.Enact(ctx, abac.Grant{Name: "g", Effect: abac.EffectDeny, Query: "true"})
		require.NoError(t, err)
	}

	filter := abac.GrantFilter{Effect: effectPtr(abac.EffectDeny)}
	refs, err := m.GetGrantPageRefsPage(ctx, filter, "", 2, 2)
	require.NoError(t, err)
	require.Len(t, refs.PageRefs, 2)
	require.NotNil(t, refs.NextPageRef)

	rest, err := m.GetGrantPageRefsPage(ctx, filter, *refs.NextPageRef, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest.PageRefs, 1)
	assert.Nil(t, rest.NextPageRef)
}

func TestMemory_FetchPage_RejectsForeignRef(t *testing.T) {
	m := storage.NewMemory()
	_, err := m.FetchPage(context.Background(), "not-a-cursor")
	assert.True(t, sdkerrors.IsSDKError(err, sdkerrors.CodePageReference))
}

func TestMemory_LatchLifecycle(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	l, err := m.CreateLatch(ctx)
	require.NoError(t, err)
	assert.False(t, l.Set)

	require.NoError(t, m.SetLatch(ctx, l.StorageLatchUUID))

	got, err := m.GetLatch(ctx, l.StorageLatchUUID)
	require.NoError(t, err)
	assert.True(t, got.Set)

	require.NoError(t, m.DeleteLatch(ctx, l.StorageLatchUUID))
	_, err = m.GetLatch(ctx, l.StorageLatchUUID)
	assert.True(t, sdkerrors.IsSDKError(err, sdkerrors.CodeLatchNotFound))
}

func TestMemory_Locality(t *testing.T) {
	m := storage.NewMemory()
	assert.Equal(t, abac.LocalityProcess, m.Locality())
	assert.True(t, m.ParallelPagingSupported())
}
