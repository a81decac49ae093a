package storage_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niiniyare/abacgate/pkg/abac"
	sdkerrors "github.com/niiniyare/abacgate/pkg/errors"
	"github.com/niiniyare/abacgate/pkg/storage"
)

func newMockRedis(t *testing.T) (*storage.Redis, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	return storage.NewRedis(client, storage.RedisOptions{KeyPrefix: "test"}), mock
}

func TestRedis_Start_Pings(t *testing.T) {
	s, mock := newMockRedis(t)
	mock.ExpectPing().SetVal("PONG")

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Start_PingFailureIsStartError(t *testing.T) {
	s, mock := newMockRedis(t)
	mock.ExpectPing().SetErr(redis.ErrClosed)

	err := s.Start(context.Background())
	assert.True(t, sdkerrors.IsSDKError(err, sdkerrors.CodeStartError))
}

func TestRedis_GetGrant_NotFound(t *testing.T) {
	s, mock := newMockRedis(t)
	mock.ExpectHGet("test:grants", "missing").RedisNil()

	_, err := s.GetGrant(context.Background(), "missing")
	assert.True(t, sdkerrors.IsSDKError(err, sdkerrors.CodeGrantNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_GetGrant_Found(t *testing.T) {
	s, mock := newMockRedis(t)
	grant := abac.Grant{GrantUUID: "g1", Name: "allow-read", Effect: abac.EffectAllow, Query: "true"}
	raw, err := json.Marshal(grant)
	require.NoError(t, err)
	mock.ExpectHGet("test:grants", "g1").SetVal(string(raw))

	got, err := s.GetGrant(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "allow-read", got.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Repeal_NotFound(t *testing.T) {
	s, mock := newMockRedis(t)
	mock.ExpectHDel("test:grants", "missing").SetVal(0)

	err := s.Repeal(context.Background(), "missing")
	assert.True(t, sdkerrors.IsSDKError(err, sdkerrors.CodeGrantNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_GetLatch_NotFound(t *testing.T) {
	s, mock := newMockRedis(t)
	mock.ExpectGet("test:latch:missing").RedisNil()

	_, err := s.GetLatch(context.Background(), "missing")
	assert.True(t, sdkerrors.IsSDKError(err, sdkerrors.CodeLatchNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Locality(t *testing.T) {
	s, _ := newMockRedis(t)
	assert.Equal(t, abac.LocalityNetwork, s.Locality())
	assert.True(t, s.ParallelPagingSupported())
}
