package registry

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicegate/internal/logging"
)

func testLogger(t *testing.T) logging.Logger {
	t.Helper()
	l, err := logging.NewApplicationLogger(logging.Config{Level: "debug"})
	require.NoError(t, err)
	return l
}

func TestSSRCRegistry_Claim_Succeeds(t *testing.T) {
	client, mock := redismock.NewClientMock()
	reg := New(client, testLogger(t), "instance-a")

	key := ownerKeyPrefix + "42"
	mock.ExpectEvalSha(claimScript.Hash(), []string{key}, "instance-a", int(ownerTTL.Seconds())).SetVal(int64(1))

	ok, err := reg.Claim(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSSRCRegistry_Claim_AlreadyOwnedElsewhere(t *testing.T) {
	client, mock := redismock.NewClientMock()
	reg := New(client, testLogger(t), "instance-a")

	key := ownerKeyPrefix + "42"
	mock.ExpectEvalSha(claimScript.Hash(), []string{key}, "instance-a", int(ownerTTL.Seconds())).SetVal(int64(0))

	ok, err := reg.Claim(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSSRCRegistry_Release_NoopWhenNotOwner(t *testing.T) {
	client, mock := redismock.NewClientMock()
	reg := New(client, testLogger(t), "instance-a")

	key := ownerKeyPrefix + "42"
	mock.ExpectGet(key).SetVal("instance-b")

	err := reg.Release(context.Background(), 42)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSSRCRegistry_Release_RemovesOwnKey(t *testing.T) {
	client, mock := redismock.NewClientMock()
	reg := New(client, testLogger(t), "instance-a")

	key := ownerKeyPrefix + "42"
	mock.ExpectGet(key).SetVal("instance-a")
	mock.ExpectDel(key).SetVal(1)

	err := reg.Release(context.Background(), 42)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSSRCRegistry_Owner_NotFound(t *testing.T) {
	client, mock := redismock.NewClientMock()
	reg := New(client, testLogger(t), "instance-a")

	key := ownerKeyPrefix + "7"
	mock.ExpectGet(key).RedisNil()

	owner, ok, err := reg.Owner(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, owner)
}
