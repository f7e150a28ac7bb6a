package voice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, factory ConsumerFactory) *Router {
	t.Helper()
	return NewRouter(func() (Decoder, error) { return &passthroughDecoder{}, nil }, factory, testLogger(t), DefaultReorderCapacity, DefaultReorderModulus, MinSilentFrames, nil)
}

type fakeRegistry struct {
	claimed  map[int64]bool
	released map[int64]bool
	claimOK  bool
	claimErr error
}

func newFakeRegistry(claimOK bool) *fakeRegistry {
	return &fakeRegistry{claimed: map[int64]bool{}, released: map[int64]bool{}, claimOK: claimOK}
}

func (f *fakeRegistry) Claim(ctx context.Context, userID int64) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.claimOK {
		f.claimed[userID] = true
	}
	return f.claimOK, nil
}

func (f *fakeRegistry) Release(ctx context.Context, userID int64) error {
	f.released[userID] = true
	return nil
}

func TestRouter_OnPacket_CreatesChannelOnDemand(t *testing.T) {
	r := newTestRouter(t, nil)

	require.NoError(t, r.OnPacket(1001, 0, 0, voiceOpus(1)))
	ch, ok := r.Channel(1001)
	require.True(t, ok)
	assert.Equal(t, uint32(1001), ch.SSRC())
}

func TestRouter_AddUserSSRC_BeforePacketArrival(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRouter(t, factory)

	require.NoError(t, r.AddUserSSRC(context.Background(), 55, 2002))
	require.NoError(t, r.OnPacket(2002, 0, 0, voiceOpus(9)))

	require.Len(t, factory.created, 1)
	assert.Equal(t, int64(55), factory.created[0].userID)
}

func TestRouter_AddUserSSRC_AfterPacketArrival(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRouter(t, factory)

	// Packet arrives first, before any user binding: pre-buffered.
	require.NoError(t, r.OnPacket(3003, 0, 0, voiceOpus(9)))
	assert.Empty(t, factory.created)

	require.NoError(t, r.AddUserSSRC(context.Background(), 10, 3003))
	require.Len(t, factory.created, 1, "binding the user drains the pre-buffer into a new consumer")
}

func TestRouter_SetConsumerFactory_PropagatesToExistingChannels(t *testing.T) {
	r := newTestRouter(t, nil)

	require.NoError(t, r.AddUserSSRC(context.Background(), 1, 4004))
	require.NoError(t, r.OnPacket(4004, 0, 0, voiceOpus(1))) // pre-buffered, no factory yet

	factory := &fakeFactory{}
	r.SetConsumerFactory(factory)

	require.Len(t, factory.created, 1)
}

func TestRouter_RemoveUserSSRC_IsIdempotentOnUnknown(t *testing.T) {
	r := newTestRouter(t, nil)

	assert.ErrorIs(t, r.RemoveByUser(context.Background(), 999), ErrUnknownUser)
	assert.ErrorIs(t, r.RemoveBySSRC(context.Background(), 999), ErrUnknownSSRC)
}

func TestRouter_RemoveUserSSRC_DropsChannelAndMapping(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRouter(t, factory)

	require.NoError(t, r.AddUserSSRC(context.Background(), 1, 5005))
	require.NoError(t, r.OnPacket(5005, 0, 0, voiceOpus(1)))
	require.Len(t, factory.created, 1)

	require.NoError(t, r.RemoveByUser(context.Background(), 1))
	_, ok := r.Channel(5005)
	assert.False(t, ok)

	// Re-adding the same ssrc starts clean: no stale user binding remains.
	require.NoError(t, r.OnPacket(5005, 0, 0, voiceOpus(2)))
	_, ok = r.Channel(5005)
	assert.True(t, ok)
}

func TestRouter_AddUserSSRC_RebindingUserDropsOldSSRCMapping(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRouter(t, factory)

	require.NoError(t, r.AddUserSSRC(context.Background(), 1, 6001))
	require.NoError(t, r.OnPacket(6001, 0, 0, voiceOpus(1)))
	_, ok := r.Channel(6001)
	require.True(t, ok)

	// Same user reconnects with a fresh SSRC.
	require.NoError(t, r.AddUserSSRC(context.Background(), 1, 6002))

	_, ok = r.Channel(6001)
	assert.False(t, ok, "old ssrc's channel must be dropped on rebind")

	// The stale ssrc is fully forgotten: removing the user only tears down
	// the new ssrc, and the old one no longer routes to user 1 at all.
	require.NoError(t, r.OnPacket(6001, 5, 0, voiceOpus(2)))
	ch, ok := r.Channel(6001)
	require.True(t, ok, "ssrc can still receive packets, just not attributed to user 1 anymore")
	assert.Nil(t, ch.userID)

	require.NoError(t, r.RemoveByUser(context.Background(), 1))
	_, ok = r.Channel(6002)
	assert.False(t, ok)
}

func TestRouter_AddUserSSRC_RebindingSSRCDropsOldUserMapping(t *testing.T) {
	r := newTestRouter(t, nil)

	require.NoError(t, r.AddUserSSRC(context.Background(), 1, 7001))
	// The same ssrc gets reassigned to a different user.
	require.NoError(t, r.AddUserSSRC(context.Background(), 2, 7001))

	assert.ErrorIs(t, r.RemoveByUser(context.Background(), 1), ErrUnknownUser, "user 1 no longer owns any ssrc")
	require.NoError(t, r.RemoveByUser(context.Background(), 2))
}

func TestRouter_AddUserSSRC_DeniedWhenRegistryOwnedElsewhere(t *testing.T) {
	reg := newFakeRegistry(false)
	r := NewRouter(func() (Decoder, error) { return &passthroughDecoder{}, nil }, nil, testLogger(t), DefaultReorderCapacity, DefaultReorderModulus, MinSilentFrames, reg)

	err := r.AddUserSSRC(context.Background(), 1, 8001)
	assert.ErrorIs(t, err, ErrSSRCOwnedElsewhere)
	_, ok := r.Channel(8001)
	assert.False(t, ok, "no channel is created when the registry claim is refused")
}

func TestRouter_RemoveByUser_ReleasesRegistry(t *testing.T) {
	reg := newFakeRegistry(true)
	r := NewRouter(func() (Decoder, error) { return &passthroughDecoder{}, nil }, nil, testLogger(t), DefaultReorderCapacity, DefaultReorderModulus, MinSilentFrames, reg)

	require.NoError(t, r.AddUserSSRC(context.Background(), 1, 9001))
	assert.True(t, reg.claimed[1])

	require.NoError(t, r.RemoveByUser(context.Background(), 1))
	assert.True(t, reg.released[1])
}
