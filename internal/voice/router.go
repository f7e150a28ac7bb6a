package voice

import (
	"context"
	"sync"

	"github.com/rapidaai/voicegate/internal/logging"
)

// SSRCRegistry is the distributed ownership check a multi-instance
// deployment needs on top of the process-local maps below (spec.md §5: the
// maps themselves need no locking under the single-event-loop invariant,
// but two instances can't both claim the same user's SSRC). Optional: a
// Router built with a nil SSRCRegistry skips every Claim/Release call and
// behaves exactly like single-instance routing. Satisfied by
// *internal/registry.SSRCRegistry.
type SSRCRegistry interface {
	Claim(ctx context.Context, userID int64) (bool, error)
	Release(ctx context.Context, userID int64) error
}

// Router demultiplexes decrypted RTP packets to the Channel for their SSRC,
// creating channels on demand, and maintains the SSRC<->user_id mapping
// (spec.md §4.3). A single Router instance is meant to be driven by one
// event-loop goroutine; its maps are not safe for unsynchronized concurrent
// access from multiple goroutines without the mutex this type carries, kept
// here strictly for embedders that do want to call in from more than one
// place (e.g. a transport goroutine plus an admin API).
type Router struct {
	mu sync.Mutex

	logger     logging.Logger
	newDecoder DecoderFactory
	factory    ConsumerFactory
	registry   SSRCRegistry

	reorderCapacity int
	reorderModulus  int64
	minSilentFrames int

	channels   map[uint32]*Channel
	userToSSRC map[int64]uint32
	ssrcToUser map[uint32]int64
}

// NewRouter builds an empty Router. newDecoder is used to construct every
// Channel's opus decoder; factory may be nil and supplied later via
// SetConsumerFactory. reorderCapacity/reorderModulus size every channel's
// reorder window and minSilentFrames its utterance-end threshold; pass
// DefaultReorderCapacity/DefaultReorderModulus/MinSilentFrames for spec.md's
// defaults. registry may be nil to skip distributed ownership checks
// entirely.
func NewRouter(newDecoder DecoderFactory, factory ConsumerFactory, logger logging.Logger, reorderCapacity int, reorderModulus int64, minSilentFrames int, registry SSRCRegistry) *Router {
	return &Router{
		logger:          logger,
		newDecoder:      newDecoder,
		factory:         factory,
		registry:        registry,
		reorderCapacity: reorderCapacity,
		reorderModulus:  reorderModulus,
		minSilentFrames: minSilentFrames,
		channels:        make(map[uint32]*Channel),
		userToSSRC:      make(map[int64]uint32),
		ssrcToUser:      make(map[uint32]int64),
	}
}

// SetConsumerFactory records factory and propagates it to every existing
// channel (spec.md §4.3 "set_consumer_factory").
func (r *Router) SetConsumerFactory(factory ConsumerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = factory
	for _, ch := range r.channels {
		ch.SetConsumerFactory(factory)
	}
}

// AddUserSSRC binds user_id to ssrc. If a channel for ssrc already exists,
// its user is set directly; otherwise a new channel is created and bound
// (spec.md §4.3 "add_user_ssrc"). Eagerly creating presence here, ahead of
// any packet arrival, is what lets the presence state machine reach
// present-with-user without ever seeing present-without-user first.
//
// Rebinding either side of the mapping keeps user_to_ssrc/ssrc_to_user
// injective as spec.md §3 requires. A user reconnecting with a new SSRC has
// the old SSRC's mapping and channel torn down first; without this, the old
// SSRC's channel keeps delivering audio for a user a caller believes has
// moved on. An SSRC reassigned to a different user (far rarer) only loses
// the old user's entry; its existing channel is kept and rebound via
// SetUser.
func (r *Router) AddUserSSRC(ctx context.Context, userID int64, ssrc uint32) error {
	if r.registry != nil {
		claimed, err := r.registry.Claim(ctx, userID)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrSSRCOwnedElsewhere
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if oldSSRC, ok := r.userToSSRC[userID]; ok && oldSSRC != ssrc {
		r.dropChannel(oldSSRC)
		delete(r.ssrcToUser, oldSSRC)
	}
	if oldUser, ok := r.ssrcToUser[ssrc]; ok && oldUser != userID {
		delete(r.userToSSRC, oldUser)
	}

	r.userToSSRC[userID] = ssrc
	r.ssrcToUser[ssrc] = userID

	if ch, ok := r.channels[ssrc]; ok {
		ch.SetUser(userID)
		return nil
	}

	ch, err := NewChannel(ssrc, r.factory, r.newDecoder, r.logger, r.reorderCapacity, r.reorderModulus, r.minSilentFrames)
	if err != nil {
		return err
	}
	ch.SetUser(userID)
	r.channels[ssrc] = ch
	return nil
}

// removeUserSSRC removes both directions of the mapping by whichever of
// userID/ssrc is provided (pass nil for the one you don't have — see
// RemoveByUser/RemoveBySSRC) and drops the channel, flushing its reorder
// window first. Unknown SSRC/user is an idempotent no-op (spec.md §7),
// reported via the sentinel errors rather than silently swallowed so
// callers can log if they care. Releasing the registry claim, if any,
// happens after the map/channel mutation is committed and outside r.mu so a
// slow Redis round trip never blocks packet routing.
func (r *Router) removeUserSSRC(ctx context.Context, userID *int64, ssrc *uint32) error {
	r.mu.Lock()

	var releasedUser int64
	var shouldRelease bool

	switch {
	case userID != nil:
		s, ok := r.userToSSRC[*userID]
		if !ok {
			r.mu.Unlock()
			return ErrUnknownUser
		}
		r.dropChannel(s)
		delete(r.userToSSRC, *userID)
		delete(r.ssrcToUser, s)
		releasedUser, shouldRelease = *userID, true

	case ssrc != nil:
		u, ok := r.ssrcToUser[*ssrc]
		if !ok {
			r.mu.Unlock()
			return ErrUnknownSSRC
		}
		r.dropChannel(*ssrc)
		delete(r.ssrcToUser, *ssrc)
		delete(r.userToSSRC, u)
		releasedUser, shouldRelease = u, true
	}

	r.mu.Unlock()

	if shouldRelease && r.registry != nil {
		if err := r.registry.Release(ctx, releasedUser); err != nil {
			r.logger.Warnw("ssrc registry release failed", "user_id", releasedUser, "error", err)
		}
	}
	return nil
}

// RemoveByUser removes the mapping and channel for userID.
func (r *Router) RemoveByUser(ctx context.Context, userID int64) error {
	return r.removeUserSSRC(ctx, &userID, nil)
}

// RemoveBySSRC removes the mapping and channel for ssrc.
func (r *Router) RemoveBySSRC(ctx context.Context, ssrc uint32) error {
	return r.removeUserSSRC(ctx, nil, &ssrc)
}

// dropChannel flushes and deletes the channel for ssrc, if any. Caller must
// hold r.mu.
func (r *Router) dropChannel(ssrc uint32) {
	if ch, ok := r.channels[ssrc]; ok {
		ch.Close()
		delete(r.channels, ssrc)
	}
}

// OnPacket resolves or creates the channel for ssrc and forwards the
// payload to it (spec.md §4.3 "on_packet"). This is the entry point a
// transport (or any embedder) calls per decrypted, parsed RTP packet.
func (r *Router) OnPacket(ssrc uint32, sequence int64, timestamp uint32, opus []byte) error {
	r.mu.Lock()
	ch, ok := r.channels[ssrc]
	if !ok {
		var err error
		ch, err = NewChannel(ssrc, r.factory, r.newDecoder, r.logger, r.reorderCapacity, r.reorderModulus, r.minSilentFrames)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.channels[ssrc] = ch
	}
	r.mu.Unlock()

	ch.OnData(opus, sequence, timestamp)
	return nil
}

// Channel returns the live channel for ssrc, if any — mainly for tests and
// introspection (e.g. checking Err() after a decode failure).
func (r *Router) Channel(ssrc uint32) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[ssrc]
	return ch, ok
}
