// Package voice implements the per-speaker stream-lifecycle engine: the
// Voice Channel (one per SSRC, owning a reorder window and an opus decoder)
// and the Voice Router that demultiplexes incoming packets to channels by
// SSRC and tracks the SSRC<->user mapping.
package voice

import "errors"

// Consumer is the embedder-supplied sink for one utterance. on_start
// precedes any on_data; on_end closes it. A Channel holds at most one live
// Consumer at a time.
type Consumer interface {
	OnStart()
	OnData(frame PCMFrame)
	OnEnd()
}

// ConsumerFactory creates a Consumer once a Channel has both a bound user
// and real (non-silence) audio to deliver.
type ConsumerFactory interface {
	Create(userID int64) Consumer
}

// ConsumerFactoryFunc adapts a plain function to ConsumerFactory.
type ConsumerFactoryFunc func(userID int64) Consumer

// Create implements ConsumerFactory.
func (f ConsumerFactoryFunc) Create(userID int64) Consumer { return f(userID) }

// PCMFrame pairs a decoded PCM payload with the RTP timestamp it was decoded
// from.
type PCMFrame struct {
	Timestamp uint32
	PCM       []byte
}

// Decoder is the opaque opus-decode primitive a Channel owns. Decode must
// tolerate consecutive calls and preserve state across packets within one
// utterance; Reset is called at consumer init so a fresh utterance never
// inherits stale decoder state from the previous one.
type Decoder interface {
	Decode(opus []byte) (pcm []byte, err error)
	Reset() error
}

// DecoderFactory builds a fresh Decoder for a new Channel. Kept as a factory
// (rather than a single shared Decoder) because opus decoder state is
// strictly per-stream.
type DecoderFactory func() (Decoder, error)

// ErrUnknownSSRC and ErrUnknownUser are returned by idempotent Router
// removal operations that found nothing to remove — never treated as fatal
// by callers (spec.md §7: "idempotent no-ops").
var (
	ErrUnknownSSRC = errors.New("voice: unknown ssrc")
	ErrUnknownUser = errors.New("voice: unknown user")
)

// ErrSSRCOwnedElsewhere is returned by AddUserSSRC when the Router was built
// with an SSRCRegistry and another instance already claims userID's SSRC.
var ErrSSRCOwnedElsewhere = errors.New("voice: ssrc owned by another instance")

// silenceMarker is the canonical 3-byte Opus silence-frame trailer.
var silenceMarker = [3]byte{0xF8, 0xFF, 0xFE}

func isSilence(opus []byte) bool {
	if len(opus) < 3 {
		return false
	}
	tail := opus[len(opus)-3:]
	return tail[0] == silenceMarker[0] && tail[1] == silenceMarker[1] && tail[2] == silenceMarker[2]
}
