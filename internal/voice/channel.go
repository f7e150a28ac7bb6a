package voice

import (
	"sync"

	"github.com/rapidaai/voicegate/internal/logging"
	"github.com/rapidaai/voicegate/internal/reorder"
)

// DefaultReorderCapacity and DefaultReorderModulus match spec.md §3: a
// 32-slot window over a 2^31-1 sequence space.
const (
	DefaultReorderCapacity = 32
	DefaultReorderModulus  = (1 << 31) - 1

	// MinSilentFrames is the number of consecutive trailing silence frames
	// that close an utterance (spec.md §4.2).
	MinSilentFrames = 5
)

// Channel is one Voice Channel: it owns a single SSRC's reorder window and
// opus decoder, binds to a user identity, and drives one Consumer's
// lifecycle per utterance. Every exported method takes the channel's mutex,
// so calls on one Channel are serialized.
type Channel struct {
	mu sync.Mutex

	ssrc   uint32
	logger logging.Logger

	userID          *int64
	factory         ConsumerFactory
	consumer        Consumer
	preBuffer       [][]byte // raw opus payloads received before a consumer existed
	silenceRun      int
	minSilentFrames int
	decoder         Decoder
	newDecoder      DecoderFactory
	window          *reorder.Window
	decodeError     error // sticky: set once the decoder fails, channel is dead
}

// NewChannel constructs a Channel for ssrc. factory may be nil (bound later
// via SetConsumerFactory). newDecoder builds the opus decoder the channel
// owns for its lifetime, reset at the start of every utterance. capacity and
// modulus size the reorder window (spec.md §9 OQ1: configurable, defaulting
// to DefaultReorderCapacity/DefaultReorderModulus). minSilentFrames overrides
// MinSilentFrames, matching AppConfig.SilenceThreshold.
func NewChannel(ssrc uint32, factory ConsumerFactory, newDecoder DecoderFactory, logger logging.Logger, capacity int, modulus int64, minSilentFrames int) (*Channel, error) {
	dec, err := newDecoder()
	if err != nil {
		return nil, err
	}
	c := &Channel{
		ssrc:            ssrc,
		logger:          logger,
		factory:         factory,
		decoder:         dec,
		newDecoder:      newDecoder,
		minSilentFrames: minSilentFrames,
	}
	c.window = reorder.New(capacity, modulus, c.deliver)
	return c, nil
}

// SSRC returns the channel's immutable identifier.
func (c *Channel) SSRC() uint32 { return c.ssrc }

// SetUser records the bound user_id, then attempts consumer init (spec.md
// §4.2 "set_user").
func (c *Channel) SetUser(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = &userID
	c.maybeInitConsumer()
}

// SetConsumerFactory records factory, then attempts consumer init (spec.md
// §4.2 "set_consumer_factory").
func (c *Channel) SetConsumerFactory(factory ConsumerFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factory = factory
	c.maybeInitConsumer()
}

// maybeInitConsumer creates a consumer when user_id and factory are both
// set, no consumer currently exists, and there is pre-buffered data to
// deliver — i.e. real audio has already arrived (spec.md §4.2: "if no data
// has arrived yet, consumer creation is deferred until the first data
// packet"). Caller must hold c.mu.
func (c *Channel) maybeInitConsumer() {
	if c.userID == nil || c.factory == nil || c.consumer != nil {
		return
	}
	if len(c.preBuffer) == 0 {
		return
	}
	hasVoice := false
	for _, opus := range c.preBuffer {
		if !isSilence(opus) {
			hasVoice = true
			break
		}
	}
	if !hasVoice {
		// Silence alone never starts an utterance; drop it as OnData does.
		c.preBuffer = nil
		return
	}
	c.startConsumer()
	for _, opus := range c.preBuffer {
		c.decodeAndDeliver(0, opus)
	}
	c.preBuffer = nil
}

// startConsumer resets the decoder and creates+starts a new consumer. Caller
// must hold c.mu and must have already checked userID/factory are set and no
// consumer is live.
func (c *Channel) startConsumer() {
	if err := c.decoder.Reset(); err != nil {
		c.logger.Errorw("opus decoder reset failed", "ssrc", c.ssrc, "error", err)
		c.decodeError = err
		return
	}
	c.consumer = c.factory.Create(*c.userID)
	c.consumer.OnStart()
}

// OnData handles one decrypted, demuxed RTP payload for this SSRC (spec.md
// §4.2 "on_data"). sequence and timestamp come straight off the wire;
// opusAudio is the raw, still-encoded opus payload.
func (c *Channel) OnData(opusAudio []byte, sequence int64, timestamp uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.decodeError != nil {
		return
	}

	if c.consumer == nil {
		if c.userID == nil || c.factory == nil {
			// Pre-buffer stores raw opus; the timestamp is discarded
			// pre-binding, matching the original source's buffered_data list.
			c.preBuffer = append(c.preBuffer, append([]byte(nil), opusAudio...))
			return
		}
		if isSilence(opusAudio) {
			// Do not start an utterance on silence.
			return
		}
		c.startConsumer()
		if c.decodeError != nil {
			return
		}
	}

	c.window.Add(sequence, frameIn{timestamp: timestamp, opus: opusAudio})

	// Silence is evaluated on the input payload, not on anything the window
	// later drains — this bounds end-of-utterance latency by wall-clock
	// arrival instead of by missing sequence numbers.
	if isSilence(opusAudio) {
		c.silenceRun++
		if c.silenceRun >= c.minSilentFrames {
			c.window.Flush()
			c.silenceRun = 0
			if c.consumer != nil {
				c.consumer.OnEnd()
				c.consumer = nil
			}
		}
	} else {
		c.silenceRun = 0
	}
}

// frameIn is what the reorder window buffers: the raw opus payload plus the
// timestamp it arrived with.
type frameIn struct {
	timestamp uint32
	opus      []byte
}

// deliver is the reorder window's OnReady callback: decode to PCM and hand
// it to the live consumer, in logical sequence order.
func (c *Channel) deliver(payload any) {
	f := payload.(frameIn)
	c.decodeAndDeliver(f.timestamp, f.opus)
}

func (c *Channel) decodeAndDeliver(timestamp uint32, opus []byte) {
	if c.consumer == nil || c.decodeError != nil {
		return
	}
	pcm, err := c.decoder.Decode(opus)
	if err != nil {
		c.logger.Errorw("opus decode failed, tearing down channel", "ssrc", c.ssrc, "error", err)
		c.decodeError = err
		if c.consumer != nil {
			c.consumer.OnEnd()
			c.consumer = nil
		}
		return
	}
	c.consumer.OnData(PCMFrame{Timestamp: timestamp, PCM: pcm})
}

// Close flushes the reorder window through whatever consumer is live; the
// rest of the channel's state is left as it is. It deliberately does not call OnEnd
// unconditionally (spec.md §4.2 "Destruction" / §9 OQ3): a live consumer
// that has only ever seen non-silence frames has not observed a real
// end-of-utterance, so closing the channel is an abnormal close, not one.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window.Flush()
}
