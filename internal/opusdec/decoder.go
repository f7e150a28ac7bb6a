// Package opusdec adapts gopkg.in/hraban/opus.v2 — the opus decoder the
// teacher's own go.mod already declares — to the voice.Decoder contract
// (decode(bytes) -> pcm_bytes, reset()) spec.md §4.2/§6 treats as an opaque
// external primitive.
package opusdec

import (
	"encoding/binary"

	"gopkg.in/hraban/opus.v2"
)

// Standard voice-grade Opus parameters matching RFC 7587's RTP mapping for
// a 20ms frame: 48kHz sample rate, stereo-signaled even for mono sources.
const (
	SampleRate     = 48000
	Channels       = 2
	FrameSamples   = 960 // 20ms at 48kHz
	maxFrameSample = 5760 // 120ms, the largest legal Opus frame at 48kHz
)

// Decoder wraps a stateful *opus.Decoder. It is not safe for concurrent use;
// a voice.Channel owns exactly one Decoder for its lifetime.
type Decoder struct {
	dec *opus.Decoder
	buf []int16
}

// New constructs a Decoder at the standard voice sample rate/channel count.
func New() (*Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, err
	}
	return &Decoder{
		dec: dec,
		buf: make([]int16, maxFrameSample*Channels),
	}, nil
}

// Decode decodes one opus packet into 16-bit little-endian interleaved PCM
// bytes. Decoder state (e.g. packet-loss concealment history) persists
// across calls, matching the "must tolerate consecutive calls and preserve
// state across packets within one utterance" contract of spec.md §6.
func (d *Decoder) Decode(opusBytes []byte) ([]byte, error) {
	n, err := d.dec.Decode(opusBytes, d.buf)
	if err != nil {
		return nil, err
	}
	samples := d.buf[:n*Channels]
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}

// Reset discards decoder state, called at the start of every new utterance
// (spec.md §4.2 "reset the decoder") so stale state from a previous
// consumer never leaks across utterance boundaries.
func (d *Decoder) Reset() error {
	return d.dec.ResetState()
}
