// Package rtpwire parses decrypted RTP packets into the fields the voice
// engine needs. spec.md §1 treats RTP header parsing as an external
// collaborator; this package is the concrete implementation, grounded on
// the teacher's own direct dependency github.com/pion/rtp (already used for
// TrackRemote handling in internal/channel/webrtc/streamer.go).
package rtpwire

import (
	"errors"

	"github.com/pion/rtp"
)

// ErrMalformedPacket is returned for input that fails to parse as RTP.
// Per spec.md §7 this never reaches the voice engine: callers discard the
// packet below the core rather than propagating the error upward.
var ErrMalformedPacket = errors.New("rtpwire: malformed RTP packet")

// Packet is the subset of a parsed RTP packet the voice engine's core
// operates on (spec.md §6's "decrypted RTP fields").
type Packet struct {
	Version     uint8
	PayloadType uint8
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
	// HeaderExtension holds any generic RFC 3550/RFC 5285 header extension
	// payloads present on the packet (concatenated, in header order). Most
	// voice packets carry none; the voice engine's core never inspects it.
	HeaderExtension []byte
	Opus            []byte
}

// Parse decodes a decrypted RTP datagram, delegating the full header parse
// (including any generic RFC 5285 extension) to pion/rtp. It never returns
// the underlying pion/rtp error directly — callers only need "malformed,
// drop it", matching spec.md §7's malformed-packet handling.
func Parse(decrypted []byte) (Packet, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(decrypted); err != nil {
		return Packet{}, ErrMalformedPacket
	}

	var ext []byte
	if pkt.Header.Extension {
		for _, e := range pkt.Header.Extensions {
			ext = append(ext, e.Payload...)
		}
	}

	return Packet{
		Version:         pkt.Version,
		PayloadType:     pkt.PayloadType,
		Sequence:        pkt.SequenceNumber,
		Timestamp:       pkt.Timestamp,
		SSRC:            pkt.SSRC,
		HeaderExtension: ext,
		Opus:            pkt.Payload,
	}, nil
}
