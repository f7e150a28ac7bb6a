// Package voicecrypto implements the three SRTP-like packet decryption
// modes spec.md §9 names as a tagged variant without specifying their
// nonce derivation. The detail comes from original_source/discord's
// VoiceClientProtocol, which wraps NaCl secretbox; this package uses the
// Go ecosystem equivalent, golang.org/x/crypto/nacl/secretbox, already
// present (indirect) in the teacher's module graph.
package voicecrypto

import (
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// Mode selects a nonce-derivation scheme. The wire format for all three is
// identical (12-byte RTP header + encrypted body); only where the 24-byte
// secretbox nonce comes from differs.
type Mode int

const (
	// ModeNormal derives the nonce from the 12-byte RTP header, zero-padded
	// to 24 bytes.
	ModeNormal Mode = iota
	// ModeSuffix appends a full 24-byte random nonce to the end of the
	// packet.
	ModeSuffix
	// ModeLite appends a 4-byte incrementing counter nonce, zero-padded to
	// 24 bytes, to the end of the packet.
	ModeLite
)

// rtpHeaderLen is the fixed 12-byte RTP header every mode leaves unencrypted
// in front of the payload.
const rtpHeaderLen = 12

var (
	// ErrShortPacket is returned when the datagram is too small to contain
	// the fixed-size framing a mode requires.
	ErrShortPacket = errors.New("voicecrypto: packet too short")
	// ErrAuthentication is returned when secretbox's Poly1305 tag check
	// fails — tampered, corrupt, or wrong-key data.
	ErrAuthentication = errors.New("voicecrypto: authentication failed")
)

// Box decrypts packets encrypted under a single fixed secret key using the
// chosen Mode. A Box is never modified after NewBox and Decrypt has no
// mutable state, so one Box may be shared across goroutines.
type Box struct {
	key  [32]byte
	mode Mode
}

// NewBox builds a Box from a 32-byte shared secret and decryption mode.
func NewBox(key [32]byte, mode Mode) *Box {
	return &Box{key: key, mode: mode}
}

// Decrypt splits raw into its unencrypted 12-byte RTP header and encrypted
// body, derives the nonce for b's mode, and authenticates+decrypts the
// body. It returns the original 12-byte header (still needed by rtpwire to
// parse sequence/timestamp/ssrc) concatenated with the decrypted plaintext,
// matching spec.md §6's "decrypted RTP fields" input shape.
func (b *Box) Decrypt(raw []byte) ([]byte, error) {
	header, body, nonce, err := b.split(raw)
	if err != nil {
		return nil, err
	}

	plain, ok := secretbox.Open(nil, body, &nonce, &b.key)
	if !ok {
		return nil, ErrAuthentication
	}

	out := make([]byte, 0, len(header)+len(plain))
	out = append(out, header...)
	out = append(out, plain...)
	return out, nil
}

// split returns the unencrypted header, the encrypted body (Mode-dependent
// trailer stripped), and the 24-byte nonce to open it with.
func (b *Box) split(raw []byte) (header, body []byte, nonce [24]byte, err error) {
	if len(raw) < rtpHeaderLen {
		return nil, nil, nonce, ErrShortPacket
	}
	header = raw[:rtpHeaderLen]

	switch b.mode {
	case ModeNormal:
		copy(nonce[:], header)
		body = raw[rtpHeaderLen:]

	case ModeSuffix:
		const nonceLen = 24
		if len(raw) < rtpHeaderLen+nonceLen {
			return nil, nil, nonce, ErrShortPacket
		}
		copy(nonce[:], raw[len(raw)-nonceLen:])
		body = raw[rtpHeaderLen : len(raw)-nonceLen]

	case ModeLite:
		const nonceLen = 4
		if len(raw) < rtpHeaderLen+nonceLen {
			return nil, nil, nonce, ErrShortPacket
		}
		copy(nonce[:nonceLen], raw[len(raw)-nonceLen:])
		body = raw[rtpHeaderLen : len(raw)-nonceLen]

	default:
		return nil, nil, nonce, errors.New("voicecrypto: unknown mode")
	}

	return header, body, nonce, nil
}
