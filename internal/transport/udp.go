// Package transport provides the UDP datagram session spec.md §1 names as
// an external collaborator ("the UDP/datagram transport and its
// reconnection logic"). It is the concrete wiring: read a datagram, gate on
// protocol version, decrypt, parse the RTP header, and forward to a
// voice.Router — reconnecting on read error, grounded on
// original_source/discord's VoiceProcessor/VoiceClientProtocol
// (datagram_received + _handle_connection_lost/_reconnect).
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rapidaai/voicegate/internal/logging"
	"github.com/rapidaai/voicegate/internal/rtpwire"
	"github.com/rapidaai/voicegate/internal/voice"
	"github.com/rapidaai/voicegate/internal/voicecrypto"
)

// VoiceProtocolVersion is the minimum accepted first byte of an inbound
// datagram; packets below it are dropped before decryption, matching
// VoiceClientProtocol.VOICE_PROTOCOL_VERSION (0x90) in the original source.
const VoiceProtocolVersion = 0x90

// maxDatagramSize is large enough for any RTP-framed Opus voice packet
// plus SRTP-style framing overhead; matches typical MTU-bound RTP buffer
// sizing (the teacher's own RTPBufferSize constant is 1500).
const maxDatagramSize = 1500

// Router is the subset of *voice.Router the transport depends on — kept as
// an interface so tests can substitute a recording fake.
type Router interface {
	OnPacket(ssrc uint32, sequence int64, timestamp uint32, opus []byte) error
}

var _ Router = (*voice.Router)(nil)

// Session owns one UDP socket and feeds decrypted, parsed packets to a
// Router. The running flag mirrors the original source's boolean flag: once
// Stop is called, a read error no longer triggers a reconnect.
type Session struct {
	logger    logging.Logger
	sessionID string
	box       *voicecrypto.Box
	router    Router

	host string
	port int

	mu      sync.Mutex
	conn    *net.UDPConn
	running atomic.Bool
}

// NewSession builds a Session that will decrypt with box and forward parsed
// packets to router. Each session gets its own correlation ID, matching the
// teacher's WebRTC streamer sessionID convention, so log lines from one
// listener can be told apart from another's.
func NewSession(host string, port int, box *voicecrypto.Box, router Router, logger logging.Logger) *Session {
	sessionID := uuid.New().String()
	return &Session{
		logger:    logger.With("session_id", sessionID),
		sessionID: sessionID,
		box:       box,
		router:    router,
		host:      host,
		port:      port,
	}
}

// Start opens the UDP socket and runs the read loop until ctx is cancelled
// or Stop is called. It blocks; callers typically run it in its own
// goroutine.
func (s *Session) Start(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	for s.running.Load() {
		if err := s.connect(); err != nil {
			s.logger.Errorw("voice udp listen failed", "error", err)
			return err
		}

		err := s.readLoop(ctx)
		s.closeConn()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.running.Load() {
			return nil
		}
		s.logger.Infow("voice udp connection lost, reconnecting", "error", err)
	}
	return nil
}

// Stop ends the read loop; an in-flight read error after Stop will not
// trigger a reconnect.
func (s *Session) Stop() {
	s.running.Store(false)
	s.closeConn()
}

func (s *Session) connect() error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.host), Port: s.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.logger.Infow("voice udp connection made", "host", s.host, "port", s.port)
	return nil
}

func (s *Session) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return nil
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		s.handleDatagram(buf[:n])
	}
}

// handleDatagram implements VoiceClientProtocol.datagram_received: gate on
// protocol version, decrypt, parse, forward. Any failure at this layer is a
// malformed/unauthenticated packet (spec.md §7) — logged and dropped, never
// propagated into the voice engine.
func (s *Session) handleDatagram(raw []byte) {
	if len(raw) == 0 || raw[0] < VoiceProtocolVersion {
		return
	}

	decrypted, err := s.box.Decrypt(raw)
	if err != nil {
		s.logger.Warnw("voice packet decrypt failed, dropping", "error", err)
		return
	}

	pkt, err := rtpwire.Parse(decrypted)
	if err != nil {
		s.logger.Warnw("voice packet parse failed, dropping", "error", err)
		return
	}

	if err := s.router.OnPacket(pkt.SSRC, int64(pkt.Sequence), pkt.Timestamp, pkt.Opus); err != nil {
		s.logger.Errorw("router failed to handle packet", "ssrc", pkt.SSRC, "error", err)
	}
}
