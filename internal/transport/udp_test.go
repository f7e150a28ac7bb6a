package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/rapidaai/voicegate/internal/logging"
	"github.com/rapidaai/voicegate/internal/voicecrypto"
)

type recordedPacket struct {
	ssrc      uint32
	sequence  int64
	timestamp uint32
	opus      []byte
}

type fakeRouter struct {
	mu      sync.Mutex
	packets []recordedPacket
}

func (f *fakeRouter) OnPacket(ssrc uint32, sequence int64, timestamp uint32, opus []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packets = append(f.packets, recordedPacket{ssrc, sequence, timestamp, opus})
	return nil
}

func (f *fakeRouter) snapshot() []recordedPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedPacket, len(f.packets))
	copy(out, f.packets)
	return out
}

func testLogger(t *testing.T) logging.Logger {
	t.Helper()
	l, err := logging.NewApplicationLogger(logging.Config{Level: "debug"})
	require.NoError(t, err)
	return l
}

func buildEncryptedDatagram(t *testing.T, key [32]byte, seq uint16, ts, ssrc uint32, opus []byte) []byte {
	t.Helper()

	header, err := (&rtp.Header{
		Version:        2,
		PayloadType:    120,
		SequenceNumber: seq,
		Timestamp:      ts,
		SSRC:           ssrc,
	}).Marshal()
	require.NoError(t, err)
	// Set the RTP extension bit so the transmitted first byte satisfies the
	// voice protocol version gate (0x90), and prepend a zero-length one-byte
	// header extension (profile 0xBEDE, length 0 words) to the plaintext so
	// the receiver's generic RTP parse of that bit stays consistent.
	header[0] |= 0x10
	plaintext := append([]byte{0xbe, 0xde, 0x00, 0x00}, opus...)

	var nonce [24]byte
	copy(nonce[:], header)
	sealed := secretbox.Seal(nil, plaintext, &nonce, &key)

	raw := make([]byte, 0, len(header)+len(sealed))
	raw = append(raw, header...)
	raw = append(raw, sealed...)
	return raw
}

func TestSession_DecryptsParsesAndForwards(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}

	router := &fakeRouter{}
	box := voicecrypto.NewBox(key, voicecrypto.ModeNormal)
	sess := NewSession("127.0.0.1", 0, box, router, testLogger(t))

	require.NoError(t, sess.connect())
	defer sess.closeConn()

	addr := sess.conn.LocalAddr().(*net.UDPAddr)

	opus := []byte{9, 8, 7, 6}
	datagram := buildEncryptedDatagram(t, key, 42, 1000, 555, opus)

	client, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.running.Store(true)
	go sess.readLoop(ctx)

	_, err = client.Write(datagram)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(router.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := router.snapshot()[0]
	assert.EqualValues(t, 555, got.ssrc)
	assert.EqualValues(t, 42, got.sequence)
	assert.EqualValues(t, 1000, got.timestamp)
	assert.Equal(t, opus, got.opus)
}

func TestSession_DropsSubVersionPacket(t *testing.T) {
	router := &fakeRouter{}
	var key [32]byte
	box := voicecrypto.NewBox(key, voicecrypto.ModeNormal)
	sess := NewSession("127.0.0.1", 0, box, router, testLogger(t))

	sess.handleDatagram([]byte{0x01, 0x02, 0x03})
	assert.Empty(t, router.snapshot())
}
