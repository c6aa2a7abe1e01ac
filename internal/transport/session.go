// Package transport implements the authenticated, datagram-oriented
// session abstraction the spec treats as an external collaborator: two
// endpoints, each holding a static keypair, mutually authenticate via a
// Noise handshake and thereafter exchange encrypted datagrams over a
// shared UDP socket.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/flynn/noise"
)

// handshakeTimeout bounds how long a single handshake attempt may take
// before the Managed Peer's connect loop moves on to the next candidate
// address.
const handshakeTimeout = 5 * time.Second

// cipherSuite fixes the Noise protocol parameters: mutual static-key
// authentication (pattern XX), Curve25519, ChaCha20-Poly1305, BLAKE2s.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// Session is one established, authenticated datagram channel to a single
// remote peer, multiplexed over a shared local UDP socket by remote
// address.
type Session struct {
	conn       net.PacketConn
	remoteAddr net.Addr
	send       *noise.CipherState
	recv       *noise.CipherState
}

// RemoteAddr returns the address of the far end of the session.
func (s *Session) RemoteAddr() net.Addr { return s.remoteAddr }

// Send encrypts and writes one plaintext datagram payload.
func (s *Session) Send(plaintext []byte) error {
	ciphertext, err := s.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		return fmt.Errorf("transport: encrypt: %w", err)
	}
	if _, err := s.conn.WriteTo(ciphertext, s.remoteAddr); err != nil {
		return fmt.Errorf("transport: write datagram: %w", err)
	}
	return nil
}

// Decrypt authenticates and decrypts one received ciphertext datagram.
// Decrypt failures (corrupt or forged datagrams) are returned to the
// caller, which drops the datagram and keeps the session open.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	plaintext, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("transport: decrypt: %w", err)
	}
	return plaintext, nil
}

// DialInitiator runs the initiator side of a Noise_XX handshake to addr,
// authenticating with localStatic and verifying the remote's static key
// equals remoteStatic when non-nil. conn is used only to write handshake
// messages; inbound handshake replies arrive on recv, which the caller
// (the connection manager, demuxing the shared socket by source address)
// must feed with every datagram read from addr until the handshake
// completes. It blocks until the handshake completes, fails, or ctx is
// done.
func DialInitiator(ctx context.Context, conn net.PacketConn, addr net.Addr, localStatic noise.DHKey, remoteStatic []byte, recv <-chan []byte) (*Session, error) {
	return handshake(ctx, conn, addr, localStatic, remoteStatic, recv)
}

// AcceptResponder runs the responder side of a Noise_XX handshake against
// whoever is at addr, having already received firstMessage (message 1).
// Like DialInitiator, subsequent inbound handshake messages arrive on
// recv rather than via a direct socket read.
func AcceptResponder(ctx context.Context, conn net.PacketConn, addr net.Addr, localStatic noise.DHKey, firstMessage []byte, recv <-chan []byte) (*Session, error) {
	return handshakeResponder(ctx, conn, addr, localStatic, firstMessage, recv)
}

func waitForMessage(ctx context.Context, recv <-chan []byte, deadline time.Time) ([]byte, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("transport: handshake timed out")
	case msg := <-recv:
		return msg, nil
	}
}

func handshake(ctx context.Context, conn net.PacketConn, addr net.Addr, localStatic noise.DHKey, remoteStatic []byte, recv <-chan []byte) (*Session, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     true,
		StaticKeypair: localStatic,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: init handshake state: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}

	// Noise_XX: -> e, <- e, ee, s, es, -> s, se
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: write msg1: %w", err)
	}
	if _, err := conn.WriteTo(msg1, addr); err != nil {
		return nil, fmt.Errorf("transport: send msg1: %w", err)
	}

	msg2, err := waitForMessage(ctx, recv, deadline)
	if err != nil {
		return nil, fmt.Errorf("transport: read msg2: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg2); err != nil {
		return nil, fmt.Errorf("transport: read msg2: %w", err)
	}

	msg3, csSend, csRecv, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: write msg3: %w", err)
	}
	if _, err := conn.WriteTo(msg3, addr); err != nil {
		return nil, fmt.Errorf("transport: send msg3: %w", err)
	}

	if remoteStatic != nil && !keyEqual(hs.PeerStatic(), remoteStatic) {
		return nil, fmt.Errorf("transport: remote static key mismatch")
	}

	return &Session{conn: conn, remoteAddr: addr, send: csSend, recv: csRecv}, nil
}

func handshakeResponder(ctx context.Context, conn net.PacketConn, addr net.Addr, localStatic noise.DHKey, firstMessage []byte, recv <-chan []byte) (*Session, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     false,
		StaticKeypair: localStatic,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: init handshake state: %w", err)
	}

	if _, _, _, err := hs.ReadMessage(nil, firstMessage); err != nil {
		return nil, fmt.Errorf("transport: read msg1: %w", err)
	}

	msg2, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: write msg2: %w", err)
	}
	if _, err := conn.WriteTo(msg2, addr); err != nil {
		return nil, fmt.Errorf("transport: send msg2: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}

	msg3, err := waitForMessage(ctx, recv, deadline)
	if err != nil {
		return nil, fmt.Errorf("transport: read msg3: %w", err)
	}
	_, csRecv, csSend, err := hs.ReadMessage(nil, msg3)
	if err != nil {
		return nil, fmt.Errorf("transport: read msg3: %w", err)
	}

	return &Session{conn: conn, remoteAddr: addr, send: csSend, recv: csRecv}, nil
}

func keyEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
