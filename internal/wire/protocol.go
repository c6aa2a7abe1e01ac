// Package wire implements the framing and (de)serialization of
// ProtocolMessage values exchanged one-per-datagram over a peer session.
package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// kind tags the payload that follows in a datagram, so the decoder knows
// which struct to unmarshal into before looking at its fields.
type kind byte

const (
	kindAudioFrame      kind = 1
	kindIdentityDeclare kind = 2
	kindPeerDiscovery   kind = 3
	kindChatMessage     kind = 4
)

// Message is the tagged union of everything that can travel over a
// session. Exactly one of the typed fields is set; Encode picks the kind
// tag from whichever one it is.
type Message struct {
	AudioFrame    *AudioFrame
	Identity      *IdentityDeclaration
	PeerDiscovery *PeerDiscovery
	ChatMessage   *ChatMessage
}

// AudioFrame carries one Opus-encoded packet for a monotonic per-session
// sequence number.
type AudioFrame struct {
	Seq       uint64
	OpusBytes []byte
}

// PeerIdentity is a self-reported identity, accepted but not acted upon
// by this core (IdentityDeclaration/PeerDiscovery are forwarding-only).
type PeerIdentity struct {
	CanonicalName string
	DisplayName   string
	Addresses     []string
}

// IdentityDeclaration announces a peer's own identity and candidate
// addresses. Accepted and ignored by this core.
type IdentityDeclaration struct {
	Identity PeerIdentity
}

// PeerDiscovery forwards a list of identities known to the sender.
// Accepted and ignored by this core.
type PeerDiscovery struct {
	Peers []PeerIdentity
}

// ChatMessage is a short free-form text message.
type ChatMessage struct {
	Text string
}

// NewAudioFrame wraps an AudioFrame in a Message.
func NewAudioFrame(seq uint64, opusBytes []byte) Message {
	return Message{AudioFrame: &AudioFrame{Seq: seq, OpusBytes: opusBytes}}
}

// NewChatMessage wraps a ChatMessage in a Message.
func NewChatMessage(text string) Message {
	return Message{ChatMessage: &ChatMessage{Text: text}}
}

// Encode writes a Message as a one-byte kind tag followed by the
// msgpack-encoded payload, matching the tag-then-fields framing of the
// original self-describing binary encoding. Each call produces exactly
// one datagram's worth of bytes.
func Encode(m Message) ([]byte, error) {
	var k kind
	var payload any

	switch {
	case m.AudioFrame != nil:
		k, payload = kindAudioFrame, m.AudioFrame
	case m.Identity != nil:
		k, payload = kindIdentityDeclare, m.Identity
	case m.PeerDiscovery != nil:
		k, payload = kindPeerDiscovery, m.PeerDiscovery
	case m.ChatMessage != nil:
		k, payload = kindChatMessage, m.ChatMessage
	default:
		return nil, fmt.Errorf("wire: empty message has no payload to encode")
	}

	body, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(k))
	out = append(out, body...)
	return out, nil
}

// Decode parses a single datagram into a Message. Any datagram that does
// not decode cleanly (unknown tag, truncated or corrupt payload) returns
// an error; the caller drops the datagram and keeps the session open.
func Decode(data []byte) (Message, error) {
	if len(data) < 1 {
		return Message{}, fmt.Errorf("wire: empty datagram")
	}

	k := kind(data[0])
	body := data[1:]

	switch k {
	case kindAudioFrame:
		var f AudioFrame
		if err := msgpack.Unmarshal(body, &f); err != nil {
			return Message{}, fmt.Errorf("wire: decode audio frame: %w", err)
		}
		return Message{AudioFrame: &f}, nil
	case kindIdentityDeclare:
		var d IdentityDeclaration
		if err := msgpack.Unmarshal(body, &d); err != nil {
			return Message{}, fmt.Errorf("wire: decode identity declaration: %w", err)
		}
		return Message{Identity: &d}, nil
	case kindPeerDiscovery:
		var d PeerDiscovery
		if err := msgpack.Unmarshal(body, &d); err != nil {
			return Message{}, fmt.Errorf("wire: decode peer discovery: %w", err)
		}
		return Message{PeerDiscovery: &d}, nil
	case kindChatMessage:
		var c ChatMessage
		if err := msgpack.Unmarshal(body, &c); err != nil {
			return Message{}, fmt.Errorf("wire: decode chat message: %w", err)
		}
		return Message{ChatMessage: &c}, nil
	default:
		return Message{}, fmt.Errorf("wire: unknown message kind %d", k)
	}
}
