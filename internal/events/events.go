// Package events defines the two channel-carried contracts between the
// core and its outer collaborators (terminal UI, CLI): UserInputEvent
// flows in, AppEvent flows out.
package events

import "github.com/coldglass/voicemesh/internal/identity"

// UserInputEvent is something the user (or the UI acting for them) asked
// the core to do.
type UserInputEvent struct {
	EnablePeer     *PeerRef
	DisablePeer    *PeerRef
	EnableDenoise  *PeerRef
	DisableDenoise *PeerRef
	SetVolume      *SetVolume
	SendMessage    *SendMessage
	SetMuteSelf    *bool
}

// PeerRef names a peer by its stringified PeerId.
type PeerRef struct {
	Id string
}

// SetVolume sets one peer's volume to V (0..=200).
type SetVolume struct {
	Id string
	V  int
}

// SendMessage fans a chat message out to every connected peer.
type SendMessage struct {
	Text string
}

// PeerStatus mirrors the Managed Peer state machine for AppEvent purposes.
type PeerStatus int

const (
	StatusDisabled PeerStatus = iota
	StatusConnecting
	StatusConnected
)

// PeerState describes one peer's displayable state.
type PeerState struct {
	Id          identity.PeerId
	DisplayName string
	Status      PeerStatus
	Address     string // candidate (Connecting) or remote (Connected) address; empty when Disabled
}

// AppEvent is something the core reports outward.
type AppEvent struct {
	AddPeer           *PeerState
	NewMessage        *NewMessage
	Loudness          *Loudness
	MuteSelf          *bool
	SetOwnPublicKey   *string
	SetServer         []string
	SetRoom           *string
	SetOwnDisplayName *string
}

// NewMessage reports a chat message received from a peer.
type NewMessage struct {
	PeerId identity.PeerId
	Text   string
}

// Loudness reports the current loudness scalar for a peer, in [0,1].
type Loudness struct {
	PeerId   identity.PeerId
	Loudness float64
}
