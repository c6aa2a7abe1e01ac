package peer

import (
	"testing"

	"github.com/coldglass/voicemesh/internal/events"
	"github.com/coldglass/voicemesh/internal/identity"
)

func TestConnectionInfoEqual(t *testing.T) {
	a := ConnectionInfo{PublicKey: []byte{1, 2, 3}, Addresses: []string{"1.1.1.1:1"}}
	b := ConnectionInfo{PublicKey: []byte{1, 2, 3}, Addresses: []string{"1.1.1.1:1"}}
	c := ConnectionInfo{PublicKey: []byte{1, 2, 3}, Addresses: []string{"2.2.2.2:2"}}

	if !a.Equal(b) {
		t.Fatalf("expected equal ConnectionInfo values to compare equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected differing addresses to compare unequal")
	}
}

// TestDisabledPeerIsNotRunning covers the Managed Peer invariant that a
// freshly constructed peer starts Disabled and SetInfo on it does not
// trigger a spurious connect cycle (no Deps wired, so Enable/Disable
// would otherwise panic against a nil socket).
func TestDisabledPeerIsNotRunning(t *testing.T) {
	evs := make(chan events.AppEvent, 8)
	id := identity.PeerId{1}
	info := AugmentedInfo{DisplayName: "alice", ConnectionInfo: ConnectionInfo{Addresses: []string{"127.0.0.1:9000"}}}

	p := New(id, info, Deps{Events: evs})
	if p.Status() != Disabled {
		t.Fatalf("expected a freshly constructed peer to be Disabled, got %v", p.Status())
	}

	// Same info: SetInfo must be a no-op and must not start anything.
	p.SetInfo(info)
	if p.Status() != Disabled {
		t.Fatalf("expected SetInfo with identical info to remain Disabled, got %v", p.Status())
	}

	// Different info while Disabled: stored, but still no connect loop
	// started since the peer was never Enabled.
	newInfo := AugmentedInfo{DisplayName: "alice2", ConnectionInfo: ConnectionInfo{Addresses: []string{"127.0.0.1:9001"}}}
	p.SetInfo(newInfo)
	if p.Status() != Disabled {
		t.Fatalf("expected peer to remain Disabled after SetInfo while not running, got %v", p.Status())
	}
	if p.currentInfo().DisplayName != "alice2" {
		t.Fatalf("expected stored info to update even while Disabled")
	}
}
