package connmanager

import (
	"path/filepath"
	"testing"

	"github.com/coldglass/voicemesh/internal/events"
	"github.com/coldglass/voicemesh/internal/identity"
	"github.com/coldglass/voicemesh/internal/keystore"
	"github.com/coldglass/voicemesh/internal/peer"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ks, err := keystore.Open(filepath.Join(t.TempDir(), "keystore.bolt"))
	if err != nil {
		t.Fatalf("open keystore: %v", err)
	}
	t.Cleanup(func() { ks.Close() })

	evs := make(chan events.AppEvent, 64)
	m, err := New(Config{Port: 0, IPVersion: "dualstack"}, ks, nil, 48000, 48000, evs, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() {
		for _, s := range m.sockets {
			s.Close()
		}
	})
	return m
}

// TestHandleDiscoveredSelfFiltered covers invariant 10: a room entry
// whose derived id equals our own is never registered as a peer.
func TestHandleDiscoveredSelfFiltered(t *testing.T) {
	m := newTestManager(t)
	selfId := identity.DeriveId(m.LocalPublicKey(), m.LocalPublicKey())
	m.SetSelfId(selfId)

	m.HandleDiscovered(m.LocalPublicKey(), peer.AugmentedInfo{DisplayName: "me"})

	m.mu.Lock()
	n := len(m.peers)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected self entry to be filtered, registered %d peers", n)
	}
}

// TestHandleDiscoveredRegistersNewPeer covers the upsert path: a
// never-seen public key becomes exactly one registry entry.
func TestHandleDiscoveredRegistersNewPeer(t *testing.T) {
	m := newTestManager(t)

	theirKey := []byte{9, 9, 9, 9}
	info := peer.AugmentedInfo{DisplayName: "bob", ConnectionInfo: peer.ConnectionInfo{PublicKey: theirKey, Addresses: []string{"127.0.0.1:9100"}}}
	m.HandleDiscovered(theirKey, info)

	m.mu.Lock()
	n := len(m.peers)
	m.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly 1 registered peer, got %d", n)
	}
}

func TestDispatchSetMuteSelf(t *testing.T) {
	m := newTestManager(t)
	muted := true
	m.Dispatch(events.UserInputEvent{SetMuteSelf: &muted})
	if !m.muteSelf.Load() {
		t.Fatalf("expected mute_self to be set")
	}
}
