// Package connmanager owns the process-wide UDP socket(s), the local
// static keypair, and the registry of remote peers. It demultiplexes
// inbound datagrams by source address to the owning peer.ManagedPeer and
// dispatches UserInputEvent commands from the UI/CLI layer.
package connmanager

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coldglass/voicemesh/internal/audioio"
	"github.com/coldglass/voicemesh/internal/events"
	"github.com/coldglass/voicemesh/internal/identity"
	"github.com/coldglass/voicemesh/internal/keystore"
	"github.com/coldglass/voicemesh/internal/peer"
	"github.com/flynn/noise"
)

// readBufferSize bounds a single inbound UDP datagram. Opus frames are
// small; this is generous headroom.
const readBufferSize = 4096

// Manager is the root owner of networking state: the bound socket(s), the
// static keypair, and every known ManagedPeer.
type Manager struct {
	logger *slog.Logger

	sockets []net.PacketConn

	localStatic noise.DHKey
	selfId      identity.PeerId

	mu        sync.Mutex
	peers     map[identity.PeerId]*peer.ManagedPeer
	infos     map[identity.PeerId]peer.AugmentedInfo
	addrIndex map[string]identity.PeerId

	muteSelf atomic.Bool

	capture      *audioio.Capture
	sampleRate   int
	playbackRate uint32
	events       chan<- events.AppEvent
}

// Config is the subset of resolved application configuration the
// connection manager needs to bind sockets.
type Config struct {
	Port      uint16
	IPVersion string // "ipv4", "ipv6", or "dualstack"
}

// New binds the configured UDP socket(s), loads or generates the local
// static keypair from ks, and returns a ready (but not yet running)
// Manager. Port 0 binds one ephemeral dual-stack-capable socket; any
// other port binds IPv4 on that port and, for "dualstack", IPv6 on
// port+1 as well (the two address families cannot share one port
// without platform-specific socket options, so an explicit port spreads
// across two).
func New(cfg Config, ks *keystore.Store, capture *audioio.Capture, sampleRate int, playbackRate uint32, evs chan<- events.AppEvent, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	localStatic, err := ks.LoadOrGenerate()
	if err != nil {
		return nil, fmt.Errorf("connmanager: load keypair: %w", err)
	}

	var sockets []net.PacketConn
	switch {
	case cfg.Port == 0:
		conn, err := net.ListenPacket("udp", ":0")
		if err != nil {
			return nil, fmt.Errorf("connmanager: bind ephemeral socket: %w", err)
		}
		sockets = append(sockets, conn)
	default:
		if cfg.IPVersion != "ipv6" {
			conn, err := net.ListenPacket("udp4", ":"+strconv.Itoa(int(cfg.Port)))
			if err != nil {
				return nil, fmt.Errorf("connmanager: bind ipv4 socket: %w", err)
			}
			sockets = append(sockets, conn)
		}
		if cfg.IPVersion != "ipv4" {
			conn, err := net.ListenPacket("udp6", ":"+strconv.Itoa(int(cfg.Port)+1))
			if err != nil {
				return nil, fmt.Errorf("connmanager: bind ipv6 socket: %w", err)
			}
			sockets = append(sockets, conn)
		}
	}

	m := &Manager{
		logger:       logger,
		sockets:      sockets,
		localStatic:  localStatic,
		peers:        make(map[identity.PeerId]*peer.ManagedPeer),
		infos:        make(map[identity.PeerId]peer.AugmentedInfo),
		addrIndex:    make(map[string]identity.PeerId),
		capture:      capture,
		sampleRate:   sampleRate,
		playbackRate: playbackRate,
		events:       evs,
	}
	m.muteSelf.Store(false)
	return m, nil
}

// LocalPublicKey returns the local static public key, published to the
// rendezvous room inside AugmentedInfo.
func (m *Manager) LocalPublicKey() []byte { return m.localStatic.Public }

// SetSelfId records the locally-derived identity so discovered peers
// matching it are ignored (a room always contains your own publication).
func (m *Manager) SetSelfId(id identity.PeerId) { m.selfId = id }

// Run starts the read loop for every bound socket and blocks until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sock := range m.sockets {
		wg.Add(1)
		go func(conn net.PacketConn) {
			defer wg.Done()
			m.readLoop(ctx, conn)
		}(sock)
	}
	<-ctx.Done()
	for _, sock := range m.sockets {
		sock.Close()
	}
	wg.Wait()
}

// readLoop demultiplexes inbound datagrams by source address to the
// ManagedPeer currently registered for that address.
func (m *Manager) readLoop(ctx context.Context, conn net.PacketConn) {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Debug("socket read error", "err", err)
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		m.mu.Lock()
		id, ok := m.addrIndex[addr.String()]
		var mp *peer.ManagedPeer
		if ok {
			mp = m.peers[id]
		}
		m.mu.Unlock()

		if mp == nil {
			m.logger.Debug("dropping datagram from unregistered address", "addr", addr.String())
			continue
		}
		mp.Deliver(datagram)
	}
}

// HandleDiscovered upserts the registry entry for one rendezvous-sourced
// AugmentedInfo: the self entry is ignored, a new ManagedPeer is created
// and enabled on first sight, and an existing one has SetInfo called
// (which reconnects only if the info actually changed).
func (m *Manager) HandleDiscovered(theirPub []byte, info peer.AugmentedInfo) {
	id := identity.DeriveId(m.localStatic.Public, theirPub)
	if id == m.selfId {
		return
	}

	m.mu.Lock()
	mp, exists := m.peers[id]
	if !exists {
		mp = peer.New(id, info, peer.Deps{
			Socket:       m.pickSocket(),
			LocalStatic:  m.localStatic,
			MuteSelf:     &m.muteSelf,
			Capture:      m.capture,
			SampleRate:   m.sampleRate,
			PlaybackRate: m.playbackRate,
			Events:       m.events,
			Logger:       m.logger,
		})
		m.peers[id] = mp
	}
	m.infos[id] = info
	for _, a := range info.ConnectionInfo.Addresses {
		m.addrIndex[a] = id
	}
	m.mu.Unlock()

	if !exists {
		m.events <- events.AppEvent{AddPeer: &events.PeerState{Id: id, DisplayName: info.DisplayName, Status: events.StatusDisabled}}
		mp.Enable()
		return
	}
	mp.SetInfo(info)
}

// mixer sums the current sample from every peer's receive pipeline into
// one playback-device source. A peer with nothing buffered contributes
// silence for that sample rather than stalling the mix.
type mixer struct{ m *Manager }

func (mx *mixer) Next() (float32, bool) {
	mx.m.mu.Lock()
	peers := make([]*peer.ManagedPeer, 0, len(mx.m.peers))
	for _, p := range mx.m.peers {
		peers = append(peers, p)
	}
	mx.m.mu.Unlock()

	var sum float32
	any := false
	for _, p := range peers {
		if v, ok := p.NextSample(); ok {
			sum += v
			any = true
		}
	}
	return sum, any
}

// Mixer returns an audioio.Source that mixes every connected peer's
// received audio for the local playback device.
func (m *Manager) Mixer() audioio.Source { return &mixer{m: m} }

// pickSocket returns the first bound socket; all peers share the process's
// sockets regardless of address family, since net.PacketConn.WriteTo
// dispatches by the destination address's own family.
func (m *Manager) pickSocket() net.PacketConn {
	if len(m.sockets) == 0 {
		return nil
	}
	return m.sockets[0]
}

// Dispatch applies one UserInputEvent to the registry.
func (m *Manager) Dispatch(ev events.UserInputEvent) {
	switch {
	case ev.EnablePeer != nil:
		if mp := m.lookup(ev.EnablePeer.Id); mp != nil {
			mp.Enable()
		}
	case ev.DisablePeer != nil:
		if mp := m.lookup(ev.DisablePeer.Id); mp != nil {
			mp.Disable()
		}
	case ev.EnableDenoise != nil:
		if mp := m.lookup(ev.EnableDenoise.Id); mp != nil {
			mp.SetDenoise(true)
		}
	case ev.DisableDenoise != nil:
		if mp := m.lookup(ev.DisableDenoise.Id); mp != nil {
			mp.SetDenoise(false)
		}
	case ev.SetVolume != nil:
		if mp := m.lookup(ev.SetVolume.Id); mp != nil {
			mp.SetVolume(ev.SetVolume.V)
		}
	case ev.SendMessage != nil:
		m.broadcastChat(ev.SendMessage.Text)
	case ev.SetMuteSelf != nil:
		m.muteSelf.Store(*ev.SetMuteSelf)
		if m.events != nil {
			m.events <- events.AppEvent{MuteSelf: ev.SetMuteSelf}
		}
	}
}

func (m *Manager) broadcastChat(text string) {
	m.mu.Lock()
	peers := make([]*peer.ManagedPeer, 0, len(m.peers))
	for _, mp := range m.peers {
		peers = append(peers, mp)
	}
	m.mu.Unlock()
	for _, mp := range peers {
		mp.SendChatMessage(text)
	}
}

func (m *Manager) lookup(idStr string) *peer.ManagedPeer {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, mp := range m.peers {
		if id.String() == idStr {
			return mp
		}
	}
	return nil
}
