package peer

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coldglass/voicemesh/internal/audioio"
	"github.com/coldglass/voicemesh/internal/codec"
	"github.com/coldglass/voicemesh/internal/events"
	"github.com/coldglass/voicemesh/internal/identity"
	"github.com/coldglass/voicemesh/internal/resample"
	"github.com/coldglass/voicemesh/internal/transport"
	"github.com/coldglass/voicemesh/internal/wire"
	"github.com/flynn/noise"
)

// Status is one state of the Managed Peer state machine (spec C8).
type Status int

const (
	Disabled Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectionInfo carries a static public key plus candidate network
// addresses for one peer. Compared by value; inequality triggers
// re-connection.
type ConnectionInfo struct {
	PublicKey []byte
	Addresses []string
}

// Equal reports whether two ConnectionInfo values describe the same
// endpoint and candidate address set.
func (a ConnectionInfo) Equal(b ConnectionInfo) bool {
	if len(a.PublicKey) != len(b.PublicKey) || len(a.Addresses) != len(b.Addresses) {
		return false
	}
	for i := range a.PublicKey {
		if a.PublicKey[i] != b.PublicKey[i] {
			return false
		}
	}
	for i := range a.Addresses {
		if a.Addresses[i] != b.Addresses[i] {
			return false
		}
	}
	return true
}

// AugmentedInfo is published to the room and read back by every other
// peer: a ConnectionInfo plus a human-readable display name.
type AugmentedInfo struct {
	ConnectionInfo ConnectionInfo
	DisplayName    string
}

// Equal compares two AugmentedInfo values by ConnectionInfo and display
// name.
func (a AugmentedInfo) Equal(b AugmentedInfo) bool {
	return a.ConnectionInfo.Equal(b.ConnectionInfo) && a.DisplayName == b.DisplayName
}

// candidateInterval is how often the connect loop rotates to the next
// candidate address while a session has not yet been established.
const candidateInterval = 50 * time.Millisecond

// Deps are the process-wide collaborators a ManagedPeer needs to
// establish and run a session: the shared socket and static keypair
// (owned by the connection manager), the shared mute flag, the local
// capture source and codec sample rate/channel count, the local playback
// device's negotiated rate, and the outbound AppEvent sink.
type Deps struct {
	Socket       net.PacketConn
	LocalStatic  noise.DHKey
	MuteSelf     *atomic.Bool
	Capture      *audioio.Capture
	SampleRate   int
	PlaybackRate uint32
	Events       chan<- events.AppEvent
	Logger       *slog.Logger
}

// ManagedPeer is the lifecycle and state machine for one remote peer: it
// owns the connect loop, the send/receive pipelines, and the control
// atomics the audio path reads every frame.
type ManagedPeer struct {
	id   identity.PeerId
	deps Deps

	mu      sync.Mutex
	info    AugmentedInfo
	status  Status
	cancel  context.CancelFunc
	running bool

	pipeline *pipeline
	chatOut  chan wire.Message
	inbound  chan []byte

	logger *slog.Logger
}

// New constructs a Disabled ManagedPeer. It does not start anything; call
// Enable to begin connecting.
func New(id identity.PeerId, info AugmentedInfo, deps Deps) *ManagedPeer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ManagedPeer{
		id:      id,
		deps:    deps,
		info:    info,
		status:  Disabled,
		chatOut: make(chan wire.Message, 16),
		inbound: make(chan []byte, 64),
		logger:  logger.With("peer", id.String()),
	}
}

// Id returns the peer's stable identifier.
func (m *ManagedPeer) Id() identity.PeerId { return m.id }

// Deliver hands one raw ciphertext datagram addressed to this peer's
// session to its receive loop. The connection manager calls this after
// matching an inbound packet's source address to a ManagedPeer; it never
// blocks the socket read loop for long since inbound is buffered.
func (m *ManagedPeer) Deliver(raw []byte) {
	select {
	case m.inbound <- raw:
	default:
		m.logger.Warn("inbound queue full, dropping datagram")
	}
}

// Status returns the peer's current lifecycle state.
func (m *ManagedPeer) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetDenoise toggles noise suppression on the receive path without
// blocking.
func (m *ManagedPeer) SetDenoise(on bool) {
	m.mu.Lock()
	p := m.pipeline
	m.mu.Unlock()
	if p != nil {
		p.SetDenoise(on)
	}
}

// NextSample proxies to the peer's receive pipeline for the playback
// mixer. It returns ok=false when no session is active yet or the
// pipeline's reorder buffer is currently empty.
func (m *ManagedPeer) NextSample() (float32, bool) {
	m.mu.Lock()
	p := m.pipeline
	m.mu.Unlock()
	if p == nil {
		return 0, false
	}
	return p.Next()
}

// SetVolume sets the gain (0..=200) applied to received audio.
func (m *ManagedPeer) SetVolume(v int) {
	m.mu.Lock()
	p := m.pipeline
	m.mu.Unlock()
	if p != nil {
		p.SetVolume(v)
	}
}

// SendChatMessage fans a chat message onto this peer's outbound relay.
func (m *ManagedPeer) SendChatMessage(text string) {
	select {
	case m.chatOut <- wire.NewChatMessage(text):
	default:
		m.logger.Warn("chat relay backlogged, dropping message")
	}
}

// SetInfo replaces the peer's connection info. If new equals the current
// info, this is a no-op. If the peer is Connecting or Connected, it is
// disabled and immediately re-enabled so the new info takes effect; if
// Disabled, the info is simply stored.
func (m *ManagedPeer) SetInfo(newInfo AugmentedInfo) {
	m.mu.Lock()
	if m.info.Equal(newInfo) {
		m.mu.Unlock()
		return
	}
	m.info = newInfo
	wasRunning := m.status != Disabled
	m.mu.Unlock()

	if wasRunning {
		m.Disable()
		m.Enable()
	}
}

// Enable starts the connect loop from Disabled. Calling Enable while
// already enabled is a no-op.
func (m *ManagedPeer) Enable() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	info := m.info
	m.mu.Unlock()

	m.emitStatus(Connecting, "")
	go m.connectLoop(ctx, info)
}

// Disable cancels the connect loop and any running session, and emits
// the Disabled AppEvent right away; it does not wait for those
// goroutines to observe the cancellation and return.
func (m *ManagedPeer) Disable() {
	m.mu.Lock()
	cancel := m.cancel
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.emitStatus(Disabled, "")
}

func (m *ManagedPeer) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *ManagedPeer) emitStatus(s Status, addr string) {
	m.setStatus(s)
	if m.deps.Events == nil {
		return
	}
	m.deps.Events <- events.AppEvent{AddPeer: &events.PeerState{
		Id:          m.id,
		DisplayName: m.currentInfo().DisplayName,
		Status:      toEventStatus(s),
		Address:     addr,
	}}
}

func (m *ManagedPeer) currentInfo() AugmentedInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

func toEventStatus(s Status) events.PeerStatus {
	switch s {
	case Connecting:
		return events.StatusConnecting
	case Connected:
		return events.StatusConnected
	default:
		return events.StatusDisabled
	}
}

// connectLoop repeatedly tries to establish a session using info's
// current candidate addresses until one succeeds, ctx is cancelled, or
// SetInfo swaps in a new info (which cancels this ctx itself). On each
// attempt it rotates through candidates, emitting a Connecting(addr)
// event every candidateInterval.
func (m *ManagedPeer) connectLoop(ctx context.Context, info AugmentedInfo) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if len(info.ConnectionInfo.Addresses) == 0 {
			m.logger.Warn("no candidate addresses to connect to")
			select {
			case <-ctx.Done():
				return
			case <-time.After(candidateInterval):
				continue
			}
		}

		for _, addrStr := range info.ConnectionInfo.Addresses {
			select {
			case <-ctx.Done():
				return
			default:
			}

			m.emitStatus(Connecting, addrStr)

			addr, err := net.ResolveUDPAddr("udp", addrStr)
			if err != nil {
				m.logger.Warn("unresolvable candidate address", "addr", addrStr, "err", err)
				m.sleepOrDone(ctx, candidateInterval)
				continue
			}

			attemptCtx, cancelAttempt := context.WithTimeout(ctx, 5*time.Second)
			sess, err := transport.DialInitiator(attemptCtx, m.deps.Socket, addr, m.deps.LocalStatic, info.ConnectionInfo.PublicKey, m.inbound)
			cancelAttempt()
			if err != nil {
				m.logger.Debug("handshake attempt failed", "addr", addrStr, "err", err)
				m.sleepOrDone(ctx, candidateInterval)
				continue
			}

			m.logger.Info("session established", "addr", addrStr)
			m.runSession(ctx, sess)

			// Session ended; loop back to the head and try again unless
			// cancelled in the meantime.
			select {
			case <-ctx.Done():
				return
			default:
			}
			break
		}
	}
}

func (m *ManagedPeer) sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// runSession runs the send path, receive path, and chat relay
// concurrently until one of them ends, then tears down all three.
func (m *ManagedPeer) runSession(parent context.Context, sess *transport.Session) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m.mu.Lock()
	rate := uint32(m.deps.SampleRate)
	if rate == 0 {
		rate = 48000
	}
	outputRate := m.deps.PlaybackRate
	if outputRate == 0 {
		outputRate = rate
	}
	m.pipeline = newPipeline(m.id, m.deps.Events, outputRate)
	pl := m.pipeline
	m.mu.Unlock()
	defer pl.Close()

	m.emitStatus(Connected, sess.RemoteAddr().String())

	channels := 2
	if m.deps.Capture != nil {
		channels = m.deps.Capture.Format().Channels
		if channels == 0 {
			channels = 2
		}
	}
	sendCodec, err := codec.New(int(rate), channels)
	if err != nil {
		m.logger.Error("failed to build send codec", "err", err)
		return
	}
	recvCodec, err := codec.New(int(rate), channels)
	if err != nil {
		m.logger.Error("failed to build receive codec", "err", err)
		return
	}

	done := make(chan struct{}, 3)
	go func() { m.sendLoop(ctx, sess, sendCodec, channels); done <- struct{}{} }()
	go func() { m.receiveLoop(ctx, sess, recvCodec, pl, channels); done <- struct{}{} }()
	go func() { m.chatRelayLoop(ctx, sess); done <- struct{}{} }()

	<-done
	cancel()
}

// sendLoop accumulates resampled capture audio into exactly
// channels*480-sample frames, encodes them with Opus, and sends one
// datagram per frame. mute_self is read fresh every frame without
// blocking; sequence numbers advance only on a successful send.
func (m *ManagedPeer) sendLoop(ctx context.Context, sess *transport.Session, enc *codec.Codec, channels int) {
	const frameSamples = 480

	var seq uint64
	var acc []float32
	var resamp *resampleState

	if m.deps.Capture == nil {
		<-ctx.Done()
		return
	}
	resamp = newResampleState(m.deps.Capture.Format().Channels, m.deps.Capture.Format().SampleRate, uint32(m.deps.SampleRate))

	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-m.deps.Capture.Samples():
			if !ok {
				return
			}
			acc = append(acc, resamp.process(in)...)

			for len(acc) >= frameSamples*channels {
				frame := acc[:frameSamples*channels]
				acc = acc[frameSamples*channels:]

				if m.deps.MuteSelf != nil && m.deps.MuteSelf.Load() {
					continue
				}

				packet, err := enc.Encode(frame)
				if err != nil {
					m.logger.Warn("opus encode failed", "err", err)
					continue
				}
				msg := wire.NewAudioFrame(seq, packet)
				encoded, err := wire.Encode(msg)
				if err != nil {
					m.logger.Warn("wire encode failed", "err", err)
					continue
				}
				if err := sess.Send(encoded); err != nil {
					m.logger.Debug("send failed, session likely lost", "err", err)
					return
				}
				seq++
			}
		}
	}
}

// receiveLoop reads datagrams off the shared socket addressed to this
// session's remote address, decodes them, and feeds AudioFrame/ChatMessage
// payloads to the pipeline and chat relay respectively. This loop owns
// reading for one peer; the connection manager dispatches datagrams here
// by remote address (see internal/connmanager).
func (m *ManagedPeer) receiveLoop(ctx context.Context, sess *transport.Session, dec *codec.Codec, pl *pipeline, channels int) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-m.inbound:
			if !ok {
				return
			}
			plaintext, err := sess.Decrypt(raw)
			if err != nil {
				m.logger.Debug("dropping undecryptable datagram", "err", err)
				continue
			}
			msg, err := wire.Decode(plaintext)
			if err != nil {
				m.logger.Debug("dropping corrupt datagram", "err", err)
				continue
			}
			switch {
			case msg.AudioFrame != nil:
				samples, err := dec.Decode(msg.AudioFrame.OpusBytes)
				if err != nil {
					m.logger.Debug("opus decode failed, dropping frame", "err", err)
					continue
				}
				pl.HandleIncoming(AudioChunk{
					Seq:      msg.AudioFrame.Seq,
					Channels: channels,
					Rate:     uint32(m.deps.SampleRate),
					Samples:  samples,
				})
			case msg.ChatMessage != nil:
				if m.deps.Events != nil {
					m.deps.Events <- events.AppEvent{NewMessage: &events.NewMessage{PeerId: m.id, Text: msg.ChatMessage.Text}}
				}
			default:
				// IdentityDeclaration / PeerDiscovery: accepted, ignored.
			}
		}
	}
}

// chatRelayLoop forwards locally-originated chat messages to the remote
// peer over the session.
func (m *ManagedPeer) chatRelayLoop(ctx context.Context, sess *transport.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.chatOut:
			encoded, err := wire.Encode(msg)
			if err != nil {
				m.logger.Warn("chat encode failed", "err", err)
				continue
			}
			if err := sess.Send(encoded); err != nil {
				m.logger.Debug("chat send failed, session likely lost", "err", err)
				return
			}
		}
	}
}

// localKeyBase64 renders a public key the way the rendezvous AugmentedInfo
// and logs display it.
func localKeyBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// resampleState adapts captured audio at the device's native rate to the
// rate the remote codec expects, carrying a resample.Resampler built from
// the capture device's format when the send loop starts. Equal rates
// degenerate to a pass-through copy inside resample.Resampler itself.
type resampleState struct {
	r *resample.Resampler
}

func newResampleState(channels int, rIn, rOut uint32) *resampleState {
	if channels == 0 {
		channels = 2
	}
	return &resampleState{r: resample.New(channels, rIn, rOut)}
}

func (s *resampleState) process(in []float32) []float32 {
	return s.r.Process(in)
}
