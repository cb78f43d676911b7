// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface checks.
var (
	_ Listener = (*WebRTCTransport)(nil)
	_ Dialer   = (*WebRTCTransport)(nil)
)

// defaultSignalingPollInterval is how often mailboxes are polled when
// WebRTCConfig.PollInterval is zero.
const defaultSignalingPollInterval = 500 * time.Millisecond

// iceGatherTimeout bounds candidate gathering before the SDP is
// published.
const iceGatherTimeout = 15 * time.Second

// answerTimeout bounds the wait for an answer after publishing an
// offer.
const answerTimeout = 30 * time.Second

// channelOpenTimeout bounds the wait for a new data channel to open.
const channelOpenTimeout = 10 * time.Second

// triggerLabel names the data channel created only so the offer SDP
// carries an application section. Neither side uses it.
const triggerLabel = "init"

// errSuperseded is returned to a dial whose offer crossed with one from
// the canonical offerer; the remote's connection replaces it.
var errSuperseded = errors.New("transport: offer superseded by remote offer")

// WebRTCConfig configures a [WebRTCTransport].
type WebRTCConfig struct {
	// Signaler exchanges offers and answers. Required.
	Signaler Signaler

	// PeerID names this transport in signaling. Remote peers dial it.
	// Required.
	PeerID string

	// ICE lists STUN/TURN servers. The zero value uses host candidates
	// only.
	ICE ICEConfig

	// PollInterval is how often the signaling mailboxes are polled.
	// Zero means 500ms.
	PollInterval time.Duration

	Logger *slog.Logger
}

// WebRTCTransport carries peer streams over WebRTC data channels. It is
// both a Listener and a Dialer because both directions share one
// PeerConnection per remote peer; each stream is its own ordered,
// reliable data channel on that connection.
type WebRTCTransport struct {
	signaler     Signaler
	peerID       string
	ice          ICEConfig
	pollInterval time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	peers map[string]*peerState

	// waiters maps a remote peer id to the dial waiting for its answer.
	waiters map[string]chan string

	inbound chan net.Conn

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	poller    sync.WaitGroup

	labels atomic.Uint64
}

// peerState is the PeerConnection to one remote peer. Guarded by
// WebRTCTransport.mu.
type peerState struct {
	connection  *webrtc.PeerConnection
	peerID      string
	established chan struct{}
	once        sync.Once
}

func (p *peerState) markEstablished() {
	p.once.Do(func() { close(p.established) })
}

// NewWebRTCTransport creates the transport and starts polling the
// signaler for offers and answers. Call Close to stop it.
func NewWebRTCTransport(config WebRTCConfig) (*WebRTCTransport, error) {
	if config.Signaler == nil {
		return nil, fmt.Errorf("transport: WebRTC requires a signaler")
	}
	if config.PeerID == "" {
		return nil, fmt.Errorf("transport: WebRTC requires a peer id")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultSignalingPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	wt := &WebRTCTransport{
		signaler:     config.Signaler,
		peerID:       config.PeerID,
		ice:          config.ICE,
		pollInterval: pollInterval,
		logger:       logger,
		peers:        make(map[string]*peerState),
		waiters:      make(map[string]chan string),
		inbound:      make(chan net.Conn, 64),
		ctx:          ctx,
		cancel:       cancel,
	}
	wt.poller.Add(1)
	go wt.pollSignals()
	return wt, nil
}

// Address returns the peer id remote transports dial.
func (wt *WebRTCTransport) Address() string {
	return wt.peerID
}

// Accept returns the next data channel a remote peer opened to us.
func (wt *WebRTCTransport) Accept(ctx context.Context) (net.Conn, error) {
	select {
	case conn := <-wt.inbound:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wt.ctx.Done():
		return nil, net.ErrClosed
	}
}

// Close tears down every PeerConnection and stops signaling.
func (wt *WebRTCTransport) Close() error {
	wt.closeOnce.Do(func() {
		wt.cancel()
		wt.poller.Wait()

		wt.mu.Lock()
		peers := wt.peers
		wt.peers = make(map[string]*peerState)
		wt.mu.Unlock()
		for _, peer := range peers {
			peer.connection.Close()
		}
	})
	return nil
}

// DialContext opens a data channel to the peer whose id is address,
// establishing the PeerConnection first if needed.
func (wt *WebRTCTransport) DialContext(ctx context.Context, address string) (net.Conn, error) {
	if wt.ctx.Err() != nil {
		return nil, net.ErrClosed
	}
	if address == wt.peerID {
		return nil, fmt.Errorf("transport: refusing to dial self (%s)", address)
	}

	peer, err := wt.peerFor(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	select {
	case <-peer.established:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wt.ctx.Done():
		return nil, net.ErrClosed
	}
	return wt.openChannel(ctx, peer)
}

// peerFor returns the live PeerConnection to remote, signaling a new
// one if none exists. Concurrent callers share one attempt: the entry
// is registered before signaling starts.
func (wt *WebRTCTransport) peerFor(ctx context.Context, remote string) (*peerState, error) {
	wt.mu.Lock()
	if peer, ok := wt.peers[remote]; ok {
		if alive(peer.connection) {
			wt.mu.Unlock()
			return peer, nil
		}
		peer.connection.Close()
		delete(wt.peers, remote)
	}

	connection, err := wt.newPeerConnection()
	if err != nil {
		wt.mu.Unlock()
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	peer := &peerState{connection: connection, peerID: remote, established: make(chan struct{})}
	wt.peers[remote] = peer
	answers := make(chan string, 1)
	wt.waiters[remote] = answers
	wt.mu.Unlock()

	err = wt.offer(ctx, peer, answers)

	wt.mu.Lock()
	if wt.waiters[remote] == answers {
		delete(wt.waiters, remote)
	}
	if err != nil && wt.peers[remote] == peer {
		delete(wt.peers, remote)
	}
	wt.mu.Unlock()

	if err != nil {
		connection.Close()
		return nil, err
	}
	return peer, nil
}

// offer publishes an offer for peer and applies the answer.
func (wt *WebRTCTransport) offer(ctx context.Context, peer *peerState, answers <-chan string) error {
	wt.watchPeer(peer)

	if _, err := peer.connection.CreateDataChannel(triggerLabel, nil); err != nil {
		return fmt.Errorf("creating trigger data channel: %w", err)
	}
	description, err := peer.connection.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	sdp, err := wt.gather(ctx, peer.connection, description)
	if err != nil {
		return err
	}
	if err := wt.signaler.PublishOffer(ctx, wt.peerID, peer.peerID, sdp); err != nil {
		return fmt.Errorf("publishing offer: %w", err)
	}
	wt.logger.Debug("WebRTC offer published", "peer", peer.peerID)

	timeout := time.NewTimer(answerTimeout)
	defer timeout.Stop()
	var answer string
	var ok bool
	select {
	case answer, ok = <-answers:
		if !ok {
			return errSuperseded
		}
	case <-timeout.C:
		return fmt.Errorf("no answer within %s", answerTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-wt.ctx.Done():
		return net.ErrClosed
	}

	if err := peer.connection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("applying answer: %w", err)
	}
	wt.logger.Info("WebRTC outbound connection negotiated", "peer", peer.peerID)
	return nil
}

// gather sets description as the local description and returns the
// SDP once every ICE candidate is embedded.
func (wt *WebRTCTransport) gather(ctx context.Context, connection *webrtc.PeerConnection, description webrtc.SessionDescription) (string, error) {
	complete := webrtc.GatheringCompletePromise(connection)
	if err := connection.SetLocalDescription(description); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	timeout := time.NewTimer(iceGatherTimeout)
	defer timeout.Stop()
	select {
	case <-complete:
	case <-timeout.C:
		return "", fmt.Errorf("ICE gathering did not finish within %s", iceGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return connection.LocalDescription().SDP, nil
}

// pollSignals drains the signaling mailboxes until Close.
func (wt *WebRTCTransport) pollSignals() {
	defer wt.poller.Done()
	ticker := time.NewTicker(wt.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wt.ctx.Done():
			return
		case <-ticker.C:
		}

		answers, err := wt.signaler.PollAnswers(wt.ctx, wt.peerID)
		if err != nil {
			if wt.ctx.Err() == nil {
				wt.logger.Warn("polling WebRTC answers failed", "error", err)
			}
		}
		for _, answer := range answers {
			wt.deliverAnswer(answer)
		}

		offers, err := wt.signaler.PollOffers(wt.ctx, wt.peerID)
		if err != nil {
			if wt.ctx.Err() == nil {
				wt.logger.Warn("polling WebRTC offers failed", "error", err)
			}
			continue
		}
		for _, offer := range offers {
			if err := wt.answer(offer); err != nil {
				wt.logger.Error("answering WebRTC offer failed", "peer", offer.Peer, "error", err)
			}
		}
	}
}

func (wt *WebRTCTransport) deliverAnswer(answer SignalMessage) {
	wt.mu.Lock()
	waiter, ok := wt.waiters[answer.Peer]
	if ok {
		delete(wt.waiters, answer.Peer)
	}
	wt.mu.Unlock()
	if !ok {
		wt.logger.Debug("dropping unsolicited WebRTC answer", "peer", answer.Peer)
		return
	}
	waiter <- answer.SDP
}

// answer responds to an inbound offer. When both peers offered at once
// the smaller peer id is the canonical offerer: its offer wins and the
// other side abandons its own attempt.
func (wt *WebRTCTransport) answer(offer SignalMessage) error {
	wt.mu.Lock()
	if existing, ok := wt.peers[offer.Peer]; ok {
		if alive(existing.connection) && offer.Peer > wt.peerID {
			wt.mu.Unlock()
			wt.logger.Debug("ignoring crossed WebRTC offer", "peer", offer.Peer)
			return nil
		}
		existing.connection.Close()
		delete(wt.peers, offer.Peer)
	}
	if waiter, ok := wt.waiters[offer.Peer]; ok {
		delete(wt.waiters, offer.Peer)
		close(waiter)
	}
	wt.mu.Unlock()

	connection, err := wt.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating PeerConnection: %w", err)
	}
	peer := &peerState{connection: connection, peerID: offer.Peer, established: make(chan struct{})}
	wt.watchPeer(peer)

	if err := connection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		connection.Close()
		return fmt.Errorf("applying offer: %w", err)
	}
	description, err := connection.CreateAnswer(nil)
	if err != nil {
		connection.Close()
		return fmt.Errorf("creating answer: %w", err)
	}
	sdp, err := wt.gather(wt.ctx, connection, description)
	if err != nil {
		connection.Close()
		return err
	}

	wt.mu.Lock()
	wt.peers[offer.Peer] = peer
	wt.mu.Unlock()

	if err := wt.signaler.PublishAnswer(wt.ctx, offer.Peer, wt.peerID, sdp); err != nil {
		wt.mu.Lock()
		if wt.peers[offer.Peer] == peer {
			delete(wt.peers, offer.Peer)
		}
		wt.mu.Unlock()
		connection.Close()
		return fmt.Errorf("publishing answer: %w", err)
	}
	wt.logger.Info("WebRTC inbound connection answered", "peer", offer.Peer)
	return nil
}

// watchPeer installs the ICE state and inbound data channel handlers.
func (wt *WebRTCTransport) watchPeer(peer *peerState) {
	peer.connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		wt.logger.Debug("ICE state change", "peer", peer.peerID, "state", state.String())
		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			peer.markEstablished()
		case webrtc.ICEConnectionStateFailed:
			wt.logger.Warn("WebRTC connection failed", "peer", peer.peerID)
		case webrtc.ICEConnectionStateClosed:
			wt.mu.Lock()
			if wt.peers[peer.peerID] == peer {
				delete(wt.peers, peer.peerID)
			}
			wt.mu.Unlock()
		}
	})

	peer.connection.OnDataChannel(func(channel *webrtc.DataChannel) {
		if channel.Label() == triggerLabel {
			channel.OnOpen(func() { channel.Close() })
			return
		}
		channel.OnOpen(func() {
			raw, err := channel.Detach()
			if err != nil {
				wt.logger.Error("detaching inbound data channel failed",
					"peer", peer.peerID,
					"label", channel.Label(),
					"error", err,
				)
				return
			}
			conn := NewDataChannelConn(raw,
				wt.peerID+"/"+channel.Label(),
				peer.peerID+"/"+channel.Label(),
			)
			select {
			case wt.inbound <- conn:
			case <-wt.ctx.Done():
				conn.Close()
			}
		})
	})
}

// openChannel creates a new ordered, reliable data channel to peer.
func (wt *WebRTCTransport) openChannel(ctx context.Context, peer *peerState) (net.Conn, error) {
	label := fmt.Sprintf("stream-%d", wt.labels.Add(1))
	ordered := true
	channel, err := peer.connection.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("creating data channel %s: %w", label, err)
	}

	opened := make(chan struct{})
	channel.OnOpen(func() { close(opened) })

	timeout := time.NewTimer(channelOpenTimeout)
	defer timeout.Stop()
	select {
	case <-opened:
	case <-timeout.C:
		channel.Close()
		return nil, fmt.Errorf("data channel %s did not open within %s", label, channelOpenTimeout)
	case <-ctx.Done():
		channel.Close()
		return nil, ctx.Err()
	case <-wt.ctx.Done():
		channel.Close()
		return nil, net.ErrClosed
	}

	raw, err := channel.Detach()
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("detaching data channel %s: %w", label, err)
	}
	return NewDataChannelConn(raw, wt.peerID+"/"+label, peer.peerID+"/"+label), nil
}

// newPeerConnection creates a PeerConnection with detachable data
// channels. Loopback candidates are included so peers on one machine
// can connect.
func (wt *WebRTCTransport) newPeerConnection() (*webrtc.PeerConnection, error) {
	settings := webrtc.SettingEngine{}
	settings.DetachDataChannels()
	settings.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: wt.ice.Servers})
}

func alive(connection *webrtc.PeerConnection) bool {
	state := connection.ICEConnectionState()
	return state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed
}
