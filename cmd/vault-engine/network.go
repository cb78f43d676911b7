// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/vault/lib/config"
	"github.com/bureau-foundation/vault/lib/rendezvous"
	"github.com/bureau-foundation/vault/lib/swarm"
	"github.com/bureau-foundation/vault/transport"
)

const peerDialTimeout = 20 * time.Second

// buildNetwork assembles the swarm from the network section: a TCP
// listener, static peers, and the rendezvous server for discovery and
// WebRTC signaling.
func buildNetwork(network config.NetworkConfig, logger *slog.Logger) (*swarm.Swarm, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating peer key: %w", err)
	}
	var id swarm.PeerID
	copy(id[:], key.Public().(ed25519.PublicKey))

	var (
		listeners []transport.Listener
		backends  []swarm.Discovery
		addresses []string
	)
	dialers := map[string]transport.Dialer{"tcp": &transport.TCPDialer{Timeout: peerDialTimeout}}
	cleanup := func() {
		for _, listener := range listeners {
			listener.Close()
		}
	}

	if network.Listen != "" {
		listener, err := transport.NewTCPListener(network.Listen)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, listener)
		advertise := network.Advertise
		if advertise == "" {
			advertise = listener.Address()
		}
		addresses = append(addresses, "tcp:"+advertise)
	}

	if len(network.Peers) > 0 {
		static := make(swarm.StaticDiscovery, 0, len(network.Peers))
		for _, peer := range network.Peers {
			static = append(static, peerAddress(peer))
		}
		backends = append(backends, static)
	}

	if network.Rendezvous != "" {
		client, err := rendezvous.NewClient(network.Rendezvous, nil)
		if err != nil {
			cleanup()
			return nil, err
		}
		backends = append(backends, client)

		if network.WebRTC {
			ice, err := transport.ParseICEServers(network.ICEServers)
			if err != nil {
				cleanup()
				return nil, err
			}
			webrtc, err := transport.NewWebRTCTransport(transport.WebRTCConfig{
				Signaler: client,
				PeerID:   id.String(),
				ICE:      ice,
				Logger:   logger.With("transport", "webrtc"),
			})
			if err != nil {
				cleanup()
				return nil, err
			}
			listeners = append(listeners, webrtc)
			dialers["webrtc"] = webrtc
			addresses = append(addresses, "webrtc:"+webrtc.Address())
		}
	}

	if len(listeners) == 0 && len(backends) == 0 {
		return nil, errors.New("network has no listener, peers, or rendezvous; use --offline to run without peers")
	}

	swarmConfig := swarm.Config{
		Key:       key,
		Listeners: listeners,
		Dialers:   dialers,
		Addresses: addresses,
		Discovery: swarm.Combine(backends...),
		Logger:    logger.With("component", "swarm"),
	}
	if network.LookupInterval != "" {
		interval, err := time.ParseDuration(network.LookupInterval)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("network.lookup_interval: %w", err)
		}
		swarmConfig.LookupInterval = interval
	}
	s, err := swarm.New(swarmConfig)
	if err != nil {
		cleanup()
		return nil, err
	}
	logger.Info("network ready", "peer", id.Short(), "addresses", addresses, "static_peers", len(network.Peers))
	return s, nil
}

// peerAddress prefixes a bare host:port with the tcp network.
func peerAddress(address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "tcp:") || strings.HasPrefix(address, "webrtc:") {
		return address
	}
	return "tcp:" + address
}
