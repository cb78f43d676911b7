// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bureau-foundation/vault/lib/codec"
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/lib/netutil"
	"github.com/bureau-foundation/vault/lib/swarm"
	"github.com/bureau-foundation/vault/transport"
)

// Compile-time interface checks.
var (
	_ swarm.Discovery    = (*Client)(nil)
	_ transport.Signaler = (*Client)(nil)
)

// defaultClientTimeout bounds each request when the caller supplies no
// http.Client.
const defaultClientTimeout = 15 * time.Second

// Client talks to a rendezvous server. It serves as both the swarm's
// discovery backend and the WebRTC transport's signaler.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at baseURL. A nil
// httpClient uses one with a request timeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: parsing server URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("rendezvous: server URL %q must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}, nil
}

func (c *Client) Announce(ctx context.Context, topic identity.DiscoveryKey, self swarm.PeerInfo) error {
	var response announceResponse
	return c.do(ctx, http.MethodPost, "/v1/announce", announceRequest{Topic: topic, Peer: self}, &response)
}

func (c *Client) Unannounce(ctx context.Context, topic identity.DiscoveryKey, id swarm.PeerID) error {
	return c.do(ctx, http.MethodPost, "/v1/unannounce", unannounceRequest{Topic: topic, ID: id}, nil)
}

func (c *Client) Lookup(ctx context.Context, topic identity.DiscoveryKey) ([]swarm.PeerInfo, error) {
	var response lookupResponse
	if err := c.do(ctx, http.MethodGet, "/v1/lookup/"+topic.String(), nil, &response); err != nil {
		return nil, err
	}
	return response.Peers, nil
}

func (c *Client) PublishOffer(ctx context.Context, from, to, sdp string) error {
	return c.do(ctx, http.MethodPost, "/v1/signal/offer", signalRequest{From: from, To: to, SDP: sdp}, nil)
}

func (c *Client) PublishAnswer(ctx context.Context, offerer, answerer, sdp string) error {
	return c.do(ctx, http.MethodPost, "/v1/signal/answer", signalRequest{From: answerer, To: offerer, SDP: sdp}, nil)
}

func (c *Client) PollOffers(ctx context.Context, peer string) ([]transport.SignalMessage, error) {
	var response signalResponse
	if err := c.do(ctx, http.MethodGet, "/v1/signal/offers/"+url.PathEscape(peer), nil, &response); err != nil {
		return nil, err
	}
	return response.Messages, nil
}

func (c *Client) PollAnswers(ctx context.Context, peer string) ([]transport.SignalMessage, error) {
	var response signalResponse
	if err := c.do(ctx, http.MethodGet, "/v1/signal/answers/"+url.PathEscape(peer), nil, &response); err != nil {
		return nil, err
	}
	return response.Messages, nil
}

// do sends request (if non-nil) as a CBOR body and decodes a 2xx
// response into response (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, request, response any) error {
	var body io.Reader = http.NoBody
	if request != nil {
		data, err := codec.Marshal(request)
		if err != nil {
			return fmt.Errorf("rendezvous: encoding %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("rendezvous: building %s request: %w", path, err)
	}
	if request != nil {
		httpRequest.Header.Set("Content-Type", netutil.CBORContentType)
	}
	httpResponse, err := c.http.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("rendezvous: %s %s: %w", method, path, err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return fmt.Errorf("rendezvous: %s %s: HTTP %d: %s", method, path,
			httpResponse.StatusCode, strings.TrimSpace(netutil.ErrorBody(httpResponse.Body)))
	}
	if response == nil {
		return nil
	}
	if err := netutil.DecodeBody(httpResponse.Body, response); err != nil {
		return fmt.Errorf("rendezvous: %s %s: %w", method, path, err)
	}
	return nil
}
