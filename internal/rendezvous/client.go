// Package rendezvous implements the HTTP bridge rendezvous client: it
// publishes the local peer's AugmentedInfo to a shared room namespace and
// polls the same namespace for everyone else's.
package rendezvous

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coldglass/voicemesh/internal/peer"
)

// pollInterval is how often the room namespace is re-fetched.
const pollInterval = 1000 * time.Millisecond

// entry is the wire shape of one published room member: a base64 public
// key alongside its AugmentedInfo, matching what a bridge server accepts
// on PUT and returns on GET.
type entry struct {
	PublicKeyB64 string   `json:"public_key"`
	DisplayName  string   `json:"display_name"`
	Addresses    []string `json:"addresses"`
}

// Discovery is one parsed, non-self room entry delivered to the caller.
type Discovery struct {
	PublicKey []byte
	Info      peer.AugmentedInfo
}

// Client publishes this peer's info to, and polls, one bridge server's
// room namespace.
type Client struct {
	httpClient *http.Client
	bridge     string
	room       string
	logger     *slog.Logger
}

// New constructs a rendezvous Client against the given bridge base URL
// and room namespace.
func New(bridge, room string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		bridge:     bridge,
		room:       room,
		logger:     logger.With("bridge", bridge, "room", room),
	}
}

// Publish PUTs this peer's own AugmentedInfo into the room namespace. A
// failure here is treated as fatal by the caller: without a published
// presence, nobody can discover this peer.
func (c *Client) Publish(ctx context.Context, publicKey []byte, info peer.AugmentedInfo) error {
	e := entry{
		PublicKeyB64: base64.StdEncoding.EncodeToString(publicKey),
		DisplayName:  info.DisplayName,
		Addresses:    info.ConnectionInfo.Addresses,
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("rendezvous: marshal own entry: %w", err)
	}

	url := fmt.Sprintf("%s/rooms/%s/%s", c.bridge, c.room, e.PublicKeyB64)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rendezvous: build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rendezvous: publish: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rendezvous: publish returned status %d", resp.StatusCode)
	}
	return nil
}

// Run polls the room namespace every pollInterval, sending each non-self
// discovered entry on out, until ctx is cancelled. Entries that fail to
// parse are logged and skipped rather than aborting the poll.
func (c *Client) Run(ctx context.Context, selfPublicKeyB64 string, out chan<- Discovery) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx, selfPublicKeyB64, out)
		}
	}
}

func (c *Client) pollOnce(ctx context.Context, selfPublicKeyB64 string, out chan<- Discovery) {
	url := fmt.Sprintf("%s/rooms/%s", c.bridge, c.room)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Warn("failed to build poll request", "err", err)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("poll request failed", "err", err)
		return
	}
	defer resp.Body.Close()

	var entries []entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		c.logger.Warn("failed to decode room listing", "err", err)
		return
	}

	for _, e := range entries {
		if e.PublicKeyB64 == selfPublicKeyB64 {
			continue
		}
		key, err := base64.StdEncoding.DecodeString(e.PublicKeyB64)
		if err != nil {
			c.logger.Warn("dropping room entry with unparseable key", "err", err)
			continue
		}
		out <- Discovery{
			PublicKey: key,
			Info: peer.AugmentedInfo{
				DisplayName: e.DisplayName,
				ConnectionInfo: peer.ConnectionInfo{
					PublicKey: key,
					Addresses: e.Addresses,
				},
			},
		}
	}
}
