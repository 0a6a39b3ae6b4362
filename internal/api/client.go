// Package api talks to the relay's HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
)

const iceServersPath = "/api/ice-servers"

type iceServersResponse struct {
	ICEServers []domain.ICEServer `json:"iceServers"`
}

// Client fetches configuration from the relay.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates an API client for the relay at baseURL.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     logger.With().Str("module", "api").Logger(),
	}
}

// BaseURLFromSignal maps a websocket signaling URL to the relay's HTTP origin.
func BaseURLFromSignal(signalURL string) (string, error) {
	u, err := url.Parse(signalURL)
	if err != nil {
		return "", fmt.Errorf("parse signal url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported signal url scheme %q", u.Scheme)
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	return u.String(), nil
}

// FetchICEServers implements domain.ICEServerFetcher.
func (c *Client) FetchICEServers(ctx context.Context) ([]domain.ICEServer, error) {
	requestID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+iceServersPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out iceServersResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(out.ICEServers) == 0 {
		return nil, fmt.Errorf("relay returned no ICE servers")
	}

	c.log.Info().Str("request_id", requestID).Int("servers", len(out.ICEServers)).Msg("fetched ICE servers")
	return out.ICEServers, nil
}

var _ domain.ICEServerFetcher = (*Client)(nil)
