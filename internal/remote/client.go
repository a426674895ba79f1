package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/franz/media-catalog/internal/util"
	"github.com/jonboulle/clockwork"
)

const (
	// UserAgent identifies this application to peers
	UserAgent = "mcs-catalog-sync/1.0"

	// DefaultHandshakeTimeout bounds the handshake and listing calls
	DefaultHandshakeTimeout = 30 * time.Second

	// DefaultPageTimeout bounds one page fetch; pages are large
	DefaultPageTimeout = 60 * time.Second
)

// ClientConfig configures a Client
type ClientConfig struct {
	Root             string // peer base URL
	Key              string // shared key
	HTTPClient       *http.Client
	HandshakeTimeout time.Duration
	PageTimeout      time.Duration
	Retry            *util.RetryConfig
	Clock            clockwork.Clock
}

// Client calls a peer's RPC endpoint. Transient transport failures are
// retried; faults and timeouts are not.
type Client struct {
	root             string
	key              string
	httpClient       *http.Client
	handshakeTimeout time.Duration
	pageTimeout      time.Duration
	retry            *util.RetryConfig
	clock            clockwork.Clock
}

// NewClient creates a new RPC client
func NewClient(cfg *ClientConfig) *Client {
	c := &Client{
		root:             strings.TrimRight(cfg.Root, "/"),
		key:              cfg.Key,
		httpClient:       cfg.HTTPClient,
		handshakeTimeout: cfg.HandshakeTimeout,
		pageTimeout:      cfg.PageTimeout,
		retry:            cfg.Retry,
		clock:            cfg.Clock,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.handshakeTimeout <= 0 {
		c.handshakeTimeout = DefaultHandshakeTimeout
	}
	if c.pageTimeout <= 0 {
		c.pageTimeout = DefaultPageTimeout
	}
	if c.retry == nil {
		c.retry = util.DefaultRetryConfig()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c
}

// Handshake exchanges the shared key for a session token
func (c *Client) Handshake(ctx context.Context) (string, error) {
	ts := c.clock.Now().Unix()
	params := HandshakeParams{Root: c.root, Timestamp: ts, Passphrase: Passphrase(c.key, ts)}

	var result HandshakeResult
	if err := c.call(ctx, c.handshakeTimeout, MethodHandshake, params, &result); err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", util.NewSyncError(util.ErrRemoteProtocol, c.root, errors.New("handshake returned no token"))
	}
	return result.Token, nil
}

// ListCatalogs returns the catalogs visible to token
func (c *Client) ListCatalogs(ctx context.Context, token, baseURL string) ([]CatalogInfo, error) {
	var result []CatalogInfo
	err := c.call(ctx, c.handshakeTimeout, MethodListCatalogs, ListCatalogsParams{Token: token, BaseURL: baseURL}, &result)
	return result, err
}

// GetSongs fetches one page of songs
func (c *Client) GetSongs(ctx context.Context, token string, offset, limit int) ([]*Song, error) {
	var result []*Song
	err := c.call(ctx, c.pageTimeout, MethodGetSongs, GetSongsParams{Token: token, Offset: offset, Limit: limit}, &result)
	return result, err
}

// call performs one RPC with a per-call timeout. Every failure is returned
// as an ErrRemoteProtocol report entry.
func (c *Client) call(ctx context.Context, timeout time.Duration, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode %s params: %w", method, err)
	}
	body, err := json.Marshal(Request{Method: method, Params: raw})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	resp, err := util.RetryWithBackoff(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return c.post(callCtx, body)
	}, "remote "+method)
	if err != nil {
		return util.NewSyncError(util.ErrRemoteProtocol, c.root, fmt.Errorf("%s: %w", method, err))
	}

	if resp.Fault != nil {
		util.DebugLog("Remote %s: %v", method, resp.Fault)
		return util.NewSyncError(util.ErrRemoteProtocol, c.root, fmt.Errorf("%s: %w", method, resp.Fault))
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return util.NewSyncError(util.ErrRemoteProtocol, c.root, fmt.Errorf("%s: failed to decode result: %w", method, err))
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.root+RPCPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway {
		return nil, fmt.Errorf("peer temporary failure (%d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
