package aptos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	// MaxPageSize is the largest limit the node accepts for /transactions.
	MaxPageSize = 100
)

// ErrNotFound is returned when the node reports 404 for a lookup.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the node.
type APIError struct {
	Status    int    `json:"-"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("aptos api %d %s: %s", e.Status, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("aptos api %d: %s", e.Status, e.Message)
}

// Client is a read-only client for the node REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// NewClient builds a client for a node URL such as https://fullnode.mainnet.aptoslabs.com/v1.
// The /v1 suffix is added when missing.
func NewClient(nodeURL string, opts ...ClientOption) (*Client, error) {
	nodeURL = strings.TrimRight(strings.TrimSpace(nodeURL), "/")
	if nodeURL == "" {
		return nil, fmt.Errorf("node url is required")
	}
	parsed, err := url.Parse(nodeURL)
	if err != nil {
		return nil, fmt.Errorf("parse node url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported node url scheme: %q", parsed.Scheme)
	}
	if !strings.HasSuffix(nodeURL, "/v1") {
		nodeURL += "/v1"
	}

	c := &Client{
		baseURL: nodeURL,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LedgerVersion returns the current head version.
func (c *Client) LedgerVersion(ctx context.Context) (uint64, error) {
	var info LedgerInfo
	if err := c.get(ctx, "", nil, &info); err != nil {
		return 0, fmt.Errorf("get ledger info: %w", err)
	}
	return uint64(info.LedgerVersion), nil
}

// Transactions returns up to limit transactions starting at version start, in ledger order.
func (c *Client) Transactions(ctx context.Context, start uint64, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	query := url.Values{}
	query.Set("start", strconv.FormatUint(start, 10))
	query.Set("limit", strconv.Itoa(limit))

	var txs []Transaction
	if err := c.get(ctx, "/transactions", query, &txs); err != nil {
		return nil, fmt.Errorf("get transactions from %d: %w", start, err)
	}
	return txs, nil
}

// TransactionByHash fetches a committed transaction. Returns ErrNotFound for unknown hashes.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, fmt.Errorf("transaction hash is required")
	}

	var tx Transaction
	if err := c.get(ctx, "/transactions/by_hash/"+url.PathEscape(hash), nil, &tx); err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", hash, err)
	}
	return &tx, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
