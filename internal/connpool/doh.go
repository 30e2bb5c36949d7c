package connpool

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DoHMethod selects how a DoH query is transmitted, per RFC 8484 §4.1/4.2.
type DoHMethod int

const (
	DoHGet DoHMethod = iota
	DoHPost
)

const dnsMessageContentType = "application/dns-message"

// DoHClient issues DNS-over-HTTPS queries against a fixed upstream URL.
// Its *http.Client carries its own pooled, keep-alive Transport, which
// plays the same role for HTTPS upstreams that Pool plays for
// plain TCP/DoT ones.
type DoHClient struct {
	URL    string
	Method DoHMethod

	httpClient *http.Client
}

// NewDoHClient builds a client with an HTTP transport tuned for a small
// number of long-lived connections to a single upstream.
func NewDoHClient(url string, method DoHMethod) *DoHClient {
	transport := &http.Transport{
		MaxIdleConnsPerHost: DefaultMaxSize,
		IdleConnTimeout:     DefaultIdleTimeout,
	}
	return &DoHClient{
		URL:        url,
		Method:     method,
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
	}
}

// Query sends a wire-format DNS message and returns the wire-format
// response body.
func (c *DoHClient) Query(ctx context.Context, payload []byte) ([]byte, error) {
	var req *http.Request
	var err error

	switch c.Method {
	case DoHGet:
		encoded := base64.RawURLEncoding.EncodeToString(payload)
		url := c.URL
		if bytes.ContainsRune([]byte(url), '?') {
			url += "&dns=" + encoded
		} else {
			url += "?dns=" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	case DoHPost:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", dnsMessageContentType)
		}
	default:
		return nil, fmt.Errorf("connpool: unknown DoH method %d", c.Method)
	}
	if err != nil {
		return nil, fmt.Errorf("connpool: build DoH request: %w", err)
	}
	req.Header.Set("Accept", dnsMessageContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connpool: DoH request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("connpool: DoH upstream status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("connpool: read DoH response: %w", err)
	}
	return body, nil
}

// Close releases idle connections held by the underlying transport.
func (c *DoHClient) Close() {
	if t, ok := c.httpClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
