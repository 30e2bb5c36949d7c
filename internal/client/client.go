// Package client sends a single DNS query to a single upstream over
// whichever protocol the upstream's address names (udp, tcp, tcps,
// https), deduplicating identical in-flight queries the way a
// singleflight group would.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dnsscience/dnsresolve/internal/address"
	"github.com/dnsscience/dnsresolve/internal/connpool"
	"github.com/dnsscience/dnsresolve/internal/txid"
	"github.com/dnsscience/dnsresolve/internal/udp"
	"github.com/dnsscience/dnsresolve/internal/wire"
)

// DefaultTimeout bounds a single upstream round trip.
const DefaultTimeout = 3 * time.Second

// Client issues one-shot queries against arbitrary upstreams.
type Client struct {
	timeout time.Duration
	ids     *txid.Allocator
	pool    *connpool.Pool

	mu         sync.Mutex
	dohClients map[string]*connpool.DoHClient
	inflight   map[string]*call
}

type call struct {
	done chan struct{}
	msg  *wire.Message
	err  error
}

// New builds a Client backed by a shared TCP/TLS connection pool.
func New(timeout time.Duration, pool *connpool.Pool) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		timeout:    timeout,
		ids:        txid.New(),
		pool:       pool,
		dohClients: make(map[string]*connpool.DoHClient),
		inflight:   make(map[string]*call),
	}
}

func inflightKey(fqdn string, qtype wire.QType, upstream address.Address) string {
	return fmt.Sprintf("%s|%s|%s", wire.CanonicalName(fqdn), qtype, upstream)
}

// Query resolves fqdn/qtype against upstream, joining an identical
// request already in flight rather than sending a duplicate.
func (c *Client) Query(ctx context.Context, fqdn string, qtype wire.QType, upstream address.Address) (*wire.Message, error) {
	key := inflightKey(fqdn, qtype, upstream)

	c.mu.Lock()
	if existing, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-existing.done:
			return existing.msg, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.msg, cl.err = c.queryOnce(ctx, fqdn, qtype, upstream)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(cl.done)

	return cl.msg, cl.err
}

func (c *Client) queryOnce(ctx context.Context, fqdn string, qtype wire.QType, upstream address.Address) (*wire.Message, error) {
	id, err := c.ids.Get()
	if err != nil {
		return nil, fmt.Errorf("client: allocate transaction id: %w", err)
	}
	defer c.ids.Put(id)

	req := wire.NewQuery(id, fqdn, qtype)
	payload, err := wire.PackMessage(req, 0)
	if err != nil {
		return nil, fmt.Errorf("client: pack query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.send(ctx, upstream, payload)
	if err != nil {
		return nil, fmt.Errorf("client: %s: %w", upstream, err)
	}

	resp, err := wire.NewParser(raw).Parse()
	if err != nil {
		return nil, fmt.Errorf("client: parse response from %s: %w", upstream, err)
	}
	if resp.ID != id {
		return nil, fmt.Errorf("client: %s: transaction id mismatch", upstream)
	}
	if len(resp.Question) == 0 || wire.CanonicalName(resp.Question[0].Name) != wire.CanonicalName(fqdn) {
		return nil, fmt.Errorf("client: %s: question section mismatch", upstream)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, upstream address.Address, payload []byte) ([]byte, error) {
	switch upstream.Scheme {
	case "udp", "":
		ip := net.ParseIP(upstream.Host)
		if ip == nil {
			return nil, fmt.Errorf("udp transport requires an IP literal, got %q", upstream.Host)
		}
		d, err := udp.Get(udp.FamilyFor(ip))
		if err != nil {
			return nil, err
		}
		return d.Send(ctx, &net.UDPAddr{IP: ip, Port: upstream.Port}, payload)

	case "tcp", "tcps":
		key := connpool.Key{Host: upstream.Host, Port: upstream.Port, TLS: upstream.Scheme == "tcps"}
		return c.pool.Query(ctx, key, payload)

	case "https":
		return c.dohClient(upstream).Query(ctx, payload)

	default:
		return nil, fmt.Errorf("unsupported upstream scheme %q", upstream.Scheme)
	}
}

func (c *Client) dohClient(upstream address.Address) *connpool.DoHClient {
	url := upstream.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	if dc, ok := c.dohClients[url]; ok {
		return dc
	}
	dc := connpool.NewDoHClient(url, connpool.DoHPost)
	c.dohClients[url] = dc
	return dc
}
