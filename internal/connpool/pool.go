// Package connpool manages pooled client connections for DNS-over-TCP,
// DNS-over-TLS, and DNS-over-HTTPS upstreams, keyed by (host, port, tls,
// sni). RFC 1035 §4.2.2's 2-byte length prefix is used to frame
// messages over both plain TCP and TLS; DoH has its own client in
// doh.go built on net/http's pooled transport.
package connpool

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dnsscience/dnsresolve/internal/metrics"
)

// DefaultMaxSize caps the number of simultaneous connections held open
// (idle + borrowed) per endpoint.
const DefaultMaxSize = 6

// DefaultIdleTimeout is how long an idle connection is kept before the
// reaper closes it.
const DefaultIdleTimeout = 10 * time.Second

// Key identifies one pooled endpoint.
type Key struct {
	Host string
	Port int
	TLS  bool
	SNI  string
}

func (k Key) String() string {
	scheme := "tcp"
	if k.TLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, k.Host, k.Port)
}

type conn struct {
	net.Conn
	lastUsed time.Time
}

type waiter struct {
	ch chan *conn
}

// Pool hands out pooled net.Conn-backed connections, opening a fresh one
// when an endpoint is under its size cap, or queuing the caller behind a
// waiter when it's at cap, exactly like a bounded resource pool.
type Pool struct {
	maxSize     int
	idleTimeout time.Duration
	dialTimeout time.Duration

	mu      sync.Mutex
	idle    map[Key][]*conn
	size    map[Key]int
	waiters map[Key][]*waiter
	closed  bool
	stop    chan struct{}
	done    sync.WaitGroup
}

// Config configures a Pool. Zero values fall back to the package
// defaults.
type Config struct {
	MaxSize     int
	IdleTimeout time.Duration
	DialTimeout time.Duration
}

// New starts a connection pool and its idle-connection reaper.
func New(cfg Config) *Pool {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	p := &Pool{
		maxSize:     cfg.MaxSize,
		idleTimeout: cfg.IdleTimeout,
		dialTimeout: cfg.DialTimeout,
		idle:        make(map[Key][]*conn),
		size:        make(map[Key]int),
		waiters:     make(map[Key][]*waiter),
		stop:        make(chan struct{}),
	}
	p.done.Add(1)
	go p.reap()
	return p
}

// Close shuts down the reaper and closes every idle connection. Borrowed
// connections are closed as they're returned via Put.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	for key, conns := range p.idle {
		for _, c := range conns {
			c.Close()
			p.size[key]--
			metrics.PoolConnections.WithLabelValues(key.String()).Dec()
		}
		delete(p.idle, key)
	}
	p.mu.Unlock()
	close(p.stop)
	p.done.Wait()
}

func (p *Pool) reap() {
	defer p.done.Done()
	ticker := time.NewTicker(p.idleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapOnce()
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) reapOnce() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, conns := range p.idle {
		var kept []*conn
		for _, c := range conns {
			if now.Sub(c.lastUsed) >= p.idleTimeout {
				c.Close()
				p.size[key]--
				metrics.PoolConnections.WithLabelValues(key.String()).Dec()
			} else {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(p.idle, key)
		} else {
			p.idle[key] = kept
		}
	}
}

// get borrows a connection for key, reusing an idle one, dialing a fresh
// one under the size cap, or blocking on a waiter until one frees up.
func (p *Pool) get(ctx context.Context, key Key) (*conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("connpool: closed")
	}
	if conns := p.idle[key]; len(conns) > 0 {
		c := conns[len(conns)-1]
		p.idle[key] = conns[:len(conns)-1]
		p.mu.Unlock()
		return c, nil
	}
	if p.size[key] < p.maxSize {
		p.size[key]++
		p.mu.Unlock()
		c, err := p.dial(ctx, key)
		if err != nil {
			p.mu.Lock()
			p.size[key]--
			p.mu.Unlock()
			return nil, err
		}
		metrics.PoolConnections.WithLabelValues(key.String()).Inc()
		return c, nil
	}
	w := &waiter{ch: make(chan *conn, 1)}
	p.waiters[key] = append(p.waiters[key], w)
	p.mu.Unlock()

	select {
	case c := <-w.ch:
		if c == nil {
			return nil, fmt.Errorf("connpool: pool closed while waiting")
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) dial(ctx context.Context, key Key) (*conn, error) {
	d := net.Dialer{Timeout: p.dialTimeout}
	addr := net.JoinHostPort(key.Host, fmt.Sprintf("%d", key.Port))
	if !key.TLS {
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return &conn{Conn: c}, nil
	}
	sni := key.SNI
	if sni == "" {
		sni = key.Host
	}
	tlsConn, err := tls.DialWithDialer(&d, "tcp", addr, &tls.Config{ServerName: sni, MinVersion: tls.VersionTLS12})
	if err != nil {
		return nil, err
	}
	return &conn{Conn: tlsConn}, nil
}

// put returns a connection to the pool (handing it straight to a waiter
// if one is queued) or closes it when unhealthy or the pool is closed.
func (p *Pool) put(key Key, c *conn, healthy bool) {
	p.mu.Lock()
	if !healthy || p.closed {
		wasClosed := p.closed
		if !wasClosed {
			p.size[key]--
			metrics.PoolConnections.WithLabelValues(key.String()).Dec()
		}
		p.mu.Unlock()
		c.Close()
		return
	}
	if ws := p.waiters[key]; len(ws) > 0 {
		w := ws[0]
		p.waiters[key] = ws[1:]
		p.mu.Unlock()
		w.ch <- c
		return
	}
	c.lastUsed = time.Now()
	p.idle[key] = append(p.idle[key], c)
	p.mu.Unlock()
}

// Query sends payload (a length-prefixed frame is added here) over a
// pooled connection to key and returns the length-prefixed response
// body, following RFC 1035 §4.2.2 TCP framing.
func (p *Pool) Query(ctx context.Context, key Key, payload []byte) ([]byte, error) {
	c, err := p.get(ctx, key)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.SetDeadline(deadline)
	}

	healthy := false
	defer func() { p.put(key, c, healthy) }()

	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(payload)))
	if _, err := c.Write(lenPrefix[:]); err != nil {
		return nil, fmt.Errorf("connpool: write length: %w", err)
	}
	if _, err := c.Write(payload); err != nil {
		return nil, fmt.Errorf("connpool: write message: %w", err)
	}

	var respLen [2]byte
	if _, err := io.ReadFull(c, respLen[:]); err != nil {
		return nil, fmt.Errorf("connpool: read length: %w", err)
	}
	n := binary.BigEndian.Uint16(respLen[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(c, body); err != nil {
		return nil, fmt.Errorf("connpool: read message: %w", err)
	}

	healthy = true
	return body, nil
}
