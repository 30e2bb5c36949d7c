// Package udp multiplexes outbound DNS-over-UDP queries over a single
// socket per address family, matching responses back to their sender by
// the transaction ID carried in the first two bytes of the wire message.
// It only demultiplexes; parsing the response is the caller's job.
package udp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
)

const (
	// recvBufferSize is sized for the largest UDP DNS response this
	// resolver will ever see (EDNS(0) size negotiation is out of scope,
	// so responses are capped at the classic 65507-byte UDP payload).
	recvBufferSize = 65535
	sendQueueSize  = 256
)

// ErrClosed is returned by Send once the dispatcher has been shut down.
var ErrClosed = errors.New("udp: dispatcher closed")

type pending struct {
	resp chan []byte
}

// Dispatcher owns one UDP socket for one address family and fans
// incoming datagrams out to whichever in-flight Send call owns that
// packet's transaction ID.
type Dispatcher struct {
	conn *net.UDPConn

	mu      sync.Mutex
	waiters map[uint16]*pending
	closed  bool
}

// family selects which UDP socket family a dispatcher binds.
type family int

const (
	FamilyIPv4 family = iota
	FamilyIPv6
)

func (f family) network() string {
	if f == FamilyIPv6 {
		return "udp6"
	}
	return "udp4"
}

var (
	registryMu sync.Mutex
	registry   = map[family]*Dispatcher{}
)

// Get returns the process-wide dispatcher for f, creating and binding
// its socket on first use.
func Get(f family) (*Dispatcher, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if d, ok := registry[f]; ok {
		return d, nil
	}
	conn, err := net.ListenUDP(f.network(), nil)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %s: %w", f.network(), err)
	}
	d := &Dispatcher{conn: conn, waiters: make(map[uint16]*pending)}
	go d.readLoop()
	registry[f] = d
	return d, nil
}

// CloseAll shuts down every dispatcher created via Get, for clean
// process shutdown and tests.
func CloseAll() {
	registryMu.Lock()
	defer registryMu.Unlock()
	for f, d := range registry {
		d.close()
		delete(registry, f)
	}
}

func (d *Dispatcher) readLoop() {
	buf := make([]byte, recvBufferSize)
	for {
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}
		if n < 2 {
			continue
		}
		qid := binary.BigEndian.Uint16(buf[0:2])

		d.mu.Lock()
		w, ok := d.waiters[qid]
		d.mu.Unlock()
		if !ok {
			continue // no one is waiting for this id; drop (late/spoofed reply)
		}

		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case w.resp <- cp:
		default:
		}
	}
}

// Send transmits payload (whose first two bytes are the transaction ID
// used to demultiplex the reply) to addr and waits for a matching
// response or ctx's deadline, whichever comes first.
func (d *Dispatcher) Send(ctx context.Context, addr *net.UDPAddr, payload []byte) ([]byte, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("udp: payload too short to carry a transaction id")
	}
	qid := binary.BigEndian.Uint16(payload[0:2])

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	w := &pending{resp: make(chan []byte, 1)}
	d.waiters[qid] = w
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.waiters, qid)
		d.mu.Unlock()
	}()

	if _, err := d.conn.WriteToUDP(payload, addr); err != nil {
		return nil, fmt.Errorf("udp: send: %w", err)
	}

	select {
	case data := <-w.resp:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.conn.Close()
}

// FamilyFor picks FamilyIPv6 when ip is an IPv6 address, else FamilyIPv4.
func FamilyFor(ip net.IP) family {
	if ip.To4() == nil {
		return FamilyIPv6
	}
	return FamilyIPv4
}
