// Package listener runs the UDP and TCP front ends that turn inbound DNS
// queries into internal/resolve.Resolver.Query calls and write back
// wire-encoded responses.
package listener

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/dnsscience/dnsresolve/internal/obs"
	"github.com/dnsscience/dnsresolve/internal/pool"
	"github.com/dnsscience/dnsresolve/internal/qpool"
	"github.com/dnsscience/dnsresolve/internal/resolve"
	"github.com/dnsscience/dnsresolve/internal/wire"
)

// udpMaxMessageSize is the practical EDNS0 ceiling this listener answers
// under; anything larger is truncated with TC set.
const udpMaxMessageSize = 4096

// Config configures a Server.
type Config struct {
	UDPAddr string
	TCPAddr string

	Resolver *resolve.Resolver
	Pool     *qpool.Pool
	Logger   *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server listens on UDP and TCP and answers queries from a Resolver.
type Server struct {
	cfg Config
	log *slog.Logger

	udpConn *net.UDPConn
	tcpLn   net.Listener

	queries  atomic.Uint64
	answers  atomic.Uint64
	errors   atomic.Uint64
	nxdomain atomic.Uint64
}

// Stats is a snapshot of query counts since the server started.
type Stats struct {
	Queries  uint64
	Answers  uint64
	Errors   uint64
	NXDOMAIN uint64
}

// GetStats returns the current query counters.
func (s *Server) GetStats() Stats {
	return Stats{
		Queries:  s.queries.Load(),
		Answers:  s.answers.Load(),
		Errors:   s.errors.Load(),
		NXDOMAIN: s.nxdomain.Load(),
	}
}

// New builds a Server; it does not start listening until Start is
// called.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = obs.New(slog.LevelInfo, nil)
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Server{cfg: cfg, log: cfg.Logger}
}

// Start opens the UDP and TCP sockets and begins serving. It returns once
// both are listening; serving itself runs in background goroutines.
func (s *Server) Start() error {
	if s.cfg.UDPAddr != "" {
		addr, err := net.ResolveUDPAddr("udp", s.cfg.UDPAddr)
		if err != nil {
			return fmt.Errorf("listener: resolve udp addr: %w", err)
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return fmt.Errorf("listener: listen udp: %w", err)
		}
		s.udpConn = conn
		go s.serveUDP()
	}

	if s.cfg.TCPAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.TCPAddr)
		if err != nil {
			if s.udpConn != nil {
				s.udpConn.Close()
			}
			return fmt.Errorf("listener: listen tcp: %w", err)
		}
		s.tcpLn = ln
		go s.serveTCP()
	}

	return nil
}

// Stop closes both sockets. In-flight handlers finish on their own.
func (s *Server) Stop() error {
	var err error
	if s.udpConn != nil {
		err = errors.Join(err, s.udpConn.Close())
	}
	if s.tcpLn != nil {
		err = errors.Join(err, s.tcpLn.Close())
	}
	return err
}

func (s *Server) serveUDP() {
	readBuf := pool.GetLargeBuffer()
	defer pool.PutLargeBuffer(readBuf)

	for {
		n, addr, err := s.udpConn.ReadFromUDP(readBuf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		packetBuf := pool.GetBuffer(n)
		copy(packetBuf, readBuf[:n])

		task := qpool.TaskFunc(func(ctx context.Context) error {
			return s.handleUDP(ctx, packetBuf, n, addr)
		})
		if s.cfg.Pool != nil {
			if err := s.cfg.Pool.SubmitAsync(context.Background(), task); err != nil {
				s.log.Warn("query dropped", "error", err, "remote", addr.String())
				pool.PutBuffer(packetBuf)
			}
		} else {
			go task.Run(context.Background())
		}
	}
}

func (s *Server) handleUDP(ctx context.Context, packetBuf []byte, n int, addr *net.UDPAddr) error {
	defer pool.PutBuffer(packetBuf)

	resp := s.answer(ctx, packetBuf[:n])
	if resp == nil {
		return nil
	}
	payload, err := wire.PackMessage(resp, udpMaxMessageSize)
	if err != nil {
		return err
	}
	_, err = s.udpConn.WriteToUDP(payload, addr)
	return err
}

func (s *Server) serveTCP() {
	for {
		conn, err := s.tcpLn.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		go s.serveTCPConn(conn)
	}
}

// serveTCPConn answers every length-prefixed query on one connection in
// turn, per RFC 1035 §4.2.2.
func (s *Server) serveTCPConn(conn net.Conn) {
	defer conn.Close()
	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		var lenPrefix [2]byte
		if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint16(lenPrefix[:])
		packet := make([]byte, n)
		if _, err := io.ReadFull(conn, packet); err != nil {
			return
		}

		resp := s.answer(context.Background(), packet)
		if resp == nil {
			continue
		}
		payload, err := wire.PackMessage(resp, 0)
		if err != nil {
			return
		}

		var respLen [2]byte
		binary.BigEndian.PutUint16(respLen[:], uint16(len(payload)))
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if _, err := conn.Write(respLen[:]); err != nil {
			return
		}
		if _, err := conn.Write(payload); err != nil {
			return
		}
	}
}

// answer decodes packet, resolves its question, and builds the wire
// response. It returns nil only when the packet couldn't even be parsed
// as a DNS message, in which case no reply is sent.
func (s *Server) answer(ctx context.Context, packet []byte) *wire.Message {
	s.queries.Add(1)

	req, err := wire.NewParser(packet).Parse()
	if err != nil {
		s.errors.Add(1)
		return nil
	}

	reply := &wire.Message{ID: req.ID, Flags: wire.Flags{QR: true, RD: req.Flags.RD, RA: true}}
	if len(req.Question) == 0 {
		reply.Flags.Rcode = wire.RcodeFormatError
		s.errors.Add(1)
		return reply
	}
	reply.Question = req.Question

	q := req.Question[0]
	log := obs.Query(s.log, q.Name, q.QType.String())

	msg, _, err := s.cfg.Resolver.Query(ctx, q.Name, q.QType)
	if err != nil {
		log.Warn("resolution failed", "error", err)
		reply.Flags.Rcode = wire.RcodeServerFailure
		s.errors.Add(1)
		return reply
	}

	reply.Flags.Rcode = msg.Flags.Rcode
	reply.Flags.AA = msg.Flags.AA
	reply.Answer = msg.Answer
	reply.Authority = msg.Authority
	reply.Additional = msg.Additional

	s.answers.Add(1)
	if msg.Flags.Rcode == wire.RcodeNameError {
		s.nxdomain.Add(1)
	}
	return reply
}
