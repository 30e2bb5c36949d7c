package listener

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsscience/dnsresolve/internal/address"
	"github.com/dnsscience/dnsresolve/internal/connpool"
	"github.com/dnsscience/dnsresolve/internal/qpool"
	"github.com/dnsscience/dnsresolve/internal/resolve"
	"github.com/dnsscience/dnsresolve/internal/wire"
)

// mockAuthority answers any query with a single A record.
func mockAuthority(t *testing.T, ip string) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp4", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, err := wire.NewParser(buf[:n]).Parse()
			if err != nil {
				continue
			}
			resp := &wire.Message{
				ID:       req.ID,
				Flags:    wire.Flags{QR: true, RD: true, RA: true},
				Question: req.Question,
				Answer: []wire.Record{{
					Kind: wire.RESPONSE, Name: req.Question[0].Name, QType: wire.TypeA,
					QClass: wire.ClassIN, TTL: 60, Data: wire.RDataA{IP: net.ParseIP(ip)},
				}},
			}
			out, err := wire.PackMessage(resp, 0)
			if err != nil {
				continue
			}
			conn.WriteToUDP(out, raddr)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr)
}

func newTestServer(t *testing.T, upstream *net.UDPAddr) *Server {
	t.Helper()
	cfg := resolve.DefaultConfig()
	cfg.Recursive = false
	cfg.QueryTimeout = 2 * time.Second
	cfg.Pool = connpool.New(connpool.Config{})
	r := resolve.New(cfg)
	r.SetProxies([]resolve.ProxyRule{
		{Nameservers: []address.Address{{Scheme: "udp", Host: upstream.IP.String(), Port: upstream.Port}}},
	})

	s := New(Config{
		UDPAddr:  "127.0.0.1:0",
		Resolver: r,
		Pool:     qpool.New(qpool.Config{Workers: 2}),
	})
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestServeUDPAnswersQuery(t *testing.T) {
	upstream := mockAuthority(t, "9.9.9.9")
	s := newTestServer(t, upstream)

	conn, err := net.DialUDP("udp4", nil, s.udpConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	req := wire.NewQuery(42, "example.com", wire.TypeA)
	payload, err := wire.PackMessage(req, 0)
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	resp, err := wire.NewParser(buf[:n]).Parse()
	require.NoError(t, err)
	assert.Equal(t, uint16(42), resp.ID)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "9.9.9.9", resp.Answer[0].Data.(wire.RDataA).IP.String())

	stats := s.GetStats()
	assert.Equal(t, uint64(1), stats.Queries)
	assert.Equal(t, uint64(1), stats.Answers)
}

func TestAnswerReturnsFormatErrorOnEmptyQuestion(t *testing.T) {
	upstream := mockAuthority(t, "1.1.1.1")
	s := newTestServer(t, upstream)

	empty := &wire.Message{ID: 7}
	resp := s.answer(nil, mustPack(t, empty))
	require.NotNil(t, resp)
	assert.Equal(t, uint8(wire.RcodeFormatError), resp.Flags.Rcode)
}

func mustPack(t *testing.T, m *wire.Message) []byte {
	t.Helper()
	b, err := wire.PackMessage(m, 0)
	require.NoError(t, err)
	return b
}
