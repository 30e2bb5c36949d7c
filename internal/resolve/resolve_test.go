package resolve

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsscience/dnsresolve/internal/address"
	"github.com/dnsscience/dnsresolve/internal/connpool"
	"github.com/dnsscience/dnsresolve/internal/wire"
)

// mockAuthority answers any query for its configured name with a single A
// record and no delegation, so a proxy-mode resolver treats it as a
// recursive upstream that already has the final answer.
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
					Timestamp: time.Now().Unix(),
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

func newTestResolver(recursive bool) *Resolver {
	cfg := DefaultConfig()
	cfg.Recursive = recursive
	cfg.QueryTimeout = 2 * time.Second
	cfg.Pool = connpool.New(connpool.Config{})
	return New(cfg)
}

func TestQueryForwardsThroughProxyRule(t *testing.T) {
	ns := mockAuthority(t, "1.2.3.4")
	r := newTestResolver(false)
	r.SetProxies([]ProxyRule{
		{Nameservers: []address.Address{{Scheme: "udp", Host: ns.IP.String(), Port: ns.Port}}},
	})

	msg, cached, err := r.Query(context.Background(), "www.example.com.", wire.TypeA)
	require.NoError(t, err)
	assert.False(t, cached)
	require.Len(t, msg.Answer, 1)
	assert.Equal(t, "1.2.3.4", msg.Answer[0].Data.(wire.RDataA).IP.String())
}

func TestQueryAnswersFromCacheOnSecondLookup(t *testing.T) {
	ns := mockAuthority(t, "5.6.7.8")
	r := newTestResolver(false)
	r.SetProxies([]ProxyRule{
		{Nameservers: []address.Address{{Scheme: "udp", Host: ns.IP.String(), Port: ns.Port}}},
	})

	_, cached, err := r.Query(context.Background(), "cached.example.com", wire.TypeA)
	require.NoError(t, err)
	assert.False(t, cached)

	msg, cached, err := r.Query(context.Background(), "cached.example.com", wire.TypeA)
	require.NoError(t, err)
	assert.True(t, cached)
	require.Len(t, msg.Answer, 1)
}

func TestQueryZoneDomainShortCircuitsToNXDOMAIN(t *testing.T) {
	r := newTestResolver(false)
	r.SetZoneDomains([]string{"lan"})

	msg, cached, err := r.Query(context.Background(), "nothing.lan", wire.TypeA)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, uint8(wire.RcodeNameError), msg.Flags.Rcode)
	assert.True(t, msg.Flags.AA)
}

func TestQueryANYAgainstIPLiteralRewritesToPTR(t *testing.T) {
	ns := mockAuthority(t, "127.0.0.1")
	r := newTestResolver(false)
	r.SetProxies([]ProxyRule{
		{Nameservers: []address.Address{{Scheme: "udp", Host: ns.IP.String(), Port: ns.Port}}},
	})

	msg, _, err := r.Query(context.Background(), "1.2.3.4", wire.TypeANY)
	require.NoError(t, err)
	require.Len(t, msg.Question, 1)
	assert.Equal(t, "4.3.2.1.in-addr.arpa", msg.Question[0].Name)
	assert.Equal(t, wire.TypePTR, msg.Question[0].QType)
}

func TestBuildTesterWildcardSuffix(t *testing.T) {
	test := BuildTester("*.lan")
	assert.True(t, test("printer.lan"))
	assert.True(t, test("lan"))
	assert.False(t, test("example.com"))
}

func TestBuildTesterExactMatch(t *testing.T) {
	test := BuildTester("example.com")
	assert.True(t, test("example.com"))
	assert.False(t, test("sub.example.com"))
}

func TestGetNameServersWalksUpToRootHints(t *testing.T) {
	r := newTestResolver(true)
	r.cache.Add(wire.Record{Name: "", QType: wire.TypeNS, TTL: -1, Data: wire.RDataNS{Name: "198.51.100.1"}})

	set, err := r.GetNameServers(context.Background(), "www.example.com")
	require.NoError(t, err)
	addrs, err := set.Iter()
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "198.51.100.1", addrs[0].Host)
}

// mockDelegator answers any query with a referral to zone: one legitimate
// in-bailiwick NS (backed by childAddr) plus one forged NS whose target
// name sits outside zone, each with a glue A record attached. A resolver
// that trusts the forged glue would end up with evilIP in its nameserver
// set for the next hop.
func mockDelegator(t *testing.T, zone string, childAddr *net.UDPAddr, evilIP string) *net.UDPAddr {
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
				Authority: []wire.Record{
					{Kind: wire.RESPONSE, Name: zone, QType: wire.TypeNS, QClass: wire.ClassIN, TTL: 300,
						Data: wire.RDataNS{Name: "ns1." + zone}},
					{Kind: wire.RESPONSE, Name: zone, QType: wire.TypeNS, QClass: wire.ClassIN, TTL: 300,
						Data: wire.RDataNS{Name: "ns1.evil.test"}},
				},
				Additional: []wire.Record{
					{Kind: wire.RESPONSE, Name: "ns1." + zone, QType: wire.TypeA, QClass: wire.ClassIN, TTL: 300,
						Data: wire.RDataA{IP: net.ParseIP(childAddr.IP.String())}},
					{Kind: wire.RESPONSE, Name: "ns1.evil.test", QType: wire.TypeA, QClass: wire.ClassIN, TTL: 300,
						Data: wire.RDataA{IP: net.ParseIP(evilIP)}},
				},
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

func TestQueryRecursiveDelegationHardensOutOfBailiwickGlue(t *testing.T) {
	child := mockAuthority(t, "9.9.9.9")
	root := mockDelegator(t, "example.com", child, "6.6.6.6")

	r := newTestResolver(true)
	r.cache.Add(wire.Record{Name: "", QType: wire.TypeNS, TTL: -1,
		Data: wire.RDataNS{Name: root.IP.String() + ":" + strconv.Itoa(root.Port)}})

	msg, _, err := r.Query(context.Background(), "www.example.com", wire.TypeA)
	require.NoError(t, err)
	require.Len(t, msg.Answer, 1)
	assert.Equal(t, "9.9.9.9", msg.Answer[0].Data.(wire.RDataA).IP.String())

	for _, rec := range r.cache.Query("ns1.evil.test", wire.TypeANY) {
		t.Fatalf("forged glue for ns1.evil.test should have been scrubbed, found %v", rec)
	}
}

func TestGetNameServersPrefersClosestAncestor(t *testing.T) {
	r := newTestResolver(true)
	r.cache.Add(wire.Record{Name: "", QType: wire.TypeNS, TTL: -1, Data: wire.RDataNS{Name: "198.51.100.1"}})
	r.cache.Add(wire.Record{Name: "com", QType: wire.TypeNS, TTL: -1, Data: wire.RDataNS{Name: "198.51.100.2"}})

	set, err := r.GetNameServers(context.Background(), "www.example.com")
	require.NoError(t, err)
	addrs, err := set.Iter()
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "198.51.100.2", addrs[0].Host)
}
