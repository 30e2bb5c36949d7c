// Package resolve is the public entry point: it normalizes queries, picks
// nameservers (recursively from root hints, or by forwarding to configured
// proxies), deduplicates identical in-flight lookups, and drives
// internal/planner to assemble an answer.
package resolve

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dnsscience/dnsresolve/internal/address"
	"github.com/dnsscience/dnsresolve/internal/cache"
	"github.com/dnsscience/dnsresolve/internal/client"
	"github.com/dnsscience/dnsresolve/internal/connpool"
	"github.com/dnsscience/dnsresolve/internal/metrics"
	"github.com/dnsscience/dnsresolve/internal/nsset"
	"github.com/dnsscience/dnsresolve/internal/planner"
	"github.com/dnsscience/dnsresolve/internal/wire"
)

// aTypes mirrors A_TYPES from the delegation-walk in the original resolver.
var aTypes = []wire.QType{wire.TypeA, wire.TypeAAAA}

// ProxyRule matches a domain against a fixed set of upstream nameservers,
// the way a proxy resolver's ns_pairs table does: the first rule whose
// Test matches (or whose Test is nil, a catch-all fallback) wins.
type ProxyRule struct {
	Test        func(fqdn string) bool
	Nameservers []address.Address
}

// BuildTester turns a zone rule string into a matcher: "*.lan" matches any
// subdomain of lan, anything else matches only itself exactly.
func BuildTester(rule string) func(string) bool {
	if strings.HasPrefix(rule, "*.") {
		suffix := rule[1:]
		return func(d string) bool { return strings.HasSuffix(wire.CanonicalName(d), suffix) }
	}
	target := wire.CanonicalName(rule)
	return func(d string) bool { return wire.CanonicalName(d) == target }
}

// Config controls one Resolver's behavior.
type Config struct {
	// Recursive walks delegations down from root hints. When false, the
	// resolver forwards every query to a configured set of upstream
	// proxies that are themselves expected to run in recursive mode.
	Recursive bool

	// ZoneDomains are suffixes this resolver is authoritative for: a
	// cache miss under one of these becomes NXDOMAIN/AA instead of a
	// remote lookup.
	ZoneDomains []string

	// QueryTimeout bounds one top-level Query call end to end.
	QueryTimeout time.Duration
	// RequestTimeout bounds a single upstream round trip.
	RequestTimeout time.Duration
	// MaxTick bounds delegation hops / glue sub-queries.
	MaxTick int

	Pool *connpool.Pool
}

// DefaultConfig returns a recursive resolver's defaults.
func DefaultConfig() Config {
	return Config{
		Recursive:      true,
		QueryTimeout:   5 * time.Second,
		RequestTimeout: client.DefaultTimeout,
		MaxTick:        planner.DefaultTick,
		Pool:           connpool.New(connpool.Config{}),
	}
}

type pending struct {
	done chan struct{}
	msg  *wire.Message
	err  error
}

// Resolver is the resolver facade: it owns the cache, the client, and the
// nameserver-selection policy, and implements planner.Resolver.
type Resolver struct {
	cfg    Config
	cache  *cache.Node
	client *client.Client

	mu      sync.Mutex
	ns      []ProxyRule // non-nil only in proxy (non-recursive) mode
	pending map[string]*pending
}

// New builds a Resolver. In recursive mode the caller should follow up
// with SetRootHints to seed the cache with root (or stub) nameservers;
// otherwise GetNameServers will have nothing to walk from.
func New(cfg Config) *Resolver {
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.MaxTick == 0 {
		cfg.MaxTick = planner.DefaultTick
	}
	if cfg.Pool == nil {
		cfg.Pool = connpool.New(connpool.Config{})
	}
	r := &Resolver{
		cfg:     cfg,
		cache:   cache.New(),
		client:  client.New(cfg.RequestTimeout, cfg.Pool),
		pending: make(map[string]*pending),
	}
	metrics.RegisterCache(r.cache)
	return r
}

// SetZoneDomains replaces the authoritative-suffix list.
func (r *Resolver) SetZoneDomains(domains []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.ZoneDomains = domains
}

// SetProxies configures forwarding rules for non-recursive mode. The
// first rule whose Test matches a query's name wins; a rule with a nil
// Test is a catch-all and should be listed last.
func (r *Resolver) SetProxies(rules []ProxyRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ns = rules
}

// SetHosts seeds the cache with pinned (ttl=-1) records, typically parsed
// from an /etc/hosts-style file.
func (r *Resolver) SetHosts(records []wire.Record) {
	for _, rec := range records {
		r.cache.Add(rec)
	}
}

// SetRootHints seeds the cache with pinned NS/A/AAAA records to start a
// recursive delegation walk from, typically parsed from a root-hints file.
func (r *Resolver) SetRootHints(records []wire.Record) {
	for _, rec := range records {
		r.cache.Add(rec)
	}
}

// Query resolves fqdn/qtype, returning the assembled message and whether
// it was answered entirely from cache. ANY queries against a bare IP
// literal are rewritten to a PTR lookup, matching how a resolver lets a
// caller ask "who is this address" without spelling out in-addr.arpa.
func (r *Resolver) Query(ctx context.Context, fqdn string, qtype wire.QType) (*wire.Message, bool, error) {
	fqdn = strings.TrimSuffix(fqdn, ".")
	if qtype == wire.TypeANY {
		if addr, err := address.Parse(fqdn, "udp", false); err == nil {
			if ptr, err := addr.ToPTR(); err == nil {
				fqdn, qtype = ptr, wire.TypePTR
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	msg, cached, err := r.queryTickMemoized(ctx, fqdn, qtype, r.cfg.MaxTick)
	if err == nil {
		metrics.ObserveQuery(qtype.String(), msg.Flags.Rcode, start)
	}
	return msg, cached, err
}

// memoKey ignores tick the same way the original's memoizer does: a
// sub-query for (fqdn,qtype) already in flight is joined rather
// than duplicated, regardless of which caller's tick budget started it.
func memoKey(fqdn string, qtype wire.QType) string {
	return fmt.Sprintf("%s|%s", wire.CanonicalName(fqdn), qtype)
}

func (r *Resolver) queryTickMemoized(ctx context.Context, fqdn string, qtype wire.QType, tick int) (*wire.Message, bool, error) {
	key := memoKey(fqdn, qtype)

	r.mu.Lock()
	if p, ok := r.pending[key]; ok {
		r.mu.Unlock()
		select {
		case <-p.done:
			return p.msg, false, p.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	p := &pending{done: make(chan struct{})}
	r.pending[key] = p
	r.mu.Unlock()

	q := planner.New(r, fqdn, qtype, tick)
	msg, cached, err := q.Run(ctx)

	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()

	p.msg, p.err = msg, err
	close(p.done)
	return msg, cached, err
}

// Cache implements planner.Resolver.
func (r *Resolver) Cache() *cache.Node { return r.cache }

// Recursive implements planner.Resolver.
func (r *Resolver) Recursive() bool { return r.cfg.Recursive }

// RootDomains implements planner.Resolver.
func (r *Resolver) RootDomains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.ZoneDomains
}

// Client implements planner.Resolver.
func (r *Resolver) Client() *client.Client { return r.client }

// CacheMessage implements planner.Resolver: every positive-TTL, non-SOA
// record in a remote response is learned for later queries.
func (r *Resolver) CacheMessage(msg *wire.Message) {
	if msg == nil {
		return
	}
	for _, sec := range [][]wire.Record{msg.Answer, msg.Authority, msg.Additional} {
		for _, rec := range sec {
			if rec.TTL > 0 && rec.QType != wire.TypeSOA {
				r.cache.Add(rec)
			}
		}
	}
}

// QuerySafe implements planner.Resolver: it runs a full query at the
// configured tick budget and swallows any error, the way the original's
// query_with_cache absorbs timeouts/assertions from a CNAME-chase
// sub-query rather than failing the whole resolution.
func (r *Resolver) QuerySafe(ctx context.Context, name string, qtype wire.QType) (*wire.Message, error) {
	msg, _, err := r.queryTickMemoized(ctx, name, qtype, r.cfg.MaxTick)
	if err != nil {
		return nil, nil
	}
	return msg, nil
}

// QueryTick implements planner.Resolver: a glue sub-query that still
// spends down the caller's tick budget. It runs on the caller's ctx.
func (r *Resolver) QueryTick(ctx context.Context, name string, qtype wire.QType, tick int) (*wire.Message, error) {
	msg, _, err := r.queryTickMemoized(ctx, name, qtype, tick)
	return msg, err
}

// GetNameServers implements planner.Resolver. In proxy mode it evaluates
// the configured rules in order; in recursive mode it walks up from
// domain's parent looking for cached NS records (and, if a nameserver is
// named by hostname rather than IP, the cached glue A/AAAA for that
// hostname), stopping at the first ancestor with any hits.
func (r *Resolver) GetNameServers(ctx context.Context, domain string) (*nsset.Set, error) {
	r.mu.Lock()
	rules := r.ns
	recursive := r.cfg.Recursive
	r.mu.Unlock()

	if !recursive {
		for _, rule := range rules {
			if rule.Test == nil || rule.Test(domain) {
				return nsset.New(rule.Nameservers), nil
			}
		}
		return nsset.New(nil), nil
	}

	var addrs []address.Address
	fqdn := wire.CanonicalName(domain)
	for fqdn != "" {
		if fqdn == "in-addr.arpa" {
			break
		}
		_, fqdn, _ = strings.Cut(fqdn, ".")
		for _, rec := range r.cache.Query(fqdn, wire.TypeNS) {
			host := rec.Data.(wire.RDataNS).Name
			if hostAddr, err := address.Parse(host, "udp", false); err == nil {
				addrs = append(addrs, hostAddr)
				continue
			}
			for _, glue := range r.cache.Query(host, wire.TypeANY) {
				for _, t := range aTypes {
					if glue.QType != t {
						continue
					}
					switch d := glue.Data.(type) {
					case wire.RDataA:
						addrs = append(addrs, address.Address{Scheme: "udp", Host: d.IP.String(), Port: 53})
					case wire.RDataAAAA:
						addrs = append(addrs, address.Address{Scheme: "udp", Host: d.IP.String(), Port: 53, IsIPv6: true})
					}
				}
			}
		}
		if len(addrs) > 0 {
			break
		}
	}
	return nsset.New(addrs), nil
}
