// Package planner implements the query plan a single resolution walks
// through: a cache phase that answers from what's already known (CNAME
// chase, NS/glue harvesting, zone-domain short-circuit), and a remote
// phase that asks an upstream, follows CNAMEs, and walks delegations
// down to authoritative nameservers when operating recursively.
package planner

import (
	"context"
	"fmt"

	"github.com/dnsscience/dnsresolve/internal/address"
	"github.com/dnsscience/dnsresolve/internal/cache"
	"github.com/dnsscience/dnsresolve/internal/client"
	"github.com/dnsscience/dnsresolve/internal/metrics"
	"github.com/dnsscience/dnsresolve/internal/nsset"
	"github.com/dnsscience/dnsresolve/internal/security"
	"github.com/dnsscience/dnsresolve/internal/wire"
)

// DefaultTick bounds how many delegation hops / glue sub-queries a
// single top-level query may trigger, preventing an unbounded referral
// chain from spinning forever.
const DefaultTick = 10

// Resolver is the facade a Query calls back into for cache access,
// nameserver selection, and (when recursive) nested sub-queries. It is
// satisfied by internal/resolve.Resolver.
type Resolver interface {
	Cache() *cache.Node
	Recursive() bool
	RootDomains() []string
	GetNameServers(ctx context.Context, domain string) (*nsset.Set, error)
	QuerySafe(ctx context.Context, name string, qtype wire.QType) (*wire.Message, error)
	QueryTick(ctx context.Context, name string, qtype wire.QType, tick int) (*wire.Message, error)
	CacheMessage(msg *wire.Message)
	Client() *client.Client
}

// aTypes mirrors the original's A_TYPES tuple used when harvesting glue.
var aTypes = []wire.QType{wire.TypeA, wire.TypeAAAA}

// visitedKey identifies a (name, qtype) pair in a Query's visited set,
// matching the shape of internal/resolve's own memoization key so a
// guard here lines up with what would actually deadlock there.
func visitedKey(name string, qtype wire.QType) string {
	return wire.CanonicalName(name) + "|" + qtype.String()
}

// Query runs one resolution of fqdn/qtype to completion.
type Query struct {
	resolver Resolver
	fqdn     string
	qtype    wire.QType
	tick     int

	// visited holds every (name, qtype) pair this query has already
	// asked the resolver to answer, whether as a CNAME target or a
	// glueless nameserver lookup. It breaks CNAME chains that loop back
	// on themselves (spec §4.7.1) and, just as importantly, stops this
	// Query from ever re-issuing a sub-query for the exact (fqdn,qtype)
	// it is itself still resolving: the resolver's cross-call
	// memoization (internal/resolve's pending map) cannot detect that
	// same-stack reentrancy on its own and would deadlock waiting for
	// itself to finish.
	visited map[string]bool

	result *wire.Message
	cached bool
}

// New starts a query plan for fqdn/qtype with a hop budget of tick.
func New(resolver Resolver, fqdn string, qtype wire.QType, tick int) *Query {
	return &Query{
		resolver: resolver,
		fqdn:     fqdn,
		qtype:    qtype,
		tick:     tick,
		visited:  map[string]bool{visitedKey(fqdn, qtype): true},
		result: &wire.Message{
			Flags:    wire.Flags{RA: resolver.Recursive()},
			Question: []wire.Question{{Name: fqdn, QType: qtype, QClass: wire.ClassIN}},
		},
	}
}

// Run executes the cache-then-remote loop until an answer (or a
// terminal failure) is reached, returning the assembled message and
// whether it was served entirely from cache.
func (q *Query) Run(ctx context.Context) (*wire.Message, bool, error) {
	domain := q.fqdn
	var nameservers *nsset.Set

	for {
		if q.tick <= 0 {
			return nil, false, fmt.Errorf("planner: %s: maximum nested query times exceeded", q.fqdn)
		}
		q.tick--

		hit, err := q.queryCache(ctx, domain)
		if err != nil {
			return nil, false, err
		}
		if hit {
			q.cached = true
			break
		}
		nextDomain, nextNS, done, err := q.queryRemote(ctx, domain, nameservers)
		if err != nil {
			return nil, false, err
		}
		if done {
			break
		}
		domain, nameservers = nextDomain, nextNS
	}
	return q.result, q.cached, nil
}

// queryCache implements the cache phase (spec §4.7.1): a cached CNAME
// chain is chased first; failing that, direct records and NS+glue pairs
// already in cache answer the query; failing that, a configured
// zone-domain short-circuits to NXDOMAIN/AA without touching the
// network.
func (q *Query) queryCache(ctx context.Context, domain string) (bool, error) {
	c := q.resolver.Cache()

	if cnames := c.Query(domain, wire.TypeCNAME); len(cnames) > 0 {
		allPinned := true
		for _, rec := range cnames {
			q.result.Answer = append(q.result.Answer, rec.Copy(domain))
			if rec.TTL >= 0 {
				allPinned = false
			}
		}
		if allPinned {
			q.result.Flags.AA = true
		}
		if q.qtype == wire.TypeCNAME {
			return true, nil
		}
		for _, rec := range cnames {
			target := rec.Data.(wire.RDataCNAME).Name
			targetKey := visitedKey(target, q.qtype)
			if q.visited[targetKey] {
				continue
			}
			q.visited[targetKey] = true
			inter, err := q.resolver.QuerySafe(ctx, target, q.qtype)
			if err != nil || inter == nil || inter.Flags.Rcode > 0 {
				continue
			}
			q.result.Answer = append(q.result.Answer, inter.Answer...)
			q.result.Authority = inter.Authority
			q.result.Additional = inter.Additional
		}
		return true, nil
	}

	hit := false
	for _, rec := range c.Query(domain, q.qtype) {
		if rec.QType == wire.TypeNS {
			glue := c.Query(rec.Data.(wire.RDataNS).Name, wire.TypeANY)
			glue = filterTypes(glue, aTypes)
			if len(glue) > 0 {
				q.result.Additional = append(q.result.Additional, glue...)
				q.result.Authority = append(q.result.Authority, rec)
				if rec.QType == q.qtype {
					hit = true
				}
			}
			continue
		}
		q.result.Answer = append(q.result.Answer, rec.Copy(domain))
		if q.qtype == wire.TypeCNAME || rec.QType != wire.TypeCNAME {
			hit = true
		}
	}

	for _, root := range q.resolver.RootDomains() {
		if hasSuffix(domain, root) {
			if !hit {
				q.result.Flags.Rcode = wire.RcodeNameError
				hit = true
			}
			q.result.Flags.AA = true
			break
		}
	}
	return hit, nil
}

func filterTypes(recs []wire.Record, types []wire.QType) []wire.Record {
	var out []wire.Record
	for _, r := range recs {
		for _, t := range types {
			if r.QType == t {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func hasSuffix(domain, root string) bool {
	domain, root = wire.CanonicalName(domain), wire.CanonicalName(root)
	if domain == root {
		return true
	}
	return len(domain) > len(root) && domain[len(domain)-len(root)-1:] == "."+root
}

// queryRemote implements the remote phase (spec §4.7.2): ask one round
// of nameservers, absorb the answer, and either finish, follow a CNAME,
// or walk one delegation hop deeper.
func (q *Query) queryRemote(ctx context.Context, domain string, nameservers *nsset.Set) (string, *nsset.Set, bool, error) {
	inter, err := q.queryRemoteOnce(ctx, domain, nameservers)
	if err != nil {
		return "", nil, false, err
	}

	var cnameTargets []string
	hasResult := false
	for _, rec := range inter.Answer {
		q.result.Answer = append(q.result.Answer, rec)
		if rec.QType == wire.TypeCNAME {
			cnameTargets = append(cnameTargets, rec.Data.(wire.RDataCNAME).Name)
		}
		if q.qtype == wire.TypeCNAME || rec.QType != wire.TypeCNAME {
			hasResult = true
		}
	}

	hasNS := false
	for _, rec := range inter.Authority {
		if !q.resolver.Recursive() {
			q.result.Authority = append(q.result.Authority, rec)
		}
		if rec.QType == wire.TypeSOA || q.qtype == wire.TypeNS {
			hasResult = true
		} else {
			hasNS = true
		}
	}
	if !q.resolver.Recursive() {
		q.result.Additional = append(q.result.Additional, inter.Additional...)
	}

	if hasResult {
		return "", nil, true, nil
	}
	if len(cnameTargets) > 0 {
		target := cnameTargets[0]
		targetKey := visitedKey(target, q.qtype)
		if q.visited[targetKey] {
			q.result.Flags.Rcode = wire.RcodeServerFailure
			return "", nil, true, nil
		}
		q.visited[targetKey] = true
		return target, nil, false, nil
	}
	if !q.resolver.Recursive() {
		q.result.Flags.Rcode = inter.Flags.Rcode
		return "", nil, true, nil
	}
	if !hasNS {
		q.result.Flags.Rcode = wire.RcodeServerFailure
		return "", nil, true, nil
	}

	return q.delegate(ctx, domain, inter)
}

// delegate resolves the IPs of the nameservers named in inter's
// authority section, using any glue already present in the additional
// section and otherwise issuing an A sub-query for the first nameserver
// that counts against the tick budget. The sub-query runs on ctx, so
// cancelling this query cancels it too; its failure is ignored rather
// than returned.
func (q *Query) delegate(ctx context.Context, domain string, inter *wire.Message) (string, *nsset.Set, bool, error) {
	var hosts []string
	for _, rec := range inter.Authority {
		switch d := rec.Data.(type) {
		case wire.RDataSOA:
			hosts = append(hosts, d.Mname)
		case wire.RDataNS:
			hosts = append(hosts, d.Name)
		}
	}

	glue := security.HardenGlue(inter.Additional, security.ParentZone(domain), hosts)
	glueIPs := make(map[string][]wire.Record)
	for _, rec := range glue {
		if rec.QType == wire.TypeA || rec.QType == wire.TypeAAAA {
			glueIPs[wire.CanonicalName(rec.Name)] = append(glueIPs[wire.CanonicalName(rec.Name)], rec)
		}
	}

	var nsAddrs []address.Address
	for _, host := range hosts {
		for _, rec := range glueIPs[wire.CanonicalName(host)] {
			if a, ok := rec.Data.(wire.RDataA); ok {
				nsAddrs = append(nsAddrs, address.Address{Scheme: "udp", Host: a.IP.String(), Port: 53})
			}
		}
	}

	if len(nsAddrs) == 0 && len(hosts) > 0 {
		hostKey := visitedKey(hosts[0], wire.TypeA)
		if q.tick <= 0 {
			q.result.Flags.Rcode = wire.RcodeServerFailure
			return "", nil, true, nil
		}
		if !q.visited[hostKey] {
			q.visited[hostKey] = true
			q.tick--
			dnsRes, err := q.resolver.QueryTick(ctx, hosts[0], wire.TypeA, q.tick)
			if err == nil && dnsRes != nil {
				for _, rec := range dnsRes.Answer {
					if a, ok := rec.Data.(wire.RDataA); ok {
						nsAddrs = append(nsAddrs, address.Address{Scheme: "udp", Host: a.IP.String(), Port: 53})
					}
				}
			}
		}
	}

	if len(nsAddrs) == 0 {
		q.result.Flags.Rcode = wire.RcodeServerFailure
		return "", nil, true, nil
	}
	return domain, nsset.New(nsAddrs), false, nil
}

// queryRemoteOnce sends one query to the given (or resolver-selected)
// nameserver set and caches whatever comes back.
func (q *Query) queryRemoteOnce(ctx context.Context, domain string, nameservers *nsset.Set) (*wire.Message, error) {
	var err error
	if nameservers == nil {
		nameservers, err = q.resolver.GetNameServers(ctx, domain)
		if err != nil {
			return nil, err
		}
	}
	inter, err := q.requestRemote(ctx, nameservers, domain)
	if err != nil {
		return nil, err
	}
	zone := security.ParentZone(domain)
	inter.Authority = security.FilterBailiwick(inter.Authority, zone)
	inter.Additional = security.FilterBailiwick(inter.Additional, zone)
	q.resolver.CacheMessage(inter)
	return inter, nil
}

// requestRemote tries each nameserver in turn (spec's failover
// behavior), recording success/failure against the set's weighting so
// a consistently-failing upstream sorts to the back on the next query.
func (q *Query) requestRemote(ctx context.Context, nameservers *nsset.Set, domain string) (*wire.Message, error) {
	addrs, err := nameservers.Iter()
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, addr := range addrs {
		if err := nameservers.Wait(ctx, addr); err != nil {
			return nil, err
		}
		resp, err := q.resolver.Client().Query(ctx, domain, q.qtype, addr)
		if err != nil {
			nameservers.Fail(addr)
			metrics.UpstreamRequests.WithLabelValues(addr.String(), "error").Inc()
			lastErr = err
			continue
		}
		if resp.Flags.Rcode == wire.RcodeServerFailure {
			nameservers.Fail(addr)
			metrics.UpstreamRequests.WithLabelValues(addr.String(), "servfail").Inc()
			lastErr = fmt.Errorf("planner: %s: remote server failure", addr)
			continue
		}
		nameservers.Success(addr)
		metrics.UpstreamRequests.WithLabelValues(addr.String(), "success").Inc()
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("planner: no nameservers available for %s", domain)
	}
	return nil, lastErr
}
