// Package nsset holds an ordered, weighted set of upstream nameservers.
// Servers that have been failing recently sort to the back of the
// iteration order, and an outbound rate limiter throttles how hard any
// one upstream gets hit.
package nsset

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dnsscience/dnsresolve/internal/address"
)

// ErrNoNameServers is returned when the set is empty.
var ErrNoNameServers = errors.New("nsset: no nameservers configured")

// rescoreInterval matches the original's 60-second failure-window reset:
// a minute of accumulated failures decides the next minute's ordering.
const rescoreInterval = 60 * time.Second

// DefaultRateLimit bounds sustained queries-per-second sent to any one
// upstream; DefaultBurst allows a short burst above that before limiting
// kicks in.
const (
	DefaultRateLimit = 50.0
	DefaultBurst     = 20
)

type entry struct {
	addr     address.Address
	failures int
	limiter  *rate.Limiter
}

// Set is a mutable, weighted collection of upstream nameservers.
type Set struct {
	mu      sync.Mutex
	entries []*entry
	order   []*entry // entries sorted by last window's failure count
	lastTs  time.Time
}

// New builds a Set from a list of already-parsed addresses.
func New(addrs []address.Address) *Set {
	s := &Set{}
	for _, a := range addrs {
		s.entries = append(s.entries, &entry{
			addr:    a,
			limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultBurst),
		})
	}
	s.rescore(true)
	return s
}

// Len reports how many nameservers are configured.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// rescore re-sorts entries by the failure counts accumulated since the
// last rescore, then resets the counters, mirroring the Python
// original's minute-granularity WeightMixIn._update.
func (s *Set) rescore(force bool) {
	now := time.Now()
	if !force && now.Sub(s.lastTs) <= rescoreInterval {
		return
	}
	s.lastTs = now
	sorted := make([]*entry, len(s.entries))
	copy(sorted, s.entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].failures < sorted[j].failures })
	s.order = sorted
	for _, e := range s.entries {
		e.failures = 0
	}
}

// Iter returns a snapshot of nameservers in least-recently-failing
// order, best candidate first.
func (s *Set) Iter() ([]address.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil, ErrNoNameServers
	}
	s.rescore(false)
	out := make([]address.Address, len(s.order))
	for i, e := range s.order {
		out[i] = e.addr
	}
	return out, nil
}

// Success is called after a query to a completed without error. It only
// gives the set a chance to rescore; a's standing is unchanged, since the
// ordering depends on failure counts alone.
func (s *Set) Success(a address.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rescore(false)
}

// Fail records a failed query against a, demoting it in the next
// rescore.
func (s *Set) Fail(a address.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rescore(false)
	for _, e := range s.entries {
		if e.addr == a {
			e.failures++
			return
		}
	}
}

// Wait blocks until a is allowed to be queried again under its
// per-upstream rate limit, or ctx is done.
func (s *Set) Wait(ctx context.Context, a address.Address) error {
	s.mu.Lock()
	var lim *rate.Limiter
	for _, e := range s.entries {
		if e.addr == a {
			lim = e.limiter
			break
		}
	}
	s.mu.Unlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}
