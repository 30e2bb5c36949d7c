// Package security hardens the delegation walk against cache poisoning:
// bailiwick filtering drops authority/additional records a delegation has
// no authority to supply, and glue hardening further restricts address
// records to nameservers the same response actually named.
package security

import (
	"strings"

	"github.com/dnsscience/dnsresolve/internal/wire"
)

// InBailiwick reports whether name falls within zone's delegation, i.e.
// zone is a suffix of (or equal to) name.
func InBailiwick(name, zone string) bool {
	name, zone = wire.CanonicalName(name), wire.CanonicalName(zone)
	if zone == "" {
		return true
	}
	if name == zone {
		return true
	}
	return strings.HasSuffix(name, "."+zone)
}

// ParentZone returns name with its leftmost label stripped, an
// approximation of the zone a delegation one hop up is authoritative for.
// It's used to pick the zone argument for FilterBailiwick/HardenGlue when
// the exact zone cut isn't tracked separately from the queried name.
func ParentZone(name string) string {
	name = wire.CanonicalName(name)
	i := strings.IndexByte(name, '.')
	if i < 0 {
		return name
	}
	return name[i+1:]
}

// FilterBailiwick drops any record whose owner name isn't in-bailiwick of
// zone, the defense against an upstream attaching unrelated glue or NS
// records to smuggle poisoned data into the cache.
func FilterBailiwick(records []wire.Record, zone string) []wire.Record {
	out := records[:0:0]
	for _, r := range records {
		if InBailiwick(r.Name, zone) {
			out = append(out, r)
		}
	}
	return out
}

// HardenGlue keeps only the address records among glue whose owner name
// is both one of the delegation's nameserver names and in-bailiwick of
// zone, rejecting glue for hosts the delegation has no business vouching
// for.
func HardenGlue(glue []wire.Record, zone string, nsNames []string) []wire.Record {
	want := make(map[string]bool, len(nsNames))
	for _, n := range nsNames {
		want[wire.CanonicalName(n)] = true
	}
	out := glue[:0:0]
	for _, r := range glue {
		name := wire.CanonicalName(r.Name)
		if want[name] && InBailiwick(name, zone) {
			out = append(out, r)
		}
	}
	return out
}
