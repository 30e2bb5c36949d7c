// Package roothints parses a named.cache-style root hints file (the
// format BIND and this resolver's upstream both publish) into pinned
// (ttl=-1) NS and glue A/AAAA records to seed a recursive resolver's
// cache with.
package roothints

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/dnsscience/dnsresolve/internal/wire"
)

// Parse reads named.cache syntax from r. Each non-comment line is
// "name expiry qtype data"; expiry is ignored (hints are pinned, not
// TTL-timed). Only NS, A, and AAAA rows are recognized; anything else is
// skipped rather than erroring, since root hints files carry other
// record shapes (e.g. AAAA-less mirrors) across versions.
func Parse(r io.Reader) ([]wire.Record, error) {
	var records []wire.Record
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		name := wire.CanonicalName(fields[0])
		data := strings.TrimSuffix(fields[3], ".")

		rec := wire.Record{Name: name, TTL: -1}
		switch fields[2] {
		case "ns":
			rec.QType = wire.TypeNS
			rec.Data = wire.RDataNS{Name: wire.CanonicalName(data)}
		case "a":
			ip := net.ParseIP(data).To4()
			if ip == nil {
				continue
			}
			rec.QType = wire.TypeA
			rec.Data = wire.RDataA{IP: ip}
		case "aaaa":
			ip := net.ParseIP(data)
			if ip == nil {
				continue
			}
			rec.QType = wire.TypeAAAA
			rec.Data = wire.RDataAAAA{IP: ip}
		default:
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("roothints: no usable records parsed")
	}
	return records, nil
}
