// Package hosts parses an /etc/hosts-style file into pinned (ttl=-1)
// address records, the way a resolver seeds its cache with local
// overrides before ever making a remote query.
package hosts

import (
	"bufio"
	"io"
	"net"
	"strings"

	"github.com/dnsscience/dnsresolve/internal/wire"
)

// Parse reads hosts-file syntax from r: each non-comment, non-blank line
// is "address name [name...]", producing one pinned A or AAAA record per
// name. Lines whose first field isn't an IP literal are skipped.
func Parse(r io.Reader) ([]wire.Record, error) {
	var records []wire.Record
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip := net.ParseIP(fields[0])
		if ip == nil {
			continue
		}

		var rec wire.Record
		if v4 := ip.To4(); v4 != nil {
			rec = wire.Record{QType: wire.TypeA, TTL: -1, Data: wire.RDataA{IP: v4}}
		} else {
			rec = wire.Record{QType: wire.TypeAAAA, TTL: -1, Data: wire.RDataAAAA{IP: ip}}
		}

		for _, name := range fields[1:] {
			rec.Name = wire.CanonicalName(name)
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
