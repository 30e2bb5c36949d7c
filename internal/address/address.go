// Package address parses and renders the scheme://host[:port] form used
// throughout this resolver to name upstreams, proxies, and listeners:
// "udp://8.8.8.8", "tcp://9.9.9.9:53", "tcps://1.1.1.1:853" (DNS over
// TLS-wrapped TCP), "https://dns.google/dns-query".
package address

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidHost is returned when the host portion is neither a valid
// IPv4/IPv6 literal nor, when domains are allowed, a syntactically
// plausible name.
var ErrInvalidHost = errors.New("address: invalid host")

// defaultPorts gives the well-known port for each scheme this resolver
// speaks, mirroring the original's to_str()/default_port handling.
var defaultPorts = map[string]int{
	"udp":   53,
	"tcp":   53,
	"tcps":  853,
	"https": 443,
}

// Address is a parsed upstream or listener endpoint.
type Address struct {
	Scheme string // "udp", "tcp", "tcps", "https"
	Host   string // IP literal or domain, no brackets
	Port   int
	Path   string // DoH path, e.g. "/dns-query"; empty otherwise
	IsIPv6 bool
}

// Parse accepts "scheme://host[:port][/path]" or a bare
// "host[:port]"/"host" defaulting to scheme. allowDomain permits a
// hostname that isn't an IP literal (needed before a resolver exists to
// look it up).
func Parse(value string, defaultScheme string, allowDomain bool) (Address, error) {
	scheme := defaultScheme
	host := value
	path := ""

	if strings.Contains(value, "://") {
		u, err := url.Parse(value)
		if err != nil {
			return Address{}, fmt.Errorf("address: %w", err)
		}
		scheme = u.Scheme
		host = u.Hostname()
		path = u.Path
		if p := u.Port(); p != "" {
			host = net.JoinHostPort(host, p)
		} else {
			host = u.Hostname()
		}
		value = host
	}

	hostPart, portPart, isBracketed := splitHostPort(value)
	port := 0
	if portPart != "" {
		p, err := strconv.Atoi(portPart)
		if err != nil {
			return Address{}, fmt.Errorf("address: invalid port %q", portPart)
		}
		port = p
	}
	if port == 0 {
		port = defaultPorts[scheme]
	}

	isIPv6 := false
	if ip := net.ParseIP(hostPart); ip != nil {
		isIPv6 = ip.To4() == nil
	} else if strings.Contains(hostPart, ":") && !isBracketed {
		return Address{}, ErrInvalidHost
	} else if !allowDomain {
		return Address{}, ErrInvalidHost
	}

	return Address{Scheme: scheme, Host: hostPart, Port: port, Path: path, IsIPv6: isIPv6}, nil
}

// splitHostPort separates "host:port", "[ipv6]:port", or a bare host,
// reporting whether the host portion arrived bracketed.
func splitHostPort(value string) (host, port string, bracketed bool) {
	if strings.HasPrefix(value, "[") {
		if i := strings.Index(value, "]"); i >= 0 {
			host = value[1:i]
			rest := value[i+1:]
			port = strings.TrimPrefix(rest, ":")
			return host, port, true
		}
	}
	if strings.Count(value, ":") == 1 {
		h, p, ok := strings.Cut(value, ":")
		if ok {
			return h, p, false
		}
	}
	return value, "", false
}

// String renders the canonical form, omitting the port when it matches
// the scheme's default.
func (a Address) String() string {
	host := a.Host
	if a.IsIPv6 {
		host = "[" + host + "]"
	}
	if defaultPorts[a.Scheme] == a.Port {
		return fmt.Sprintf("%s://%s%s", a.Scheme, host, a.Path)
	}
	return fmt.Sprintf("%s://%s:%d%s", a.Scheme, host, a.Port, a.Path)
}

// ToPTR renders the in-addr.arpa/ip6.arpa reverse-lookup name for an
// address whose Host is an IP literal.
func (a Address) ToPTR() (string, error) {
	ip := net.ParseIP(a.Host)
	if ip == nil {
		return "", ErrInvalidHost
	}
	if v4 := ip.To4(); v4 != nil {
		labels := strings.Split(v4.String(), ".")
		for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
			labels[i], labels[j] = labels[j], labels[i]
		}
		return strings.Join(labels, ".") + ".in-addr.arpa", nil
	}
	// IPv6: reversed nibble form under ip6.arpa.
	v6 := ip.To16()
	nibbles := make([]string, 0, 32)
	for i := len(v6) - 1; i >= 0; i-- {
		nibbles = append(nibbles, fmt.Sprintf("%x", v6[i]&0x0F), fmt.Sprintf("%x", v6[i]>>4))
	}
	return strings.Join(nibbles, ".") + ".ip6.arpa", nil
}
