// Package config loads the YAML configuration file cmd/dnsresolved
// starts from into the structs the rest of the module consumes.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dnsscience/dnsresolve/internal/address"
	"github.com/dnsscience/dnsresolve/internal/connpool"
	"github.com/dnsscience/dnsresolve/internal/resolve"
)

// ProxyRule is one forwarding rule: Match is a zone-style test ("*.lan",
// an exact name, or empty for a catch-all fallback) and Nameservers the
// upstreams to send matching queries to.
type ProxyRule struct {
	Match       string   `yaml:"match"`
	Nameservers []string `yaml:"nameservers"`
}

// File is the on-disk configuration shape.
type File struct {
	Listen struct {
		UDP string `yaml:"udp"`
		TCP string `yaml:"tcp"`
	} `yaml:"listen"`
	MetricsListen string `yaml:"metrics_listen"`

	Recursive   bool        `yaml:"recursive"`
	ZoneDomains []string    `yaml:"zone_domains"`
	Proxies     []ProxyRule `yaml:"proxies"`

	HostsFile     string `yaml:"hosts_file"`
	RootHintsFile string `yaml:"root_hints_file"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	MaxTick        int           `yaml:"max_tick"`

	Pool struct {
		MaxSize     int           `yaml:"max_size"`
		IdleTimeout time.Duration `yaml:"idle_timeout"`
	} `yaml:"pool"`
}

// Load reads and parses path, starting from Default's values so fields
// the YAML leaves unset keep them.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := Default()
	if err := yaml.Unmarshal(b, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Default returns a File seeded with the same defaults resolve.DefaultConfig
// uses, so an empty or partial YAML file still produces a working resolver.
func Default() *File {
	defaults := resolve.DefaultConfig()
	defaults.Pool.Close()

	f := &File{Recursive: true}
	f.Listen.UDP = ":53"
	f.Listen.TCP = ":53"
	f.MetricsListen = ":9153"
	f.RequestTimeout = defaults.RequestTimeout
	f.QueryTimeout = defaults.QueryTimeout
	f.MaxTick = defaults.MaxTick
	f.Pool.MaxSize = connpool.DefaultMaxSize
	f.Pool.IdleTimeout = connpool.DefaultIdleTimeout
	return f
}

// ResolverConfig builds a resolve.Config from the file's settings.
func (f *File) ResolverConfig() resolve.Config {
	return resolve.Config{
		Recursive:      f.Recursive,
		ZoneDomains:    f.ZoneDomains,
		QueryTimeout:   f.QueryTimeout,
		RequestTimeout: f.RequestTimeout,
		MaxTick:        f.MaxTick,
		Pool: connpool.New(connpool.Config{
			MaxSize:     f.Pool.MaxSize,
			IdleTimeout: f.Pool.IdleTimeout,
		}),
	}
}

// BuildProxyRules parses each configured rule's nameserver strings into
// addresses and its match pattern into a tester, ready for
// resolve.Resolver.SetProxies.
func (f *File) BuildProxyRules() ([]resolve.ProxyRule, error) {
	rules := make([]resolve.ProxyRule, 0, len(f.Proxies))
	for _, p := range f.Proxies {
		addrs := make([]address.Address, 0, len(p.Nameservers))
		for _, ns := range p.Nameservers {
			a, err := address.Parse(ns, "udp", false)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, a)
		}
		rule := resolve.ProxyRule{Nameservers: addrs}
		if p.Match != "" {
			rule.Test = resolve.BuildTester(p.Match)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
