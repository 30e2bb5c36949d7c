package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
recursive: false
zone_domains:
  - lan
proxies:
  - match: "*.lan"
    nameservers: ["tcp://192.168.1.1:53"]
  - nameservers: ["8.8.8.8", "8.8.4.4"]
listen:
  udp: "127.0.0.1:5300"
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dnsresolve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesYAMLOverDefaults(t *testing.T) {
	f, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	assert.False(t, f.Recursive)
	assert.Equal(t, []string{"lan"}, f.ZoneDomains)
	assert.Equal(t, "127.0.0.1:5300", f.Listen.UDP)
	// Untouched default survives the overlay.
	assert.Equal(t, ":53", f.Listen.TCP)
	assert.Positive(t, f.MaxTick)
}

func TestBuildProxyRulesParsesNameserversAndMatchers(t *testing.T) {
	f, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	rules, err := f.BuildProxyRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.NotNil(t, rules[0].Test)
	assert.True(t, rules[0].Test("printer.lan"))
	assert.False(t, rules[0].Test("example.com"))
	require.Len(t, rules[0].Nameservers, 1)

	assert.Nil(t, rules[1].Test)
	require.Len(t, rules[1].Nameservers, 2)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
