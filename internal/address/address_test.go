package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBareIPv4DefaultsScheme(t *testing.T) {
	a, err := Parse("8.8.8.8", "udp", false)
	require.NoError(t, err)
	assert.Equal(t, "8.8.8.8", a.Host)
	assert.Equal(t, 53, a.Port)
	assert.Equal(t, "udp", a.Scheme)
	assert.False(t, a.IsIPv6)
}

func TestParseSchemeWithExplicitPort(t *testing.T) {
	a, err := Parse("tcps://9.9.9.9:853", "udp", false)
	require.NoError(t, err)
	assert.Equal(t, "tcps", a.Scheme)
	assert.Equal(t, 853, a.Port)
}

func TestParseBracketedIPv6(t *testing.T) {
	a, err := Parse("udp://[2001:4860:4860::8888]:53", "udp", false)
	require.NoError(t, err)
	assert.Equal(t, "2001:4860:4860::8888", a.Host)
	assert.True(t, a.IsIPv6)
}

func TestParseRejectsDomainUnlessAllowed(t *testing.T) {
	_, err := Parse("resolver.example.com", "udp", false)
	assert.Error(t, err)

	a, err := Parse("resolver.example.com", "udp", true)
	require.NoError(t, err)
	assert.Equal(t, "resolver.example.com", a.Host)
}

func TestParseDoHURL(t *testing.T) {
	a, err := Parse("https://dns.google/dns-query", "https", true)
	require.NoError(t, err)
	assert.Equal(t, "dns.google", a.Host)
	assert.Equal(t, "/dns-query", a.Path)
	assert.Equal(t, 443, a.Port)
}

func TestToPTRIPv4(t *testing.T) {
	a, err := Parse("1.2.3.4", "udp", false)
	require.NoError(t, err)
	ptr, err := a.ToPTR()
	require.NoError(t, err)
	assert.Equal(t, "4.3.2.1.in-addr.arpa", ptr)
}

func TestStringOmitsDefaultPort(t *testing.T) {
	a, err := Parse("udp://8.8.8.8:53", "udp", false)
	require.NoError(t, err)
	assert.Equal(t, "udp://8.8.8.8", a.String())
}
