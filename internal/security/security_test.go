package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dnsscience/dnsresolve/internal/wire"
)

func TestInBailiwick(t *testing.T) {
	assert.True(t, InBailiwick("ns1.example.com", "example.com"))
	assert.True(t, InBailiwick("example.com", "example.com"))
	assert.False(t, InBailiwick("ns1.attacker.com", "example.com"))
	assert.True(t, InBailiwick("anything.at.all", ""))
}

func TestParentZoneStripsLeftmostLabel(t *testing.T) {
	assert.Equal(t, "example.com", ParentZone("www.example.com"))
	assert.Equal(t, "com", ParentZone("example.com"))
	assert.Equal(t, "com", ParentZone("com"))
}

func TestFilterBailiwickDropsOutOfZoneRecords(t *testing.T) {
	records := []wire.Record{
		{Name: "ns1.example.com", QType: wire.TypeA},
		{Name: "ns1.attacker.com", QType: wire.TypeA},
	}
	filtered := FilterBailiwick(records, "example.com")
	require := assert.New(t)
	require.Len(filtered, 1)
	require.Equal("ns1.example.com", filtered[0].Name)
}

func TestHardenGlueRejectsUnrelatedOrUnnamedHosts(t *testing.T) {
	glue := []wire.Record{
		{Name: "ns1.example.com", QType: wire.TypeA},
		{Name: "ns1.attacker.com", QType: wire.TypeA},
		{Name: "unrelated.example.com", QType: wire.TypeA},
	}
	hardened := HardenGlue(glue, "example.com", []string{"ns1.example.com"})
	assert.Len(t, hardened, 1)
	assert.Equal(t, "ns1.example.com", hardened[0].Name)
}
