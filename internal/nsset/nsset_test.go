package nsset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsscience/dnsresolve/internal/address"
)

func addr(t *testing.T, s string) address.Address {
	t.Helper()
	a, err := address.Parse(s, "udp", false)
	require.NoError(t, err)
	return a
}

func TestSetIterReturnsAllConfiguredServers(t *testing.T) {
	s := New([]address.Address{addr(t, "1.1.1.1"), addr(t, "8.8.8.8")})
	got, err := s.Iter()
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestEmptySetReturnsNoNameServers(t *testing.T) {
	s := New(nil)
	_, err := s.Iter()
	assert.ErrorIs(t, err, ErrNoNameServers)
}

func TestFailDemotesServerAfterRescore(t *testing.T) {
	a1, a2 := addr(t, "1.1.1.1"), addr(t, "8.8.8.8")
	s := New([]address.Address{a1, a2})

	s.Fail(a1)
	s.Fail(a1)
	s.lastTs = time.Now().Add(-2 * rescoreInterval)

	order, err := s.Iter()
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, a2, order[0], "server with fewer failures should sort first")
}

func TestWaitRespectsRateLimit(t *testing.T) {
	a1 := addr(t, "1.1.1.1")
	s := New([]address.Address{a1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx, a1)
	assert.NoError(t, err)
}

func TestWaitOnUnknownServerIsNoop(t *testing.T) {
	s := New([]address.Address{addr(t, "1.1.1.1")})
	err := s.Wait(context.Background(), addr(t, "9.9.9.9"))
	assert.NoError(t, err)
}
