package txid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsUniqueValues(t *testing.T) {
	a := New()
	seen := make(map[uint16]bool)
	for i := 0; i < 2000; i++ {
		id, err := a.Get()
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %d allocated while still in use", id)
		seen[id] = true
	}
	assert.Equal(t, 2000, a.InUse())
}

func TestPutReleasesValueForReuse(t *testing.T) {
	a := NewRange(0, 1)
	id1, err := a.Get()
	require.NoError(t, err)
	id2, err := a.Get()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	a.Put(id1)
	assert.Equal(t, 1, a.InUse())

	id3, err := a.Get()
	require.NoError(t, err)
	assert.Equal(t, id1, id3)
}

func TestPutUnknownValueIsNoop(t *testing.T) {
	a := New()
	a.Put(12345)
	assert.Equal(t, 0, a.InUse())
}

func TestSmallRangeExhausts(t *testing.T) {
	a := NewRange(0, 0)
	id, err := a.Get()
	require.NoError(t, err)
	assert.Equal(t, uint16(0), id)

	_, err = a.Get()
	assert.ErrorIs(t, err, ErrExhausted)
}
