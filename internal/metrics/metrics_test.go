package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dnsscience/dnsresolve/internal/cache"
	"github.com/dnsscience/dnsresolve/internal/wire"
)

func TestObserveQueryIncrementsCounterByRcode(t *testing.T) {
	before := testutil.ToFloat64(QueriesTotal.WithLabelValues("A", "nxdomain"))
	ObserveQuery("A", wire.RcodeNameError, time.Now())
	after := testutil.ToFloat64(QueriesTotal.WithLabelValues("A", "nxdomain"))
	assert.Equal(t, before+1, after)
}

func TestRegisterCacheIsIdempotent(t *testing.T) {
	c1 := cache.New()
	c2 := cache.New()
	assert.NotPanics(t, func() {
		RegisterCache(c1)
		RegisterCache(c2)
	})
}
