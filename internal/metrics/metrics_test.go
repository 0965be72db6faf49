package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheLookup("semrush.domainRank", true)
	m.CacheLookup("semrush.domainRank", true)
	m.CacheLookup("semrush.domainRank", false)
	m.UpstreamCall("SEMRush", "semrush.domainRank", 120*time.Millisecond, nil)
	m.UpstreamCall("SEMRush", "semrush.domainRank", time.Second, errors.New("boom"))
	m.Credits("SEMRush", "api_units", 10)
	m.Credits("SEMRush", "api_units", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("semrush.domainRank", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("semrush.domainRank", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamCalls.WithLabelValues("SEMRush", "semrush.domainRank", "error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.credits.WithLabelValues("SEMRush", "api_units")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup("x.y", true)
		m.UpstreamCall("s", "x.y", time.Millisecond, nil)
		m.Credits("s", "c", 1)
	})
}
