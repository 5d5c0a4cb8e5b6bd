package database

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestPoolStatsCollector_Describe(t *testing.T) {
	// Describe does not touch the pool, so nil is fine here.
	c := NewPoolStatsCollector(nil, "user-service")

	ch := make(chan *prometheus.Desc, 32)
	c.Describe(ch)
	close(ch)

	var all strings.Builder
	n := 0
	for d := range ch {
		all.WriteString(d.String())
		n++
	}

	assert.Equal(t, 8, n)
	for _, name := range []string{
		"db_pool_acquired_connections",
		"db_pool_idle_connections",
		"db_pool_total_connections",
		"db_pool_max_connections",
		"db_pool_acquire_count_total",
		"db_pool_acquire_duration_seconds_total",
		"db_pool_canceled_acquire_count_total",
		"db_pool_empty_acquire_count_total",
	} {
		assert.Contains(t, all.String(), `"`+name+`"`)
	}
}

func TestPoolStatsCollector_ImplementsCollector(t *testing.T) {
	var _ prometheus.Collector = NewPoolStatsCollector(nil, "user-service")
}
