package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	d := timer.Duration()
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.Less(t, d, time.Second)
}

func TestTimerObserveDuration(t *testing.T) {
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_timer_seconds",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(hist)

	var metric dto.Metric
	require.NoError(t, hist.Write(&metric))
	assert.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())
	assert.Greater(t, metric.GetHistogram().GetSampleSum(), 0.0)
}
