package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_EmptySnapshot(t *testing.T) {
	c := NewMetricsCollector()

	m := c.Snapshot("stripe")

	assert.Equal(t, "stripe", m.Gateway)
	assert.Zero(t, m.Samples)
	assert.Zero(t, m.SuccessRate)
	assert.Zero(t, m.AvgLatency)
	assert.Zero(t, m.P95Latency)
}

func TestMetricsCollector_SuccessRate(t *testing.T) {
	c := NewMetricsCollector()

	for i := 0; i < 8; i++ {
		c.Record("stripe", true, 100*time.Millisecond)
	}
	for i := 0; i < 2; i++ {
		c.Record("stripe", false, 0)
	}

	m := c.Snapshot("stripe")
	assert.Equal(t, int64(8), m.SuccessCount)
	assert.Equal(t, int64(2), m.FailureCount)
	assert.Equal(t, 10, m.Samples)
	assert.InDelta(t, 0.8, m.SuccessRate, 1e-9)
}

func TestMetricsCollector_LatencyPercentiles(t *testing.T) {
	c := NewMetricsCollector()

	// 100 samples of 10ms..1000ms.
	for i := 1; i <= 100; i++ {
		c.Record("razorpay", true, time.Duration(i)*10*time.Millisecond)
	}

	m := c.Snapshot("razorpay")
	require.Equal(t, 100, m.Samples)
	assert.Equal(t, 505*time.Millisecond, m.AvgLatency)
	assert.Equal(t, 960*time.Millisecond, m.P95Latency)
}

func TestMetricsCollector_FailuresDoNotRecordLatency(t *testing.T) {
	c := NewMetricsCollector()

	c.Record("stripe", true, 100*time.Millisecond)
	c.Record("stripe", false, 30*time.Second)

	m := c.Snapshot("stripe")
	assert.Equal(t, 100*time.Millisecond, m.AvgLatency)
	assert.Equal(t, 100*time.Millisecond, m.P95Latency)
}

func TestMetricsCollector_WindowWrapsAround(t *testing.T) {
	c := NewMetricsCollector()

	// Fill the window with slow samples, then overwrite it entirely
	// with fast ones. Old samples must not survive.
	for i := 0; i < latencyWindowSize; i++ {
		c.Record("stripe", true, time.Second)
	}
	for i := 0; i < latencyWindowSize; i++ {
		c.Record("stripe", true, 10*time.Millisecond)
	}

	m := c.Snapshot("stripe")
	assert.Equal(t, 10*time.Millisecond, m.AvgLatency)
	assert.Equal(t, 10*time.Millisecond, m.P95Latency)
}

func TestMetricsCollector_Cost(t *testing.T) {
	c := NewMetricsCollector()

	c.SetCost("stripe", 0.029)
	c.Record("stripe", true, time.Millisecond)

	assert.InDelta(t, 0.029, c.Snapshot("stripe").CostPerTransaction, 1e-9)
}

func TestMetricsCollector_All(t *testing.T) {
	c := NewMetricsCollector()

	c.Record("stripe", true, time.Millisecond)
	c.Record("razorpay", false, 0)

	all := c.All()
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all["stripe"].SuccessCount)
	assert.Equal(t, int64(1), all["razorpay"].FailureCount)
}

func TestMetricsCollector_ConcurrentRecord(t *testing.T) {
	c := NewMetricsCollector()

	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			name := fmt.Sprintf("gw-%d", g%2)
			for i := 0; i < 500; i++ {
				c.Record(name, i%2 == 0, time.Millisecond)
			}
		}(g)
	}
	for g := 0; g < 4; g++ {
		<-done
	}

	all := c.All()
	var total int64
	for _, m := range all {
		total += m.SuccessCount + m.FailureCount
	}
	assert.Equal(t, int64(2000), total)
}
