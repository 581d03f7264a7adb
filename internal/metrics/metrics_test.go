package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Counters(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter(CyclesTotal, nil, "cycles run")
	r.IncrementCounter(CyclesTotal, nil, "cycles run")
	r.AddToCounter(MessagesForwardedTotal, 3, map[string]string{"direction": "inbound"}, "")

	assert.Equal(t, 2.0, r.CounterValue(CyclesTotal, nil))
	assert.Equal(t, 3.0, r.CounterValue(MessagesForwardedTotal, map[string]string{"direction": "inbound"}))
	assert.Equal(t, 0.0, r.CounterValue(MessagesForwardedTotal, nil))
	assert.Equal(t, 0.0, r.CounterValue(PollFailuresTotal, nil))
}

func TestRegistry_LabelOrderIsStable(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter(DispatchFailuresTotal, map[string]string{"a": "1", "b": "2"}, "")
	r.IncrementCounter(DispatchFailuresTotal, map[string]string{"b": "2", "a": "1"}, "")

	assert.Equal(t, 2.0, r.CounterValue(DispatchFailuresTotal, map[string]string{"a": "1", "b": "2"}))
}

func TestRegistry_Timers(t *testing.T) {
	r := NewRegistry()

	for i := 1; i <= 20; i++ {
		r.RecordTimer(CycleDuration, time.Duration(i)*time.Millisecond, nil, "")
	}

	all := r.GetAllMetrics()
	timers, ok := all["timers"].(map[string]TimerMetric)
	require.True(t, ok)

	timer := timers[CycleDuration]
	assert.Equal(t, int64(20), timer.Count)
	assert.Equal(t, 1.0, timer.Min)
	assert.Equal(t, 20.0, timer.Max)
	assert.InDelta(t, 10.5, timer.Average, 0.001)
	assert.Equal(t, 20.0, timer.P95)
}

func TestRegistry_Gauges(t *testing.T) {
	r := NewRegistry()

	r.SetGauge(ActiveWorkers, 3, nil, "")
	r.SetGauge(ActiveWorkers, 1, nil, "")

	assert.Equal(t, 1.0, r.GaugeValue(ActiveWorkers, nil))
}

func TestRegistry_SnapshotIsDetached(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter(AlertsSentTotal, nil, "")

	snapshot := r.GetAllMetrics()["counters"].(map[string]Metric)
	r.IncrementCounter(AlertsSentTotal, nil, "")

	assert.Equal(t, 1.0, snapshot[AlertsSentTotal].Value)
	assert.Equal(t, 2.0, r.CounterValue(AlertsSentTotal, nil))
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncrementCounter(CyclesTotal, nil, "")
			r.RecordTimer(CycleDuration, time.Millisecond, nil, "")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, r.CounterValue(CyclesTotal, nil))
}
