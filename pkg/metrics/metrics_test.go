package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/nutrisync/pkg/logger"
)

func TestIncrementHTTPResponseCounterConcurrent(t *testing.T) {
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})
	m := NewMetrics(true, false, log)

	codes := []int{200, 200, 404, 500, 200, 404}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, code := range codes {
				m.IncrementHTTPResponseCounter(code)
			}
		}()
	}
	wg.Wait()

	require.Len(t, m.HTTPRequestsCounters, 3)
	assert.Equal(t, float64(60), testutil.ToFloat64(m.HTTPRequestsCounters[200]))
	assert.Equal(t, float64(40), testutil.ToFloat64(m.HTTPRequestsCounters[404]))
	assert.Equal(t, float64(20), testutil.ToFloat64(m.HTTPRequestsCounters[500]))
}

func TestSyncObserversNilSafeWhenDisabled(t *testing.T) {
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})
	m := NewMetrics(true, false, log)

	assert.NotPanics(t, func() {
		m.ObservePull("daily_logs", 3, nil)
		m.ObservePush("memories", nil)
		m.ObserveFullSync(0)
	})
}
