package utils

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	first := rl.Take(UserKey(7))
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)
	assert.Equal(t, now.Add(time.Minute), first.ResetAt)

	now = now.Add(10 * time.Second)
	assert.True(t, rl.Take(UserKey(7)).Allowed)

	denied := rl.Take(UserKey(7))
	assert.False(t, denied.Allowed)
	assert.Equal(t, 0, denied.Remaining)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC), denied.ResetAt)

	// Другой пользователь и анонимный IP учитываются отдельно
	assert.True(t, rl.Take(UserKey(8)).Allowed)
	assert.True(t, rl.Take(IPKey("10.0.0.1")).Allowed)

	// Первый запрос выходит из окна
	now = now.Add(51 * time.Second)
	assert.True(t, rl.Take(UserKey(7)).Allowed)

	rl.Reset(UserKey(7))
	assert.Equal(t, 1, rl.Take(UserKey(7)).Remaining)
}

func TestRateLimiterPrunesIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Take(UserKey(1))
	rl.Take(UserKey(2))
	assert.Equal(t, 2, rl.Clients())

	now = now.Add(2 * time.Minute)
	rl.Take(UserKey(3))
	assert.Equal(t, 1, rl.Clients())
}

func TestLedgerMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewLedgerMetrics(registry)

	m.RecordEvent("payment")
	m.RecordEvent("payment")
	m.RecordWaiverRejected(7)
	m.RecordLateFeeRejected()

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if metric.GetCounter() != nil {
				values[family.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, values["ledger_payment_events_recorded_total"])
	assert.Equal(t, 1.0, values["ledger_waivers_rejected_total"])
	assert.Equal(t, 1.0, values["ledger_late_fees_rejected_total"])

	var nilMetrics *LedgerMetrics
	assert.NotPanics(t, func() { nilMetrics.RecordEvent("payment") })
}
