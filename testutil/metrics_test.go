/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type MockT struct {
	Failed bool
	Format string
	Args   []interface{}
}

func (t *MockT) FailNow() {
	t.Failed = true
}

func (t *MockT) Errorf(format string, args ...interface{}) {
	t.Format, t.Args = format, args
}

func TestAssertSamplesCountInCounter(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total"})
	counter.Add(3)

	require.True(t, AssertSamplesCountInCounter(&MockT{}, counter, 3))
	require.False(t, AssertSamplesCountInCounter(&MockT{}, counter, 4))

	mockT := &MockT{}
	RequireSamplesCountInCounter(mockT, counter, 4)
	require.True(t, mockT.Failed)
}

func TestAssertGaugeValue(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge"})
	gauge.Set(7)

	require.True(t, AssertGaugeValue(&MockT{}, gauge, 7))
	require.False(t, AssertGaugeValue(&MockT{}, gauge, 8))

	mockT := &MockT{}
	RequireGaugeValue(mockT, gauge, 8)
	require.True(t, mockT.Failed)
}
