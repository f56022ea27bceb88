/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// RequireSamplesCountInHistogram asserts that the histogram has observed exactly wantSamplesCount values.
func RequireSamplesCountInHistogram(t require.TestingT, hist prometheus.Histogram, wantSamplesCount int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	metric := gatherSingle(t, hist)
	require.Equal(t, uint64(wantSamplesCount), metric.GetHistogram().GetSampleCount())
}

// RequireSamplesCountInCounter asserts that the counter value equals wantCount.
func RequireSamplesCountInCounter(t require.TestingT, counter prometheus.Counter, wantCount int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	metric := gatherSingle(t, counter)
	require.Equal(t, float64(wantCount), metric.GetCounter().GetValue())
}

// gatherSingle registers the collector in a private registry and returns its only sample.
func gatherSingle(t require.TestingT, c prometheus.Collector) *dto.Metric {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	if len(families) != 1 || len(families[0].GetMetric()) != 1 {
		t.FailNow()
		return nil
	}
	return families[0].GetMetric()[0]
}
