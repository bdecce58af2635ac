package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRecordSyncOutcome_UpdatesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	RecordSyncOutcome("manual", "success", 3, 1, 10)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() == namespace+"_reconciler_records_managed" {
			found = true
			require.Len(t, mf.Metric, 1)
			require.Equal(t, float64(10), mf.Metric[0].GetGauge().GetValue())
		}
	}
	require.True(t, found)
}
