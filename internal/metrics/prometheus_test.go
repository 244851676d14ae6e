package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCustomMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	InitCustomMetrics(reg)

	before := testutil.ToFloat64(FlowRejectionsTotal.WithLabelValues("token", "invalid_grant"))
	FlowRejectionsTotal.WithLabelValues("token", "invalid_grant").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(FlowRejectionsTotal.WithLabelValues("token", "invalid_grant")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "idp_flow_rejections_total")

	// A second registration only logs.
	assert.NotPanics(t, func() { InitCustomMetrics(reg) })
	assert.NotPanics(t, func() { InitCustomMetrics(nil) })
}
