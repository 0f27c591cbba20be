package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterCollectors(reg)

	before := testutil.ToFloat64(Submissions.WithLabelValues("created"))
	Submissions.WithLabelValues("created").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Submissions.WithLabelValues("created")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["docsum_submissions_total"])

	// double registration is a programming error
	assert.Panics(t, func() { RegisterCollectors(reg) })
}
