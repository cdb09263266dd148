package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBlockedRequestsTotalIncrementsByProductLabel(t *testing.T) {
	BlockedRequestsTotal.Reset()
	BlockedRequestsTotal.WithLabelValues("npm").Inc()
	BlockedRequestsTotal.WithLabelValues("npm").Inc()
	BlockedRequestsTotal.WithLabelValues("pypi").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(BlockedRequestsTotal.WithLabelValues("npm")))
	assert.Equal(t, float64(1), testutil.ToFloat64(BlockedRequestsTotal.WithLabelValues("pypi")))
}

func TestMalwareListRefreshTotalTracksOutcomePerList(t *testing.T) {
	MalwareListRefreshTotal.Reset()
	MalwareListRefreshTotal.WithLabelValues("npm", "success").Inc()
	MalwareListRefreshTotal.WithLabelValues("npm", "error").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(MalwareListRefreshTotal.WithLabelValues("npm", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(MalwareListRefreshTotal.WithLabelValues("npm", "error")))
}

func TestProxiedRequestsTotalIncrements(t *testing.T) {
	before := testutil.ToFloat64(ProxiedRequestsTotal)
	ProxiedRequestsTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ProxiedRequestsTotal))
}
