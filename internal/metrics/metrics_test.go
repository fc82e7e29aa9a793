package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCounter_ReusesSameSeriesForSameLabels(t *testing.T) {
	c1 := GetCounter("metrics_test_counter_reuse", map[string]string{"job": "a"})
	c1.Inc()
	c2 := GetCounter("metrics_test_counter_reuse", map[string]string{"job": "a"})
	c2.Inc(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `metrics_test_counter_reuse{job="a"} 3`)
}

func TestGetGauge_UpdatesValue(t *testing.T) {
	g := GetGauge("metrics_test_gauge", map[string]string{"kind": "x"})
	g.Update(5)
	g.Update(7)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), `metrics_test_gauge{kind="x"} 7`)
}
