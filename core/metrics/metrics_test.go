package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	c := NewCollector("", nil)
	c.RecordRequest(OutcomeForwarded)
	c.RecordRequest(OutcomeForwarded)
	c.RecordRequest(OutcomeNotFound)
	c.RecordUpstream(http.StatusOK, 10*time.Millisecond)
	c.CacheHits(3)
	c.CacheMisses(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues(OutcomeForwarded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues(OutcomeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.upstreamResponses.WithLabelValues("200")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordRequest(OutcomeError)
	c.RecordUpstream(http.StatusBadGateway, time.Second)
	c.CacheHits(1)
	c.CacheMisses(1)
}

func TestHandler(t *testing.T) {
	c := NewCollector("dbproxy", nil)
	c.RecordRequest(OutcomeForwarded)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `dbproxy_requests_total{outcome="forwarded"} 1`))
}
