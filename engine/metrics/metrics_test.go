package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordEvent("vault_created")
	c.RecordSave()
	c.RecordFeedPublish("profile", errors.New("offline"))
	c.RecordFeedReceive("profile")
	c.RecordInstall("ready")
	c.RecordChainCall("eth_getBalance", nil)
	c.SetActiveSyncs(2)
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("test")
	c.RecordEvent("user_created")
	c.RecordEvent("user_created")
	c.RecordFeedPublish("profile", nil)
	c.RecordFeedPublish("profile", errors.New("offline"))
	c.RecordInstall("download_error")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues("user_created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.feedPublish.WithLabelValues("profile", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.feedPublish.WithLabelValues("profile", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.installs.WithLabelValues("download_error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("test")
	c.RecordSave()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_vault_saves_total 1")
}
