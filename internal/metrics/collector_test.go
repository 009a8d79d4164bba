package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := New()
	c.IncOutcome("copied", 10)
	c.IncOutcome("copied", 5)
	c.IncOutcome("skipped_existing", 0)
	c.AddBytes(15)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.keysTotal.WithLabelValues("copied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.keysTotal.WithLabelValues("skipped_existing")))
	assert.Equal(t, 15.0, testutil.ToFloat64(c.bytesTotal))

	status := c.GetProgressTracker().GetStatus()
	assert.Equal(t, int64(2), status.CopiedObjects)
	assert.Equal(t, int64(1), status.SkippedObjects)
}

func TestCollectorsAreIndependent(t *testing.T) {
	// private registries let several collectors coexist in one process
	a, b := New(), New()
	a.IncInflight()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.inflightWorkers))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.inflightWorkers))
	a.DecInflight()
	assert.Equal(t, 0.0, testutil.ToFloat64(a.inflightWorkers))
}

func TestHandler(t *testing.T) {
	c := New()
	c.IncOutcome("failed", 0)
	c.SetQueueDepth(7)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `replicate_keys_total{outcome="failed"} 1`))
	assert.True(t, strings.Contains(body, "replicate_queue_depth 7"))
}
