package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector(Config{Namespace: "test"})

	c.TransitionApplied("t1", "transition")
	c.TransitionApplied("t1", "transition")
	c.TransitionApplied("t1", "rejection")
	c.ApprovalResolved("t1", "approved")
	c.OperationRejected("fire", "INVALID_TRANSITION")
	c.ActionDispatched("send_notification", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transitions.WithLabelValues("t1", "transition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("t1", "rejection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.approvals.WithLabelValues("t1", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejections.WithLabelValues("fire", "INVALID_TRANSITION")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.actions.WithLabelValues("send_notification", "failed")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(Config{})
	assert.Equal(t, "/metrics", c.Path())

	c.ObserveOperation("fire", 15*time.Millisecond)
	c.OperationRejected("approve", "STALE_APPROVAL")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `workflow_operation_duration_seconds_count{operation="fire"} 1`), body)
	assert.True(t, strings.Contains(body, `workflow_operations_rejected_total{code="STALE_APPROVAL",operation="approve"} 1`), body)
}
