package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersWithoutPanic(t *testing.T) {
	m := New()
	require.NotNil(t, m)

	m.SessionsOpened.Inc()
	m.OpenSessions.Set(2)
	m.RecordClose(true)
	m.RecordClose(false)
	m.RecordPrune(3, 1)
	m.RecordError("tracker", "snapshot")
}

func TestHandler_ServesMetrics(t *testing.T) {
	m := New()
	m.SessionsOpened.Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "attendance_sessions_opened_total")
}
