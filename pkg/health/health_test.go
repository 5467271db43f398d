package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} }

func TestRunAllUp(t *testing.T) {
	c := NewChecker()
	c.Register("a", up)
	c.Register("b", up)
	report := c.Run(context.Background())
	assert.Equal(t, StatusUp, report.Status)
	assert.Len(t, report.Components, 2)
	assert.NotEmpty(t, report.Components["a"].Latency)
}

func TestRunWorstStatusWins(t *testing.T) {
	c := NewChecker()
	c.Register("db", up)
	c.Register("cache", PingCheck(func(context.Context) error { return errors.New("refused") }, StatusDegraded))
	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "refused", report.Components["cache"].Message)

	c.Register("engine", PingCheck(func(context.Context) error { return errors.New("no index") }, StatusDown))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("cache", PingCheck(func(context.Context) error { return errors.New("refused") }, StatusDegraded))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)

	c.Register("db", PingCheck(func(context.Context) error { return errors.New("down") }, StatusDown))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
	assert.Contains(t, rec.Body.String(), "uptime")
}

func TestSlowCheckTimesOut(t *testing.T) {
	c := NewChecker(WithCheckTimeout(10 * time.Millisecond))
	c.Register("slow", func(ctx context.Context) ComponentHealth {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return ComponentHealth{Status: StatusUp}
	})
	c.Register("fast", up)

	report := c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "check timed out", report.Components["slow"].Message)
	assert.Equal(t, StatusUp, report.Components["fast"].Status)
}

func TestReportHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, Report{Status: StatusUp}.HTTPStatus())
	assert.Equal(t, http.StatusOK, Report{Status: StatusDegraded}.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, Report{Status: StatusDown}.HTTPStatus())
}

func TestDegradedDoesNotMaskDown(t *testing.T) {
	c := NewChecker()
	c.Register("db", PingCheck(func(context.Context) error { return errors.New("down") }, StatusDown))
	for _, name := range []string{"a", "b", "c"} {
		c.Register(name, PingCheck(func(context.Context) error { return errors.New("slow") }, StatusDegraded))
	}
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}
