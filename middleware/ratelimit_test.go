/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/log/logtest"
	"github.com/acronis/go-ratekit/testutil"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, handler http.Handler, logger log.FieldLogger, reqModifiers ...func(r *http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if logger != nil {
		req = req.WithContext(NewContextWithLogger(req.Context(), logger))
	}
	for _, modify := range reqModifiers {
		modify(req)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func requireTooManyRequestsBody(t *testing.T, resp *httptest.ResponseRecorder, wantDomain string) {
	t.Helper()
	require.Equal(t, ContentTypeAppJSON, resp.Header().Get("Content-Type"))
	var respData ErrorResponseData
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &respData))
	require.Equal(t, wantDomain, respData.Err.Domain)
	require.Equal(t, RateLimitErrCode, respData.Err.Code)
}

func TestRateLimitAllowsAndRejects(t *testing.T) {
	const errDomain = "MyService"

	clock := newTestClock()
	handler := MustRateLimitWithOpts(Rate{Count: 2, Duration: time.Minute}, errDomain, RateLimitOpts{
		NowProvider:   clock.Now,
		GetRetryAfter: GetRetryAfterEstimatedTime,
	})(okHandler())

	resp := doRequest(t, handler, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "2", resp.Header().Get(RateLimitHeaderLimit))
	require.Equal(t, "1", resp.Header().Get(RateLimitHeaderRemaining))
	require.Equal(t, "60", resp.Header().Get(RateLimitHeaderReset))

	resp = doRequest(t, handler, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "0", resp.Header().Get(RateLimitHeaderRemaining))

	resp = doRequest(t, handler, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Equal(t, "0", resp.Header().Get(RateLimitHeaderRemaining))
	require.Equal(t, "60", resp.Header().Get("Retry-After"))
	requireTooManyRequestsBody(t, resp, errDomain)

	// A new window admits requests again.
	clock.Advance(time.Minute)
	resp = doRequest(t, handler, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "1", resp.Header().Get(RateLimitHeaderRemaining))
}

func TestRateLimitRejectedRequestsKeepCounting(t *testing.T) {
	clock := newTestClock()
	handler := MustRateLimitWithOpts(Rate{Count: 1, Duration: time.Minute}, "MyService", RateLimitOpts{
		NowProvider: clock.Now,
	})(okHandler())

	resp := doRequest(t, handler, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		resp = doRequest(t, handler, nil)
		require.Equal(t, http.StatusServiceUnavailable, resp.Code)
		require.Equal(t, "0", resp.Header().Get(RateLimitHeaderRemaining))
	}
}

func TestRateLimitRetryAfterHeader(t *testing.T) {
	clock := newTestClock()
	handler := MustRateLimitWithOpts(Rate{Count: 1, Duration: time.Minute}, "MyService", RateLimitOpts{
		NowProvider:   clock.Now,
		GetRetryAfter: GetRetryAfterEstimatedTime,
	})(okHandler())

	resp := doRequest(t, handler, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	clock.Advance(30 * time.Second)
	resp = doRequest(t, handler, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Equal(t, "30", resp.Header().Get("Retry-After"))
	require.Equal(t, "30", resp.Header().Get(RateLimitHeaderReset))
}

func TestRateLimitKeyIndependence(t *testing.T) {
	clock := newTestClock()
	handler := MustRateLimitWithOpts(Rate{Count: 1, Duration: time.Minute}, "MyService", RateLimitOpts{
		NowProvider: clock.Now,
		GetKey:      RateLimitKeyByHeader("X-Client-ID", false),
	})(okHandler())

	withClientID := func(clientID string) func(r *http.Request) {
		return func(r *http.Request) {
			r.Header.Set("X-Client-ID", clientID)
		}
	}

	resp := doRequest(t, handler, nil, withClientID("alice"))
	require.Equal(t, http.StatusOK, resp.Code)
	resp = doRequest(t, handler, nil, withClientID("alice"))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)

	// An exhausted key must not affect a fresh one.
	resp = doRequest(t, handler, nil, withClientID("bob"))
	require.Equal(t, http.StatusOK, resp.Code)

	// Requests without the header bypass the limiting entirely.
	for i := 0; i < 5; i++ {
		resp = doRequest(t, handler, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Empty(t, resp.Header().Get(RateLimitHeaderLimit))
	}
}

func TestRateLimitDryRun(t *testing.T) {
	clock := newTestClock()
	metrics := NewPrometheusMetrics()
	handler := MustRateLimitWithOpts(Rate{Count: 1, Duration: time.Minute}, "MyService", RateLimitOpts{
		NowProvider:      clock.Now,
		DryRun:           true,
		MetricsCollector: metrics,
	})(okHandler())

	logRecorder := logtest.NewRecorder()

	resp := doRequest(t, handler, logRecorder)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doRequest(t, handler, logRecorder)
	require.Equal(t, http.StatusOK, resp.Code)

	entry, found := logRecorder.FindEntry("too many requests, serving will be continued because of dry run mode")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, entry.Level)
	_, found = entry.FindField(RateLimitLogFieldKey)
	require.True(t, found)

	testutil.RequireSamplesCountInCounter(t,
		metrics.RejectsTotal.With(prometheus.Labels{metricsLabelDryRun: metricsValYes}), 1)
}

func TestRateLimitOnReject(t *testing.T) {
	clock := newTestClock()
	handler := MustRateLimitWithOpts(Rate{Count: 1, Duration: time.Minute}, "MyService", RateLimitOpts{
		NowProvider: clock.Now,
		OnReject: func(
			rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
		) {
			rw.WriteHeader(http.StatusTeapot)
		},
	})(okHandler())

	resp := doRequest(t, handler, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	resp = doRequest(t, handler, nil)
	require.Equal(t, http.StatusTeapot, resp.Code)
}

func TestRateLimitOnError(t *testing.T) {
	handler := MustRateLimitWithOpts(Rate{Count: 1, Duration: time.Minute}, "MyService", RateLimitOpts{
		GetKey: RateLimitKeyByRemoteAddr(),
	})(okHandler())

	logRecorder := logtest.NewRecorder()

	// Remote address without a port makes the key extraction fail.
	resp := doRequest(t, handler, logRecorder, func(r *http.Request) {
		r.RemoteAddr = "malformed"
	})
	require.Equal(t, http.StatusInternalServerError, resp.Code)

	var respData ErrorResponseData
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &respData))
	require.Equal(t, ErrCodeInternal, respData.Err.Code)

	_, found := logRecorder.FindEntryByFilter(func(entry logtest.RecordedEntry) bool {
		return entry.Level == log.LevelError
	})
	require.True(t, found)
}

func TestRateLimitUsageErrors(t *testing.T) {
	_, err := RateLimit(Rate{Count: 0, Duration: time.Minute}, "MyService")
	require.ErrorContains(t, err, "rate limit count must be positive")

	_, err = RateLimit(Rate{Count: 1}, "MyService")
	require.ErrorContains(t, err, "rate limit duration must be positive")

	require.Panics(t, func() {
		MustRateLimit(Rate{Count: -1, Duration: time.Minute}, "MyService")
	})
}

func TestRateLimitResponseStatusCode(t *testing.T) {
	clock := newTestClock()
	handler := MustRateLimitWithOpts(Rate{Count: 1, Duration: time.Minute}, "MyService", RateLimitOpts{
		NowProvider:        clock.Now,
		ResponseStatusCode: http.StatusTooManyRequests,
	})(okHandler())

	resp := doRequest(t, handler, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	resp = doRequest(t, handler, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
}
