package nvd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ortelius/cve-mirror/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const onePage = `{
	"resultsPerPage": 1,
	"startIndex": 0,
	"totalResults": 1,
	"format": "NVD_CVE",
	"version": "2.0",
	"vulnerabilities": [
		{"cve": {"id": "CVE-2024-0001", "lastModified": "2024-01-01T00:00:00.000"}}
	]
}`

func newTestClient(url string) *Client {
	cfg := config.Default().NVD
	cfg.URL = url
	cfg.APIKey = "secret"
	cfg.BackoffInitial = time.Millisecond
	cfg.HTTPTimeout = 5 * time.Second
	return NewClient(cfg, zap.NewNop())
}

// feed answers with the given statuses in order, then with body and 200.
func feed(t *testing.T, body string, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

func TestFetchPageSendsQuery(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(onePage))
	}))
	defer srv.Close()

	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)

	page, err := newTestClient(srv.URL).FetchPage(context.Background(), Query{
		StartIndex:     4000,
		ResultsPerPage: 2000,
		ModifiedAfter:  after,
		ModifiedBefore: before,
	})
	require.NoError(t, err)
	require.Len(t, page.Vulnerabilities, 1)

	require.NotNil(t, got)
	assert.Equal(t, "secret", got.Header.Get("apiKey"))
	q := got.URL.Query()
	assert.Equal(t, "4000", q.Get("startIndex"))
	assert.Equal(t, "2000", q.Get("resultsPerPage"))
	assert.Equal(t, "2024-01-01T00:00:00.000+00:00", q.Get("lastModStartDate"))
	assert.Equal(t, "2024-01-31T12:00:00.000+00:00", q.Get("lastModEndDate"))
}

func TestFetchPageOmitsEmptyWindow(t *testing.T) {
	v := Query{StartIndex: 0, ResultsPerPage: 2000}.Values()
	assert.Equal(t, "0", v.Get("startIndex"))
	assert.False(t, v.Has("lastModStartDate"))
	assert.False(t, v.Has("lastModEndDate"))
}

func TestFetchPageRetriesServerErrors(t *testing.T) {
	srv, calls := feed(t, onePage, http.StatusServiceUnavailable, http.StatusTooManyRequests)

	page, err := newTestClient(srv.URL).FetchPage(context.Background(), Query{ResultsPerPage: 2000})
	require.NoError(t, err)
	assert.Len(t, page.Vulnerabilities, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestFetchPageGivesUpAfterThreeAttempts(t *testing.T) {
	srv, calls := feed(t, onePage,
		http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable,
		http.StatusServiceUnavailable)

	page, err := newTestClient(srv.URL).FetchPage(context.Background(), Query{ResultsPerPage: 2000})
	assert.Nil(t, page)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestFetchPageForbiddenIsNotRetried(t *testing.T) {
	srv, calls := feed(t, onePage, http.StatusForbidden)

	_, err := newTestClient(srv.URL).FetchPage(context.Background(), Query{ResultsPerPage: 2000})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestFetchPageMalformed(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		statuses []int
	}{
		{name: "not found", body: onePage, statuses: []int{http.StatusNotFound}},
		{name: "invalid json", body: `{"vulnerabilities": [`},
		{name: "missing vulnerabilities", body: `{"resultsPerPage": 0, "totalResults": 0}`},
		{name: "null vulnerabilities", body: `{"vulnerabilities": null}`},
		{name: "unsupported version", body: `{"version": "3.1", "vulnerabilities": []}`},
		{name: "garbage version", body: `{"version": "two", "vulnerabilities": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := feed(t, tt.body, tt.statuses...)

			_, err := newTestClient(srv.URL).FetchPage(context.Background(), Query{ResultsPerPage: 2000})
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, int32(1), atomic.LoadInt32(calls))
		})
	}
}

func TestFetchPageEmptyResult(t *testing.T) {
	srv, _ := feed(t, `{"resultsPerPage": 0, "version": "2.0", "vulnerabilities": []}`)

	page, err := newTestClient(srv.URL).FetchPage(context.Background(), Query{ResultsPerPage: 2000})
	require.NoError(t, err)
	assert.Empty(t, page.Vulnerabilities)
}

func TestFetchPageCanceledContext(t *testing.T) {
	srv, calls := feed(t, onePage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv.URL).FetchPage(ctx, Query{ResultsPerPage: 2000})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestBackOffSchedule(t *testing.T) {
	cfg := config.Default().NVD
	c := NewClient(cfg, zap.NewNop())

	bo := c.newBackOff()
	bo.Reset()
	var delays []time.Duration
	for i := 0; i < 3; i++ {
		delays = append(delays, bo.NextBackOff())
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, backoff.Stop}, delays)
}

func TestFetchPageCanceledDuringBackoff(t *testing.T) {
	srv, calls := feed(t, onePage,
		http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	c := newTestClient(srv.URL)
	c.backoffInitial = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.FetchPage(ctx, Query{ResultsPerPage: 2000})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}
