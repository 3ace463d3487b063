package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loghoi/loghoi/internal/cache"
	"github.com/loghoi/loghoi/internal/collectjob"
	"github.com/loghoi/loghoi/internal/streamsession"
)

type fakeLineSource struct{}

func (fakeLineSource) Next() (string, error) { return "", io.EOF }
func (fakeLineSource) Close() error          { return nil }

// fakeSessionExecutor satisfies streamsession.Executor.
type fakeSessionExecutor struct{}

func (fakeSessionExecutor) Connect(ctx context.Context, host string) (streamsession.Channel, error) {
	return nil, errors.New("no ssh available in tests")
}

// fakeJobExecutor satisfies collectjob.Executor.
type fakeJobExecutor struct{}

func (fakeJobExecutor) Connect(ctx context.Context, host string) (collectjob.Channel, error) {
	return nil, errors.New("no ssh available in tests")
}

func (fakeJobExecutor) Fetch(ctx context.Context, ch collectjob.Channel, remotePath, localPath string) error {
	return nil
}

func (fakeJobExecutor) Exec(ctx context.Context, ch collectjob.Channel, command string) (collectjob.LineSource, error) {
	return fakeLineSource{}, nil
}

func testServices(t *testing.T) *Services {
	t.Helper()
	c := cache.New()
	sessions := streamsession.NewManager(fakeSessionExecutor{}, streamsession.Config{})
	jobs := collectjob.NewManager(fakeJobExecutor{}, t.TempDir(), t.TempDir(), -1, -1, nil, nil)

	return &Services{
		Cache:    c,
		Sessions: sessions,
		Jobs:     jobs,
		ZipDir:   t.TempDir(),
	}
}

func TestHealthEndpoint(t *testing.T) {
	svc := testServices(t)
	h := Routes(svc)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestJobStatusUnknownReturns404(t *testing.T) {
	svc := testServices(t)
	h := Routes(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/col/job/does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.Equal(t, "NOT_FOUND_ERROR", env.ErrorCode)
}

func TestCacheClearAndStats(t *testing.T) {
	svc := testServices(t)
	svc.Cache.Set("col:ziplist", 1, 0)
	h := Routes(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/col/cache/clear", strings.NewReader(`{"pattern":"^col:"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/col/cache/stats", nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestCorrelationHeadersSetOnRegularRoutes(t *testing.T) {
	svc := testServices(t)
	h := Routes(svc)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	require.NotEmpty(t, rec.Header().Get("X-Process-Time"))
}

func TestDownloadRouteBypassesCorrelationBuffering(t *testing.T) {
	svc := testServices(t)
	h := Routes(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/col/download/missing.zip", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, rec.Header().Get("X-Correlation-ID"))
}
