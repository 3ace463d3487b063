package query

import (
	"archive/zip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loghoi/loghoi/internal/cache"
	"github.com/loghoi/loghoi/internal/index"
)

type fakeChannel struct{ host string }

func (f *fakeChannel) Host() string { return f.host }
func (f *fakeChannel) Close() error { return nil }

type fakeLineSource struct {
	lines []string
	i     int
}

func (f *fakeLineSource) Next() (string, error) {
	if f.i >= len(f.lines) {
		return "", errors.New("EOF")
	}
	l := f.lines[f.i]
	f.i++
	return l, nil
}
func (f *fakeLineSource) Close() error { return nil }

type fakeExecutor struct {
	connectErr error
	leaderOut  []string
}

func (f *fakeExecutor) Connect(ctx context.Context, host string) (Channel, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &fakeChannel{host: host}, nil
}

func (f *fakeExecutor) Exec(ctx context.Context, ch Channel, command string) (LineSource, error) {
	return &fakeLineSource{lines: f.leaderOut}, nil
}

func writeTestZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestGetCVMsLeaderBestEffort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hits":{"hits":[{"_source":{"name":"c1","cvm_ips":["10.0.0.5"]}}]}}`))
	}))
	defer srv.Close()

	gw := index.New(srv.URL, 0)
	c := cache.New()

	t.Run("leader resolves", func(t *testing.T) {
		svc := New(gw, c, &fakeExecutor{leaderOut: []string{"10.0.0.5"}}, t.TempDir())
		result, err := svc.GetCVMs(context.Background(), "c1")
		require.NoError(t, err)
		require.Equal(t, "10.0.0.5", result.Leader)
		require.Nil(t, result.LeaderErr)
	})

	t.Run("leader fails without failing whole call", func(t *testing.T) {
		svc := New(gw, c, &fakeExecutor{connectErr: errors.New("auth failed")}, t.TempDir())
		result, err := svc.GetCVMs(context.Background(), "c1")
		require.NoError(t, err)
		require.Equal(t, "c1", result.Cluster.Name)
		require.Empty(t, result.Leader)
		require.Error(t, result.LeaderErr)
		var authErr *AuthHintError
		require.ErrorAs(t, result.LeaderErr, &authErr)
	})
}

func TestListZipsAndLogsInZip(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "loghoi_20260101_000000.zip")
	writeTestZip(t, zipPath, map[string]string{
		"a.log": "line1\nline2\n",
		"b.log": "hello\n",
	})

	svc := New(nil, cache.New(), nil, dir)
	zips, err := svc.ListZips(context.Background())
	require.NoError(t, err)
	require.Len(t, zips, 1)
	require.Equal(t, "loghoi_20260101_000000.zip", zips[0].Name)

	names, err := svc.ListLogsInZip(context.Background(), zips[0].Name)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.log", "b.log"}, names)
}

func TestGetLogContentByteRangeEmptySlice(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bundle.zip")
	writeTestZip(t, zipPath, map[string]string{"a.log": "short"})

	svc := New(nil, cache.New(), nil, dir)
	out, err := svc.GetLogContentByteRange("bundle.zip", "a.log", 100, 10)
	require.NoError(t, err)
	require.True(t, out.Empty)
}

func TestGetLogContentByteRangeReadsSlice(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bundle.zip")
	writeTestZip(t, zipPath, map[string]string{"a.log": "0123456789"})

	svc := New(nil, cache.New(), nil, dir)
	out, err := svc.GetLogContentByteRange("bundle.zip", "a.log", 2, 3)
	require.NoError(t, err)
	require.Equal(t, "234", out.Content)
	require.False(t, out.Empty)
}

func TestGetLogContentPaginated(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bundle.zip")

	var lines []byte
	for i := 0; i < 2500; i++ {
		lines = append(lines, []byte("line\n")...)
	}
	writeTestZip(t, zipPath, map[string]string{"a.log": string(lines)})

	svc := New(nil, cache.New(), nil, dir)
	out, err := svc.GetLogContentPaginated(context.Background(), "bundle.zip", "a.log", 2, 1000)
	require.NoError(t, err)
	require.Len(t, out.Lines, 1000)
	require.Equal(t, 2500, out.Pagination.TotalLines)
	require.Equal(t, 3, out.Pagination.TotalPages)
	require.True(t, out.Pagination.HasNext)
	require.True(t, out.Pagination.HasPrev)
}

func TestGetLogSize(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bundle.zip")
	writeTestZip(t, zipPath, map[string]string{"a.log": "0123456789"})

	svc := New(nil, cache.New(), nil, dir)
	size, err := svc.GetLogSize("bundle.zip", "a.log")
	require.NoError(t, err)
	require.Equal(t, int64(10), size.Bytes)
}

func TestListLogsInZipUnknownZipReturnsNotFound(t *testing.T) {
	svc := New(nil, cache.New(), nil, t.TempDir())
	_, err := svc.ListLogsInZip(context.Background(), "missing.zip")
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestInvalidateJobCaches(t *testing.T) {
	c := cache.New()
	c.Set("col:ziplist", []ZipInfo{{Name: "x.zip"}}, zipListTTL)
	c.Set("other:key", 1, zipListTTL)

	svc := New(nil, c, nil, t.TempDir())
	n := svc.InvalidateJobCaches()
	require.Equal(t, 1, n)

	_, ok := c.Get("other:key")
	require.True(t, ok)
}
