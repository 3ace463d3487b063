package index

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSearchSyslogPrecedence(t *testing.T) {
	cases := []struct {
		name     string
		req      SyslogSearchRequest
		wantKey  string
		want     string
		unwanted string
	}{
		{"hostnames win", SyslogSearchRequest{Hostnames: []string{"h1"}, BlockSerial: "BS1", ClusterName: "C1"}, "terms", "h1", "BS1"},
		{"block serial beats cluster", SyslogSearchRequest{BlockSerial: "BS1", ClusterName: "C1"}, "query_string", "*BS1*", "*C1*"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var captured map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"hits":{"hits":[]}}`))
			}))
			defer srv.Close()

			g := New(srv.URL, time.Second)
			_, err := g.SearchSyslog(context.Background(), tc.req)
			require.NoError(t, err)

			must := captured["query"].(map[string]any)["function_score"].(map[string]any)["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
			found := false
			for _, clause := range must {
				m := clause.(map[string]any)
				if v, ok := m[tc.wantKey]; ok && strings.Contains(fmt.Sprint(v), tc.want) {
					found = true
				}
			}
			require.True(t, found, "expected a %q clause matching %q in must: %+v", tc.wantKey, tc.want, must)
			require.NotContains(t, fmt.Sprint(must), tc.unwanted, "lower-precedence filter must not be applied")
		})
	}
}

func TestLatestClusterIndexMissingReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := New(srv.URL, time.Second)
	rec, err := g.LatestCluster(context.Background(), "C1")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestPutUUIDDatasetSkipsEmptyGroups(t *testing.T) {
	var bulkCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bulkCalls++
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := New(srv.URL, time.Second)
	_, counts, err := g.PutUUIDDataset(context.Background(), UUIDDataset{
		ClusterName: "C1",
		ClusterUUID: "u1",
		VMs:         []map[string]any{{"uuid": "v1"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, bulkCalls)
	require.Equal(t, map[string]int{"vms": 1}, counts)
}
