// Package index is the Index Gateway (C2): a thin typed facade over the
// external full-text index, consumed as an opaque search/put service per
// spec.md §1. Query-DSL shapes grounded on original_source's
// core/ela.py (ElasticGateway); JST/UTC handling centralized via
// internal/timeutil at this boundary exactly once, per spec §4.2/§9.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/loghoi/loghoi/internal/timeutil"
)

// Gateway talks to an Elasticsearch-shaped HTTP index over net/http. No
// Elasticsearch Go client exists anywhere in the retrieved reference
// corpus, and spec.md frames the index as an opaque service consumed over
// its own protocol, so a minimal typed HTTP client is the appropriately
// sized substitute.
type Gateway struct {
	baseURL string
	client  *http.Client
}

// New constructs a Gateway against baseURL (e.g. $ELASTICSEARCH_URL) with
// the given request timeout (spec §5: 30s connect timeout for index HTTP).
func New(baseURL string, timeout time.Duration) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type searchHit[T any] struct {
	Source T `json:"_source"`
}

type searchResponse[T any] struct {
	Hits struct {
		Hits []searchHit[T] `json:"hits"`
	} `json:"hits"`
}

func (g *Gateway) search(ctx context.Context, index string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("index: marshal query: %w", err)
	}

	u := fmt.Sprintf("%s/%s/_search", g.baseURL, url.PathEscape(index))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &ServiceUnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// IndexMissing: queries commonly race index bootstrap (spec §7);
		// the caller decides whether empty results are acceptable.
		return errIndexMissing
	}
	if resp.StatusCode >= 500 {
		return &ServiceUnavailableError{Cause: fmt.Errorf("index returned %d", resp.StatusCode)}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

var errIndexMissing = fmt.Errorf("index: missing")

// IsIndexMissing reports whether err indicates the underlying index has not
// been bootstrapped yet.
func IsIndexMissing(err error) bool { return err == errIndexMissing }

// LatestCluster returns the most recent snapshot matching name, or nil if
// none exists.
func (g *Gateway) LatestCluster(ctx context.Context, name string) (*ClusterRecord, error) {
	query := map[string]any{
		"function_score": map[string]any{
			"query": map[string]any{
				"bool": map[string]any{
					"must": []map[string]any{
						{"match": map[string]any{"name": name}},
					},
				},
			},
		},
	}
	body := map[string]any{
		"query": query,
		"sort":  []map[string]any{{"timestamp": map[string]string{"order": "desc"}}},
		"size":  1,
	}

	var resp searchResponse[ClusterRecord]
	if err := g.search(ctx, "cluster", body, &resp); err != nil {
		if IsIndexMissing(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(resp.Hits.Hits) == 0 {
		return nil, nil
	}
	rec := resp.Hits.Hits[0].Source
	sort.Strings(rec.CVMIPs)
	sort.Strings(rec.Hostnames)
	return &rec, nil
}

// ListRecentPCs returns the latest distinct PC IPs, capped at 5 by recency
// (spec §4.2: collapse on prism_ip.keyword, size 5).
func (g *Gateway) ListRecentPCs(ctx context.Context) ([]PCRecord, error) {
	body := map[string]any{
		"sort":     []map[string]any{{"timestamp": map[string]string{"order": "desc"}}},
		"collapse": map[string]string{"field": "prism_ip.keyword"},
		"size":     5,
	}

	var resp searchResponse[PCRecord]
	if err := g.search(ctx, "pc", body, &resp); err != nil {
		if IsIndexMissing(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]PCRecord, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

// ClustersByPC returns the latest snapshot of every cluster registered under
// pcIP, one per distinct cluster name, most recent first.
func (g *Gateway) ClustersByPC(ctx context.Context, pcIP string) ([]ClusterRecord, error) {
	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []map[string]any{
					{"match": map[string]any{"pc_ip": pcIP}},
				},
			},
		},
		"sort":     []map[string]any{{"timestamp": map[string]string{"order": "desc"}}},
		"collapse": map[string]string{"field": "name.keyword"},
		"size":     50,
	}

	var resp searchResponse[ClusterRecord]
	if err := g.search(ctx, "cluster", body, &resp); err != nil {
		if IsIndexMissing(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]ClusterRecord, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		rec := h.Source
		sort.Strings(rec.CVMIPs)
		sort.Strings(rec.Hostnames)
		out = append(out, rec)
	}
	return out, nil
}

func (g *Gateway) put(ctx context.Context, index string, docs []map[string]any) (int, error) {
	var buf bytes.Buffer
	for _, doc := range docs {
		action, err := json.Marshal(map[string]any{"index": map[string]string{"_index": index}})
		if err != nil {
			return 0, err
		}
		buf.Write(action)
		buf.WriteByte('\n')
		src, err := json.Marshal(doc)
		if err != nil {
			return 0, err
		}
		buf.Write(src)
		buf.WriteByte('\n')
	}

	u := fmt.Sprintf("%s/_bulk", g.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, &ServiceUnavailableError{Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return 0, &ServiceUnavailableError{Cause: fmt.Errorf("index bulk put returned %d", resp.StatusCode)}
	}
	return len(docs), nil
}

// PutPC writes a PC record and returns the assigned timestamp so callers can
// correlate it with a subsequent PutCluster call into one logical event.
func (g *Gateway) PutPC(ctx context.Context, prismIP string) (time.Time, error) {
	ts := time.Now().UTC()
	doc := map[string]any{"prism_ip": prismIP, "timestamp": ts}
	if _, err := g.put(ctx, "pc", []map[string]any{doc}); err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// PutCluster bulk-writes cluster records under the shared timestamp from a
// prior PutPC call.
func (g *Gateway) PutCluster(ctx context.Context, records []ClusterRecord, ts time.Time) (int, error) {
	docs := make([]map[string]any, 0, len(records))
	for _, r := range records {
		docs = append(docs, map[string]any{
			"name":            r.Name,
			"block_serial":    r.BlockSerial,
			"hypervisor_type": r.HypervisorType,
			"pc_ip":           r.PCIP,
			"uuid":            r.UUID,
			"cvm_ips":         r.CVMIPs,
			"hostnames":       r.Hostnames,
			"hosts":           r.Hosts,
			"timestamp":       ts,
		})
	}
	return g.put(ctx, "cluster", docs)
}

// SearchSyslog applies the precedence rule fixed by spec §9 Open Question 3:
// hostnames (exact) -> blockSerial (wildcard) -> clusterName (wildcard).
// Range on event timestamp is [t_lo, t_hi]; results capped at 100.
func (g *Gateway) SearchSyslog(ctx context.Context, req SyslogSearchRequest) ([]LogEntry, error) {
	must := []map[string]any{
		{
			"range": map[string]any{
				"@timestamp": map[string]string{
					"gte": timeutil.ToIndexTS(req.TimeLo),
					"lte": timeutil.ToIndexTS(req.TimeHi),
				},
			},
		},
		{
			"query_string": map[string]any{
				"default_field": "message",
				"query":         "*" + req.Keyword + "*",
			},
		},
	}

	switch {
	case len(req.Hostnames) > 0:
		terms := make([]any, len(req.Hostnames))
		for i, h := range req.Hostnames {
			terms[i] = h
		}
		must = append(must, map[string]any{"terms": map[string]any{"hostname": terms}})
	case req.BlockSerial != "":
		must = append(must, map[string]any{
			"query_string": map[string]any{
				"default_field": "hostname",
				"query":         "*" + req.BlockSerial + "*",
			},
		})
	case req.ClusterName != "":
		must = append(must, map[string]any{
			"query_string": map[string]any{
				"default_field": "hostname",
				"query":         "*" + req.ClusterName + "*",
			},
		})
	}

	body := map[string]any{
		"query": map[string]any{
			"function_score": map[string]any{
				"query": map[string]any{"bool": map[string]any{"must": must}},
			},
		},
		"size": 100,
	}

	var resp searchResponse[LogEntry]
	if err := g.search(ctx, "filebeat-*", body, &resp); err != nil {
		if IsIndexMissing(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]LogEntry, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

// uuidIndexes lists the six indexes PutUUIDDataset writes into, in display
// order.
var uuidIndexes = []string{
	"uuid_vms", "uuid_storage_containers", "uuid_volume_groups",
	"uuid_vfilers", "uuid_shares", "uuid_share_details",
}

// LatestUUIDDataset returns the most recently ingested document from each
// uuid_* index for the given cluster name, keyed by index name.
func (g *Gateway) LatestUUIDDataset(ctx context.Context, clusterName string) (map[string][]map[string]any, error) {
	out := make(map[string][]map[string]any)
	for _, idx := range uuidIndexes {
		body := map[string]any{
			"query": map[string]any{"bool": map[string]any{"must": []map[string]any{
				{"match": map[string]any{"cluster_name": clusterName}},
			}}},
			"sort": []map[string]any{{"timestamp": map[string]string{"order": "desc"}}},
			"size": 100,
		}
		var resp searchResponse[map[string]any]
		if err := g.search(ctx, idx, body, &resp); err != nil {
			if IsIndexMissing(err) {
				continue
			}
			return nil, err
		}
		docs := make([]map[string]any, 0, len(resp.Hits.Hits))
		for _, h := range resp.Hits.Hits {
			docs = append(docs, h.Source)
		}
		out[idx] = docs
	}
	return out, nil
}

// SearchUUIDDataset searches every uuid_* index for documents where field
// equals value, keyed by index name.
func (g *Gateway) SearchUUIDDataset(ctx context.Context, field, value string) (map[string][]map[string]any, error) {
	out := make(map[string][]map[string]any)
	for _, idx := range uuidIndexes {
		body := map[string]any{
			"query": map[string]any{"bool": map[string]any{"must": []map[string]any{
				{"match": map[string]any{field: value}},
			}}},
			"size": 100,
		}
		var resp searchResponse[map[string]any]
		if err := g.search(ctx, idx, body, &resp); err != nil {
			if IsIndexMissing(err) {
				continue
			}
			return nil, err
		}
		docs := make([]map[string]any, 0, len(resp.Hits.Hits))
		for _, h := range resp.Hits.Hits {
			docs = append(docs, h.Source)
		}
		if len(docs) > 0 {
			out[idx] = docs
		}
	}
	return out, nil
}

// PutUUIDDataset writes the VM/storage/volume-group/vfiler/share/
// share-detail collections into distinct indexes under one shared snapshot
// timestamp, attaching cluster_name and cluster_uuid to every document
// (grounded on ela.py: put_data_uuid). Idempotence is not promised.
func (g *Gateway) PutUUIDDataset(ctx context.Context, ds UUIDDataset) (string, map[string]int, error) {
	ts := time.Now().UTC()
	counts := make(map[string]int)

	groups := []struct {
		name  string
		index string
		docs  []map[string]any
	}{
		{"vms", "uuid_vms", ds.VMs},
		{"storage_containers", "uuid_storage_containers", ds.StorageContainers},
		{"volume_groups", "uuid_volume_groups", ds.VolumeGroups},
		{"vfilers", "uuid_vfilers", ds.Vfilers},
		{"shares", "uuid_shares", ds.Shares},
		{"share_details", "uuid_share_details", ds.ShareDetails},
	}

	for _, grp := range groups {
		if len(grp.docs) == 0 {
			continue
		}
		stamped := make([]map[string]any, 0, len(grp.docs))
		for _, d := range grp.docs {
			c := make(map[string]any, len(d)+3)
			for k, v := range d {
				c[k] = v
			}
			c["timestamp"] = ts
			c["cluster_name"] = ds.ClusterName
			c["cluster_uuid"] = ds.ClusterUUID
			stamped = append(stamped, c)
		}
		n, err := g.put(ctx, grp.index, stamped)
		if err != nil {
			return "", nil, err
		}
		counts[grp.name] = n
	}

	return ds.ClusterName, counts, nil
}
