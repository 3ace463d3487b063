// Package query is the Query Service (C6): thin read orchestrations layering
// the TTL cache over the Index Gateway and the on-disk collection-job
// output tree. Grounded on original_source's core/broker_col.py (zip listing
// and paginated log reads) and core/ela.py (cluster/syslog lookups);
// caching idiom follows internal/cache.Cache's get_or_set contract.
package query

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loghoi/loghoi/internal/cache"
	"github.com/loghoi/loghoi/internal/index"
	"github.com/loghoi/loghoi/internal/timeutil"
)

const (
	zipListTTL    = 10 * time.Second
	logsInZipTTL  = 10 * time.Second
	totalLinesTTL = 5 * time.Minute

	minPageSize = 100
	maxPageSize = 10000
)

// Service is the Query Service.
type Service struct {
	gateway  *index.Gateway
	cache    *cache.Cache
	executor Executor
	zipDir   string
}

// New constructs a Service over gateway, cache, executor (for leader
// resolution) and the directory holding collection-job archives.
func New(gateway *index.Gateway, c *cache.Cache, executor Executor, zipDir string) *Service {
	return &Service{gateway: gateway, cache: c, executor: executor, zipDir: zipDir}
}

// GetClusterList returns the clusters registered under pcIP. No cache (spec
// §4.6: "no cache by default").
func (s *Service) GetClusterList(ctx context.Context, pcIP string) ([]index.ClusterRecord, error) {
	if pcIP == "" {
		return nil, &ValidationError{Field: "pcip"}
	}
	return s.gateway.ClustersByPC(ctx, pcIP)
}

// CVMListResult is get_cvms's response: the cluster record plus a
// best-effort Prism-leader hostname. LeaderErr carries a non-fatal
// AuthHintError when leader resolution failed.
type CVMListResult struct {
	Cluster   index.ClusterRecord
	Leader    string
	LeaderErr error
}

// GetCVMs fetches the cluster record, then attempts SSH to the first CVM to
// read the Prism leader. SSH failure does not fail the whole call: the
// cluster record is still returned, with LeaderErr set to a typed
// AuthHintError the caller can surface as remediation text (spec §4.6).
func (s *Service) GetCVMs(ctx context.Context, clusterName string) (*CVMListResult, error) {
	if clusterName == "" {
		return nil, &ValidationError{Field: "cluster_name"}
	}

	rec, err := s.gateway.LatestCluster(ctx, clusterName)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Resource: "cluster", Key: clusterName}
	}

	result := &CVMListResult{Cluster: *rec}
	if len(rec.CVMIPs) == 0 {
		return result, nil
	}

	leader, err := s.resolveLeader(ctx, rec.CVMIPs[0])
	if err != nil {
		result.LeaderErr = &AuthHintError{
			Host: rec.CVMIPs[0],
			Hint: "verify the SSH key configured at SSH_KEY_PATH is authorized on the CVM fleet and that its public key is registered in Prism for this cluster",
			Err:  err,
		}
		return result, nil
	}
	result.Leader = leader
	return result, nil
}

func (s *Service) resolveLeader(ctx context.Context, host string) (string, error) {
	ch, err := s.executor.Connect(ctx, host)
	if err != nil {
		return "", err
	}
	defer ch.Close()

	out, err := s.executor.Exec(ctx, ch, "curl -s localhost:2019/prism/leader")
	if err != nil {
		return "", err
	}
	defer out.Close()

	var lines []string
	for {
		line, err := out.Next()
		if err != nil {
			break
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "")), nil
}

// SyslogRequest mirrors spec §6 POST /api/sys/search, with operator-supplied
// timestamps as raw strings (ISO8601, possibly Z-suffixed).
type SyslogRequest struct {
	Keyword       string
	StartDatetime string
	EndDatetime   string
	ClusterName   string
	Hostnames     []string
	BlockSerial   string
}

// SearchSyslog normalizes incoming datetimes to the index's representation,
// resolves the cluster's block serial when a cluster name but no explicit
// serial was supplied, and delegates to the Index Gateway (spec §4.6).
func (s *Service) SearchSyslog(ctx context.Context, req SyslogRequest) ([]index.LogEntry, error) {
	lo, err := timeutil.ParseOperatorTimestamp(req.StartDatetime)
	if err != nil {
		return nil, &ValidationError{Field: "start_datetime"}
	}
	hi, err := timeutil.ParseOperatorTimestamp(req.EndDatetime)
	if err != nil {
		return nil, &ValidationError{Field: "end_datetime"}
	}

	blockSerial := req.BlockSerial
	if blockSerial == "" && req.ClusterName != "" && len(req.Hostnames) == 0 {
		if rec, err := s.gateway.LatestCluster(ctx, req.ClusterName); err == nil && rec != nil {
			blockSerial = rec.BlockSerial
		}
	}

	return s.gateway.SearchSyslog(ctx, index.SyslogSearchRequest{
		Keyword:     req.Keyword,
		TimeLo:      lo,
		TimeHi:      hi,
		Hostnames:   req.Hostnames,
		ClusterName: req.ClusterName,
		BlockSerial: blockSerial,
	})
}

// ListZips returns every archive in the zip directory, cached 10 seconds
// under "col:ziplist" (spec §4.6).
func (s *Service) ListZips(ctx context.Context) ([]ZipInfo, error) {
	v, err := s.cache.GetOrSet("col:ziplist", zipListTTL, func() (any, error) {
		entries, err := os.ReadDir(s.zipDir)
		if err != nil {
			if os.IsNotExist(err) {
				return []ZipInfo{}, nil
			}
			return nil, fmt.Errorf("query: read zip dir: %w", err)
		}
		out := make([]ZipInfo, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, ZipInfo{Name: e.Name(), SizeBytes: info.Size()})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ZipInfo), nil
}

// ListLogsInZip lists every file inside zipName, cached 10 seconds under
// "col:logs_in_zip:<zip_name>" (spec §4.6).
func (s *Service) ListLogsInZip(ctx context.Context, zipName string) ([]string, error) {
	key := "col:logs_in_zip:" + zipName
	v, err := s.cache.GetOrSet(key, logsInZipTTL, func() (any, error) {
		r, err := zip.OpenReader(s.zipPath(zipName))
		if err != nil {
			return nil, &NotFoundError{Resource: "zip", Key: zipName}
		}
		defer r.Close()
		names := make([]string, 0, len(r.File))
		for _, f := range r.File {
			names = append(names, f.Name)
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// GetLogSize returns the size of logFile inside zipName.
func (s *Service) GetLogSize(zipName, logFile string) (LogSize, error) {
	h, err := s.openEntry(zipName, logFile)
	if err != nil {
		return LogSize{}, err
	}
	defer h.Close()
	n := int64(h.file.UncompressedSize64)
	return LogSize{Bytes: n, Megabytes: float64(n) / (1024 * 1024)}, nil
}

// GetLogContentByteRange reads [start, start+length) bytes from logFile,
// UTF-8 decoding with replacement. An empty slice returns Empty=true (spec
// §4.6 byte-range mode).
func (s *Service) GetLogContentByteRange(zipName, logFile string, start, length int64) (ByteRangeContent, error) {
	if length <= 0 {
		length = 10000
	}
	h, err := s.openEntry(zipName, logFile)
	if err != nil {
		return ByteRangeContent{}, err
	}
	defer h.Close()

	rc, err := h.file.Open()
	if err != nil {
		return ByteRangeContent{}, fmt.Errorf("query: open entry %s: %w", logFile, err)
	}
	defer rc.Close()

	if start > 0 {
		if _, err := io.CopyN(io.Discard, rc, start); err != nil && err != io.EOF {
			return ByteRangeContent{}, fmt.Errorf("query: seek entry %s: %w", logFile, err)
		}
	}

	buf := make([]byte, length)
	n, err := io.ReadFull(rc, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ByteRangeContent{}, fmt.Errorf("query: read entry %s: %w", logFile, err)
	}
	buf = buf[:n]

	if len(buf) == 0 {
		return ByteRangeContent{Empty: true, Start: start, Length: length}, nil
	}
	return ByteRangeContent{Content: string(buf), Start: start, Length: length}, nil
}

// GetLogContentPaginated returns lines [(page-1)*page_size, page*page_size)
// from logFile, zero-indexed, with line endings stripped (spec §4.6
// paginated-line mode).
func (s *Service) GetLogContentPaginated(ctx context.Context, zipName, logFile string, page, pageSize int) (PaginatedContent, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < minPageSize {
		pageSize = minPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	totalLines, err := s.totalLines(ctx, zipName, logFile)
	if err != nil {
		return PaginatedContent{}, err
	}

	lo := (page - 1) * pageSize
	hi := page * pageSize

	lines, err := s.readLineRange(zipName, logFile, lo, hi)
	if err != nil {
		return PaginatedContent{}, err
	}

	totalPages := (totalLines + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}

	return PaginatedContent{
		Lines: lines,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalLines: totalLines,
			TotalPages: totalPages,
			HasNext:    hi < totalLines,
			HasPrev:    page > 1,
		},
	}, nil
}

func (s *Service) totalLines(ctx context.Context, zipName, logFile string) (int, error) {
	key := fmt.Sprintf("col:total_lines:%s:%s", zipName, logFile)
	v, err := s.cache.GetOrSet(key, totalLinesTTL, func() (any, error) {
		h, err := s.openEntry(zipName, logFile)
		if err != nil {
			return nil, err
		}
		defer h.Close()
		rc, err := h.file.Open()
		if err != nil {
			return nil, fmt.Errorf("query: open entry %s: %w", logFile, err)
		}
		defer rc.Close()

		count := 0
		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			count++
		}
		return count, scanner.Err()
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *Service) readLineRange(zipName, logFile string, lo, hi int) ([]string, error) {
	h, err := s.openEntry(zipName, logFile)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	rc, err := h.file.Open()
	if err != nil {
		return nil, fmt.Errorf("query: open entry %s: %w", logFile, err)
	}
	defer rc.Close()

	var out []string
	i := 0
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if i >= lo && i < hi {
			out = append(out, strings.TrimRight(scanner.Text(), "\r\n"))
		}
		i++
		if i >= hi {
			break
		}
	}
	if out == nil {
		out = []string{}
	}
	return out, scanner.Err()
}

// zipEntry pairs an open zip reader with one of its files; the reader must
// stay open for the lifetime of any stream obtained from file.Open().
type zipEntry struct {
	reader *zip.ReadCloser
	file   *zip.File
}

func (h *zipEntry) Close() error { return h.reader.Close() }

func (s *Service) openEntry(zipName, logFile string) (*zipEntry, error) {
	r, err := zip.OpenReader(s.zipPath(zipName))
	if err != nil {
		return nil, &NotFoundError{Resource: "zip", Key: zipName}
	}

	for _, f := range r.File {
		if f.Name == logFile {
			return &zipEntry{reader: r, file: f}, nil
		}
	}
	r.Close()
	return nil, &NotFoundError{Resource: "log file", Key: logFile}
}

func (s *Service) zipPath(zipName string) string {
	return filepath.Join(s.zipDir, zipName)
}

// InvalidateJobCaches removes every cached entry keyed under "col:" (spec
// §4.6: "on job completion, invalidate all keys matching ^col:").
func (s *Service) InvalidateJobCaches() int {
	return s.cache.InvalidatePrefix("col:")
}
