package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/loghoi/loghoi/internal/collectjob"
	"github.com/loghoi/loghoi/internal/correlate"
	"github.com/loghoi/loghoi/internal/index"
	"github.com/loghoi/loghoi/internal/metrics"
	"github.com/loghoi/loghoi/internal/query"
)

// Routes builds the full HTTP surface from spec §6. Most routes run under
// the correlation middleware; the archive download and websocket push
// channel are mounted unwrapped because that middleware buffers the full
// response (wrong for a multi-megabyte zip) and would hide the
// http.Hijacker the websocket upgrade needs (spec §4.7 design note).
// /metrics is also mounted unwrapped — a Prometheus scrape has no
// correlation id of its own to echo.
func Routes(svc *Services) http.Handler {
	mux := http.NewServeMux()

	correlated := http.NewServeMux()
	correlated.HandleFunc("POST /api/regist", svc.handleRegist)
	correlated.HandleFunc("GET /api/pclist", svc.handlePCList)
	correlated.HandleFunc("POST /api/pccluster", svc.handlePCCluster)
	correlated.HandleFunc("POST /api/cvmlist", svc.handleCVMList)
	correlated.HandleFunc("POST /api/sys/search", svc.handleSyslogSearch)

	correlated.HandleFunc("POST /api/col/getlogs", svc.handleGetLogs)
	correlated.HandleFunc("GET /api/col/job/{job_id}", svc.handleJobStatus)
	correlated.HandleFunc("GET /api/col/ziplist", svc.handleZipList)
	correlated.HandleFunc("GET /api/col/logs_in_zip/{zip_name}", svc.handleLogsInZip)
	correlated.HandleFunc("POST /api/col/logsize", svc.handleLogSize)
	correlated.HandleFunc("POST /api/col/logdisplay", svc.handleLogDisplay)
	correlated.HandleFunc("POST /api/col/cache/clear", svc.handleCacheClear)
	correlated.HandleFunc("GET /api/col/cache/stats", svc.handleCacheStats)

	correlated.HandleFunc("POST /api/uuid/connect", svc.handleUUIDConnect)
	correlated.HandleFunc("POST /api/uuid/latestdataset", svc.handleUUIDLatest)
	correlated.HandleFunc("POST /api/uuid/searchdataset", svc.handleUUIDSearch)

	correlated.HandleFunc("GET /health", svc.handleHealth)
	correlated.HandleFunc("GET /info", svc.handleInfo)
	correlated.HandleFunc("GET /api/connections", svc.handleConnections)

	mux.Handle("/", correlate.Middleware(correlated))
	mux.HandleFunc("GET /api/col/download/{zip_name}", svc.handleDownload)
	mux.HandleFunc("GET /ws", svc.handleWebSocket)
	if svc.MetricsEnabled {
		mux.HandleFunc("GET /metrics", svc.handleMetrics)
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Cluster/PC registry ---

type registRequest struct {
	PrismUser string `json:"prism_user"`
	PrismPass string `json:"prism_pass"`
	PrismIP   string `json:"prism_ip"`
}

func (s *Services) handleRegist(w http.ResponseWriter, r *http.Request) {
	var req registRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "regist", &query.ValidationError{Field: "body"})
		return
	}
	if req.PrismIP == "" {
		writeError(w, "regist", &query.ValidationError{Field: "prism_ip"})
		return
	}

	ts, err := s.Index.PutPC(r.Context(), req.PrismIP)
	if err != nil {
		writeError(w, "regist", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"message":   "registered",
		"prism_ip":  req.PrismIP,
		"timestamp": ts,
	})
}

func (s *Services) handlePCList(w http.ResponseWriter, r *http.Request) {
	pcs, err := s.Index.ListRecentPCs(r.Context())
	if err != nil {
		writeError(w, "pclist", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pcs": pcs})
}

type pcClusterRequest struct {
	PCIP string `json:"pcip"`
}

func (s *Services) handlePCCluster(w http.ResponseWriter, r *http.Request) {
	var req pcClusterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "pccluster", &query.ValidationError{Field: "body"})
		return
	}

	clusters, err := s.Query.GetClusterList(r.Context(), req.PCIP)
	if err != nil {
		writeError(w, "pccluster", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

type cvmListRequest struct {
	ClusterName string `json:"cluster_name"`
}

func (s *Services) handleCVMList(w http.ResponseWriter, r *http.Request) {
	var req cvmListRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "cvmlist", &query.ValidationError{Field: "body"})
		return
	}

	result, err := s.Query.GetCVMs(r.Context(), req.ClusterName)
	if err != nil {
		writeError(w, "cvmlist", err)
		return
	}
	if result.LeaderErr != nil {
		writeError(w, "cvmlist", result.LeaderErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cluster": result.Cluster,
		"leader":  result.Leader,
	})
}

// --- Syslog search ---

type syslogSearchRequest struct {
	Keyword       string   `json:"keyword"`
	StartDatetime string   `json:"start_datetime"`
	EndDatetime   string   `json:"end_datetime"`
	Cluster       string   `json:"cluster"`
	Hostnames     []string `json:"hostnames"`
	Serial        string   `json:"serial"`
}

func (s *Services) handleSyslogSearch(w http.ResponseWriter, r *http.Request) {
	var req syslogSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "sys/search", &query.ValidationError{Field: "body"})
		return
	}

	entries, err := s.Query.SearchSyslog(r.Context(), query.SyslogRequest{
		Keyword:       req.Keyword,
		StartDatetime: req.StartDatetime,
		EndDatetime:   req.EndDatetime,
		ClusterName:   req.Cluster,
		Hostnames:     req.Hostnames,
		BlockSerial:   req.Serial,
	})
	if err != nil {
		writeError(w, "sys/search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// --- Collection jobs ---

type getLogsRequest struct {
	CVM string `json:"cvm"`
}

func (s *Services) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	var req getLogsRequest
	if err := decodeJSON(r, &req); err != nil || req.CVM == "" {
		writeError(w, "col/getlogs", &query.ValidationError{Field: "cvm"})
		return
	}

	jobID := s.Jobs.Start(r.Context(), req.CVM, s.CaptureItems)
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"status": "pending",
	})
}

func (s *Services) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := collectjob.JobID(r.PathValue("job_id"))
	job, ok := s.Jobs.Get(id)
	if !ok {
		writeError(w, "col/job", &notFoundError{resource: "job", key: string(id)})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Services) handleZipList(w http.ResponseWriter, r *http.Request) {
	zips, err := s.Query.ListZips(r.Context())
	if err != nil {
		writeError(w, "col/ziplist", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"zips": zips})
}

func (s *Services) handleLogsInZip(w http.ResponseWriter, r *http.Request) {
	zipName := r.PathValue("zip_name")
	names, err := s.Query.ListLogsInZip(r.Context(), zipName)
	if err != nil {
		writeError(w, "col/logs_in_zip", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": names})
}

type logSizeRequest struct {
	LogFile string `json:"log_file"`
	ZipName string `json:"zip_name"`
}

func (s *Services) handleLogSize(w http.ResponseWriter, r *http.Request) {
	var req logSizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "col/logsize", &query.ValidationError{Field: "body"})
		return
	}

	size, err := s.Query.GetLogSize(req.ZipName, req.LogFile)
	if err != nil {
		writeError(w, "col/logsize", err)
		return
	}
	writeJSON(w, http.StatusOK, size)
}

type logDisplayRequest struct {
	LogFile  string `json:"log_file"`
	ZipName  string `json:"zip_name"`
	Start    *int64 `json:"start"`
	Length   *int64 `json:"length"`
	Page     *int   `json:"page"`
	PageSize *int   `json:"page_size"`
}

func (s *Services) handleLogDisplay(w http.ResponseWriter, r *http.Request) {
	var req logDisplayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "col/logdisplay", &query.ValidationError{Field: "body"})
		return
	}
	if req.ZipName == "" || req.LogFile == "" {
		writeError(w, "col/logdisplay", &query.ValidationError{Field: "zip_name"})
		return
	}

	if req.Page != nil {
		pageSize := 1000
		if req.PageSize != nil {
			pageSize = *req.PageSize
		}
		content, err := s.Query.GetLogContentPaginated(r.Context(), req.ZipName, req.LogFile, *req.Page, pageSize)
		if err != nil {
			writeError(w, "col/logdisplay", err)
			return
		}
		writeJSON(w, http.StatusOK, content)
		return
	}

	var start, length int64
	if req.Start != nil {
		start = *req.Start
	}
	if req.Length != nil {
		length = *req.Length
	} else {
		length = 10000
	}
	content, err := s.Query.GetLogContentByteRange(req.ZipName, req.LogFile, start, length)
	if err != nil {
		writeError(w, "col/logdisplay", err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Services) handleDownload(w http.ResponseWriter, r *http.Request) {
	zipName := r.PathValue("zip_name")
	path := filepath.Join(s.ZipDir, zipName)

	f, err := os.Open(path)
	if err != nil {
		writeError(w, "col/download", &notFoundError{resource: "zip", key: zipName})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, "col/download", err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, zipName))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	http.ServeContent(w, r, zipName, info.ModTime(), f)
}

type cacheClearRequest struct {
	Pattern string `json:"pattern"`
}

func (s *Services) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	var req cacheClearRequest
	decodeJSON(r, &req)

	var n int
	if req.Pattern != "" {
		n = s.Cache.InvalidateRegex(req.Pattern)
	} else {
		n = s.Cache.Sweep()
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

func (s *Services) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.Cache.StatsSnapshot()
	writeJSON(w, http.StatusOK, stats)
}

// --- UUID dataset ingestion ---

type uuidConnectRequest struct {
	ClusterName       string           `json:"cluster_name"`
	ClusterUUID       string           `json:"cluster_uuid"`
	VMs               []map[string]any `json:"vms"`
	StorageContainers []map[string]any `json:"storage_containers"`
	VolumeGroups      []map[string]any `json:"volume_groups"`
	Vfilers           []map[string]any `json:"vfilers"`
	Shares            []map[string]any `json:"shares"`
	ShareDetails      []map[string]any `json:"share_details"`
}

func (s *Services) handleUUIDConnect(w http.ResponseWriter, r *http.Request) {
	var req uuidConnectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "uuid/connect", &query.ValidationError{Field: "body"})
		return
	}

	name, counts, err := s.Index.PutUUIDDataset(r.Context(), index.UUIDDataset{
		ClusterName:       req.ClusterName,
		ClusterUUID:       req.ClusterUUID,
		VMs:               req.VMs,
		StorageContainers: req.StorageContainers,
		VolumeGroups:      req.VolumeGroups,
		Vfilers:           req.Vfilers,
		Shares:            req.Shares,
		ShareDetails:      req.ShareDetails,
	})
	if err != nil {
		writeError(w, "uuid/connect", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cluster_name": name, "counts": counts})
}

type uuidLatestRequest struct {
	ClusterName string `json:"cluster_name"`
}

func (s *Services) handleUUIDLatest(w http.ResponseWriter, r *http.Request) {
	var req uuidLatestRequest
	if err := decodeJSON(r, &req); err != nil || req.ClusterName == "" {
		writeError(w, "uuid/latestdataset", &query.ValidationError{Field: "cluster_name"})
		return
	}

	ds, err := s.Index.LatestUUIDDataset(r.Context(), req.ClusterName)
	if err != nil {
		writeError(w, "uuid/latestdataset", err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

type uuidSearchRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (s *Services) handleUUIDSearch(w http.ResponseWriter, r *http.Request) {
	var req uuidSearchRequest
	if err := decodeJSON(r, &req); err != nil || req.Field == "" || req.Value == "" {
		writeError(w, "uuid/searchdataset", &query.ValidationError{Field: "field"})
		return
	}

	results, err := s.Index.SearchUUIDDataset(r.Context(), req.Field, req.Value)
	if err != nil {
		writeError(w, "uuid/searchdataset", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// --- Diagnostics ---

func (s *Services) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Services) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.Sessions.Count(),
		"cache":    s.Cache.StatsSnapshot(),
	})
}

func (s *Services) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.Sessions.Snapshots()})
}

func (s *Services) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}
