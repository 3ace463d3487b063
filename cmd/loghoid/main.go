// Command loghoid is the loghoi service: it wires together the SSH
// executor, search gateway, cache, session manager, collection job
// manager, job audit log, and public HTTP/websocket contract layer, then
// serves until a shutdown signal arrives.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loghoi/loghoi/internal/api"
	"github.com/loghoi/loghoi/internal/audit"
	"github.com/loghoi/loghoi/internal/cache"
	"github.com/loghoi/loghoi/internal/collectjob"
	"github.com/loghoi/loghoi/internal/config"
	"github.com/loghoi/loghoi/internal/index"
	"github.com/loghoi/loghoi/internal/query"
	"github.com/loghoi/loghoi/internal/sshexec"
	"github.com/loghoi/loghoi/internal/streamsession"
)

func main() {
	cfg := config.FromEnv()

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	sshExec, err := sshexec.New(cfg.SSHKeyPath, cfg.SSHConnectTimeout, cfg.SCPTimeout)
	if err != nil {
		slog.Error("failed to construct ssh executor", "error", err)
		os.Exit(1)
	}

	auditLog, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		slog.Error("failed to open audit log", "path", cfg.AuditDBPath, "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	captureItems, err := collectjob.LoadCaptureItems(cfg.CaptureConfigPath, cfg.CommandConfigPath)
	if err != nil {
		slog.Error("failed to load capture item config", "error", err)
		os.Exit(1)
	}

	indexGateway := index.New(cfg.ElasticsearchURL, cfg.IndexHTTPTimeout)
	memCache := cache.New()

	queryService := query.New(indexGateway, memCache, query.ExecutorAdapter{Inner: sshExec}, cfg.ZipDir())

	sessions := streamsession.NewManager(streamsession.ExecutorAdapter{Inner: sshExec}, streamsession.Config{
		MaxLinesPerSecond: cfg.MaxLinesPerSecond,
		IdleTimeout:       cfg.IdleTimeout(),
		AddSSHMaxAttempts: cfg.AddSSHMaxAttempts,
		AddSSHBackoffBase: cfg.AddSSHBackoffBase,
	})

	jobs := collectjob.NewManager(
		collectjob.ExecutorAdapter{Inner: sshExec},
		cfg.LogDir(),
		cfg.ZipDir(),
		cfg.HostUID,
		cfg.HostGID,
		onJobRunning(auditLog),
		onJobTerminal(auditLog, queryService),
	)

	services := &api.Services{
		Index:          indexGateway,
		Cache:          memCache,
		Sessions:       sessions,
		Jobs:           jobs,
		Query:          queryService,
		Executor:       sshExec,
		ZipDir:         cfg.ZipDir(),
		LogDir:         cfg.LogDir(),
		CORSOrigin:     cfg.CORSOrigins,
		MetricsEnabled: cfg.MetricsEnabled,
		CaptureItems:   captureItems,
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Routes(services),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("loghoid listening", "address", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	for _, snap := range sessions.Snapshots() {
		sessions.OnDisconnect(snap.ID)
	}

	slog.Info("loghoid stopped")
}

// onJobRunning appends an audit event the moment a job leaves Pending for
// Running, so every transition named by spec §4.9 — not just the terminal
// ones — lands a row.
func onJobRunning(auditLog *audit.Log) collectjob.OnTerminal {
	return func(job *collectjob.Job) {
		ev := audit.Event{
			JobID:   string(job.ID),
			CVM:     job.CVM,
			State:   job.StateLabel,
			Stage:   string(job.Progress.Stage),
			Message: job.Message,
			At:      time.Now(),
		}
		if err := auditLog.Append(context.Background(), ev); err != nil {
			slog.Warn("audit append failed", "job_id", job.ID, "error", err)
		}
	}
}

// onJobTerminal appends an audit event and invalidates the collection-job
// cache namespace whenever a job reaches Completed or Failed (spec §4.6,
// §4.9).
func onJobTerminal(auditLog *audit.Log, queryService *query.Service) collectjob.OnTerminal {
	return func(job *collectjob.Job) {
		ev := audit.Event{
			JobID:   string(job.ID),
			CVM:     job.CVM,
			State:   job.StateLabel,
			Stage:   string(job.Progress.Stage),
			Message: job.Message,
			At:      time.Now(),
		}
		if job.ErrorMsg != "" {
			ev.Message = job.ErrorMsg
		}
		if err := auditLog.Append(context.Background(), ev); err != nil {
			slog.Warn("audit append failed", "job_id", job.ID, "error", err)
		}

		n := queryService.InvalidateJobCaches()
		slog.Info("job terminal", "job_id", job.ID, "state", job.StateLabel, "invalidated_keys", n)
	}
}
