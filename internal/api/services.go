package api

import (
	"github.com/loghoi/loghoi/internal/cache"
	"github.com/loghoi/loghoi/internal/collectjob"
	"github.com/loghoi/loghoi/internal/index"
	"github.com/loghoi/loghoi/internal/query"
	"github.com/loghoi/loghoi/internal/sshexec"
	"github.com/loghoi/loghoi/internal/streamsession"
)

// Services is the dependency-injection bundle the public contract layer
// delegates to (spec §9 design note: "{index_gateway, cache, session_manager,
// job_manager, executor}").
type Services struct {
	Index      *index.Gateway
	Cache      *cache.Cache
	Sessions   *streamsession.Manager
	Jobs       *collectjob.Manager
	Query      *query.Service
	Executor   *sshexec.Executor
	ZipDir     string
	LogDir     string
	CORSOrigin string

	// MetricsEnabled gates whether Routes mounts /metrics (spec §4.10).
	MetricsEnabled bool

	// CaptureItems is the static file+command list loaded from
	// CAPTURE_CONFIG_PATH/COMMAND_CONFIG_PATH at startup (spec §6).
	CaptureItems []collectjob.CaptureItem
}
