package transmission

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
)

const Name = "transmission"

type Config struct {
	RPCURL      string
	Username    string
	Password    string
	DownloadDir string
	HTTPClient  *http.Client
}

// Engine adapts a Transmission daemon to engine.Engine. Handles are info
// hashes. Transmission reports a stopped torrent the same way as a running
// one in the fields we read, so pauses are tracked locally.
type Engine struct {
	client      *Client
	downloadDir string

	mu     sync.Mutex
	paused map[string]bool
}

var (
	_ engine.Engine        = (*Engine)(nil)
	_ engine.BatchStatuser = (*Engine)(nil)
)

func New(cfg Config) (*Engine, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("transmission: rpc url is required")
	}
	if cfg.DownloadDir != "" {
		if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
			return nil, fmt.Errorf("create download dir: %w", err)
		}
	}
	return &Engine{
		client:      NewClient(cfg.RPCURL, cfg.Username, cfg.Password, cfg.HTTPClient),
		downloadDir: cfg.DownloadDir,
		paused:      make(map[string]bool),
	}, nil
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{AcceptsMagnet: true, AcceptsTorrent: true}
}

func (e *Engine) Client() *Client { return e.client }

func (e *Engine) Health(ctx context.Context) engine.HealthStatus {
	start := time.Now()
	version, err := e.client.SessionGet(ctx)
	latency := time.Since(start)
	if err != nil {
		return engine.HealthStatus{OK: false, Message: err.Error(), Latency: latency}
	}
	return engine.HealthStatus{OK: true, Message: "transmission " + version, Latency: latency}
}

func (e *Engine) jobDir(jobID string) string {
	return filepath.Join(e.downloadDir, jobID)
}

func (e *Engine) SubmitURI(ctx context.Context, req engine.SubmitRequest) (string, error) {
	if engine.ClassifySource(req.URI) != engine.SourceMagnet {
		return "", fmt.Errorf("transmission: %w", engine.ErrUnsupported)
	}
	hash, err := e.client.TorrentAdd(ctx, req.URI, nil, e.jobDir(req.JobID))
	if err != nil {
		return "", fmt.Errorf("transmission add magnet: %w", err)
	}
	log.Debug().Str("job_id", req.JobID).Str("hash", hash).Msg("transmission magnet added")
	return hash, nil
}

func (e *Engine) SubmitTorrent(ctx context.Context, req engine.SubmitRequest) (string, error) {
	hash, err := e.client.TorrentAdd(ctx, "", req.Data, e.jobDir(req.JobID))
	if err != nil {
		return "", fmt.Errorf("transmission add torrent: %w", err)
	}
	log.Debug().Str("job_id", req.JobID).Str("hash", hash).Msg("transmission torrent added")
	return hash, nil
}

func (e *Engine) Status(ctx context.Context, handle string) (engine.Status, error) {
	torrents, err := e.client.TorrentGet(ctx, []string{handle})
	if err != nil {
		return engine.Status{}, err
	}
	if len(torrents) == 0 {
		return engine.Status{}, fmt.Errorf("torrent %s: %w", handle, engine.ErrTransferNotFound)
	}
	return e.convert(handle, torrents[0]), nil
}

func (e *Engine) BatchStatus(ctx context.Context, handles []string) (map[string]engine.Status, error) {
	out := make(map[string]engine.Status, len(handles))
	if len(handles) == 0 {
		return out, nil
	}
	torrents, err := e.client.TorrentGet(ctx, handles)
	if err != nil {
		return nil, err
	}
	for _, t := range torrents {
		out[t.HashString] = e.convert(t.HashString, t)
	}
	return out, nil
}

func (e *Engine) convert(handle string, t Torrent) engine.Status {
	st := engine.Status{
		Progress: engine.ClampPercent(t.PercentDone * 100),
		Dir:      t.DownloadDir,
		Speed:    t.RateDownload,
		Name:     t.Name,
	}
	e.mu.Lock()
	paused := e.paused[handle]
	e.mu.Unlock()

	switch {
	case paused:
		st.State = engine.StatePaused
	case t.IsFinished:
		st.State = engine.StateComplete
	case t.PercentDone >= 1:
		st.State = engine.StateSeeding
	default:
		st.State = engine.StateDownloading
	}
	return st
}

func (e *Engine) Pause(ctx context.Context, handle string) error {
	if err := e.client.TorrentStop(ctx, []string{handle}); err != nil {
		return fmt.Errorf("transmission stop: %w", err)
	}
	e.mu.Lock()
	e.paused[handle] = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) Resume(ctx context.Context, handle string) error {
	if err := e.client.TorrentStart(ctx, []string{handle}); err != nil {
		return fmt.Errorf("transmission start: %w", err)
	}
	e.mu.Lock()
	delete(e.paused, handle)
	e.mu.Unlock()
	return nil
}

func (e *Engine) Remove(ctx context.Context, handle string, deleteData bool) error {
	e.mu.Lock()
	delete(e.paused, handle)
	e.mu.Unlock()
	if err := e.client.TorrentRemove(ctx, []string{handle}, deleteData); err != nil {
		return fmt.Errorf("transmission remove: %w", err)
	}
	return nil
}
