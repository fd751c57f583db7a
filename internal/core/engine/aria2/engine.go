package aria2

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
	"github.com/viperadnan-git/medialoader/internal/core/process"
)

const Name = "aria2"

// maxFollowDepth bounds the followedBy chain walked for one handle
// (magnet metadata -> torrent, or .torrent URL -> torrent).
const maxFollowDepth = 3

type Config struct {
	RPCURL      string
	RPCSecret   string
	DownloadDir string
	RPCPort     int
	Trackers    []string
	HTTPClient  *http.Client
}

// Engine adapts an aria2 daemon to engine.Engine. Handles returned to callers
// are the GIDs aria2 assigned at submission; follow-up GIDs are resolved
// internally so a job's handle never changes.
type Engine struct {
	client      *Client
	downloadDir string
	rpcPort     int
	trackers    []string

	mu       sync.Mutex
	resolved map[string]string // submitted gid -> current gid
}

var (
	_ engine.Engine        = (*Engine)(nil)
	_ engine.BatchStatuser = (*Engine)(nil)
	_ engine.DaemonEngine  = (*Engine)(nil)
)

func New(cfg Config) (*Engine, error) {
	rpcURL := cfg.RPCURL
	if rpcURL == "" {
		rpcURL = "http://localhost:6800/jsonrpc"
	}
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	port := cfg.RPCPort
	if port == 0 {
		port = 6800
	}
	return &Engine{
		client:      NewClient(rpcURL, cfg.RPCSecret, cfg.HTTPClient),
		downloadDir: cfg.DownloadDir,
		rpcPort:     port,
		trackers:    cfg.Trackers,
		resolved:    make(map[string]string),
	}, nil
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{AcceptsHTTP: true, AcceptsMagnet: true, AcceptsTorrent: true}
}

func (e *Engine) Client() *Client     { return e.client }
func (e *Engine) DownloadDir() string { return e.downloadDir }

func (e *Engine) Daemon() process.Daemon {
	return NewDaemon(e.downloadDir, strconv.Itoa(e.rpcPort), e.client, e.trackers)
}

func (e *Engine) Health(ctx context.Context) engine.HealthStatus {
	start := time.Now()
	version, err := e.client.GetVersion(ctx)
	latency := time.Since(start)
	if err != nil {
		return engine.HealthStatus{OK: false, Message: err.Error(), Latency: latency}
	}
	return engine.HealthStatus{OK: true, Message: "aria2 " + version, Latency: latency}
}

func (e *Engine) jobOptions(req engine.SubmitRequest) (map[string]string, error) {
	jobDir := filepath.Join(e.downloadDir, req.JobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	return map[string]string{"dir": jobDir}, nil
}

func (e *Engine) SubmitURI(ctx context.Context, req engine.SubmitRequest) (string, error) {
	opts, err := e.jobOptions(req)
	if err != nil {
		return "", err
	}
	// Extra trackers speed up peer discovery for bare magnets
	if engine.ClassifySource(req.URI) == engine.SourceMagnet && len(e.trackers) > 0 {
		opts["bt-tracker"] = strings.Join(e.trackers, ",")
	}

	log.Debug().Str("job_id", req.JobID).Str("uri", req.URI).Msg("aria2 adding URI")

	gid, err := e.client.AddURI(ctx, []string{req.URI}, opts)
	if err != nil {
		return "", fmt.Errorf("aria2 add uri: %w", err)
	}

	log.Debug().Str("job_id", req.JobID).Str("gid", gid).Msg("aria2 URI added")
	return gid, nil
}

func (e *Engine) SubmitTorrent(ctx context.Context, req engine.SubmitRequest) (string, error) {
	opts, err := e.jobOptions(req)
	if err != nil {
		return "", err
	}
	gid, err := e.client.AddTorrent(ctx, req.Data, opts)
	if err != nil {
		return "", fmt.Errorf("aria2 add torrent: %w", err)
	}
	log.Debug().Str("job_id", req.JobID).Str("gid", gid).Msg("aria2 torrent added")
	return gid, nil
}

// current returns the GID to address for handle, following followedBy links.
func (e *Engine) current(ctx context.Context, handle string) (string, *statusResponse, error) {
	e.mu.Lock()
	gid, ok := e.resolved[handle]
	e.mu.Unlock()
	if !ok {
		gid = handle
	}

	for depth := 0; ; depth++ {
		s, err := e.client.TellStatus(ctx, gid, statusKeys...)
		if err != nil {
			return "", nil, err
		}
		if len(s.FollowedBy) == 0 || depth >= maxFollowDepth {
			if gid != handle {
				e.mu.Lock()
				e.resolved[handle] = gid
				e.mu.Unlock()
			}
			return gid, s, nil
		}
		log.Debug().Str("handle", handle).Str("from", gid).Str("to", s.FollowedBy[0]).Msg("aria2 following gid")
		gid = s.FollowedBy[0]
	}
}

func (e *Engine) Status(ctx context.Context, handle string) (engine.Status, error) {
	_, s, err := e.current(ctx, handle)
	if err != nil {
		return engine.Status{}, err
	}
	return convertStatus(s)
}

// BatchStatus answers for many handles with a single multicall. Handles that
// still need a followedBy hop fall back to Status.
func (e *Engine) BatchStatus(ctx context.Context, handles []string) (map[string]engine.Status, error) {
	if len(handles) == 0 {
		return map[string]engine.Status{}, nil
	}

	gids := make([]string, len(handles))
	entries := make([]MulticallEntry, len(handles))
	e.mu.Lock()
	for i, h := range handles {
		gids[i] = h
		if r, ok := e.resolved[h]; ok {
			gids[i] = r
		}
		entries[i] = MulticallEntry{Method: "aria2.tellStatus", Params: []any{gids[i], statusKeys}}
	}
	e.mu.Unlock()

	results, err := e.client.Multicall(ctx, entries)
	if err != nil {
		return nil, err
	}

	out := make(map[string]engine.Status, len(handles))
	for i, res := range results {
		handle := handles[i]
		if res.Err != nil {
			continue
		}
		var s statusResponse
		if err := json.Unmarshal(res.Result, &s); err != nil {
			continue
		}
		if len(s.FollowedBy) > 0 {
			st, err := e.Status(ctx, handle)
			if err == nil {
				out[handle] = st
			}
			continue
		}
		st, err := convertStatus(&s)
		if err != nil {
			continue
		}
		out[handle] = st
	}
	return out, nil
}

func convertStatus(s *statusResponse) (engine.Status, error) {
	state, err := mapStatus(s)
	if err != nil {
		return engine.Status{}, err
	}
	total, _ := strconv.ParseInt(s.TotalLength, 10, 64)
	completed, _ := strconv.ParseInt(s.CompletedLength, 10, 64)
	speed, _ := strconv.ParseInt(s.DownloadSpeed, 10, 64)
	progress := engine.Percent(completed, total)

	// The payload has not started until the metadata hop resolves.
	if s.metadataOnly() {
		progress = 0
		if state == engine.StateComplete || state == engine.StateSeeding {
			state = engine.StateDownloading
		}
	}

	return engine.Status{
		State:    state,
		Progress: progress,
		Dir:      s.Dir,
		Speed:    speed,
		Name:     s.displayName(),
	}, nil
}

func (e *Engine) Pause(ctx context.Context, handle string) error {
	gid, _, err := e.current(ctx, handle)
	if err != nil {
		return err
	}
	if err := e.client.Pause(ctx, gid); err != nil {
		return fmt.Errorf("aria2 pause: %w", err)
	}
	return nil
}

func (e *Engine) Resume(ctx context.Context, handle string) error {
	gid, _, err := e.current(ctx, handle)
	if err != nil {
		return err
	}
	if err := e.client.Unpause(ctx, gid); err != nil {
		return fmt.Errorf("aria2 unpause: %w", err)
	}
	return nil
}

// Remove aborts the transfer and clears its result entries. With deleteData
// the transfer's directory is removed as well, but only inside downloadDir.
func (e *Engine) Remove(ctx context.Context, handle string, deleteData bool) error {
	gid, s, err := e.current(ctx, handle)
	if err != nil {
		return err
	}

	var errs []error
	if s.Status == "active" || s.Status == "waiting" || s.Status == "paused" {
		if err := e.client.ForceRemove(ctx, gid); err != nil && !errors.Is(err, engine.ErrTransferNotFound) {
			errs = append(errs, fmt.Errorf("aria2 force remove: %w", err))
		}
	}
	for _, g := range uniq(gid, handle) {
		if err := e.client.RemoveDownloadResult(ctx, g); err != nil && !errors.Is(err, engine.ErrTransferNotFound) {
			log.Debug().Err(err).Str("gid", g).Msg("aria2 remove download result")
		}
	}

	if deleteData && s.Dir != "" && within(e.downloadDir, s.Dir) {
		if err := os.RemoveAll(s.Dir); err != nil {
			errs = append(errs, fmt.Errorf("remove data: %w", err))
		}
	}

	e.mu.Lock()
	delete(e.resolved, handle)
	e.mu.Unlock()
	return errors.Join(errs...)
}

func uniq(a, b string) []string {
	if a == b {
		return []string{a}
	}
	return []string{a, b}
}

// within reports whether path sits strictly inside root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

const TrackersURL = "https://raw.githubusercontent.com/ngosang/trackerslist/master/trackers_all.txt"

// fallbackTrackers are used when the remote tracker list cannot be fetched.
var fallbackTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.tracker.cl:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://exodus.desync.com:6969/announce",
	"udp://tracker.torrent.eu.org:451/announce",
}

// FetchTrackers downloads a newline-separated tracker list.
// Falls back to the hardcoded list on failure.
func FetchTrackers(ctx context.Context, rawURL string) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fallbackTrackers
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch tracker list, using fallback")
		return fallbackTrackers
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("tracker list HTTP error, using fallback")
		return fallbackTrackers
	}

	var trackers []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			trackers = append(trackers, line)
		}
	}
	if len(trackers) == 0 {
		log.Warn().Msg("tracker list was empty, using fallback")
		return fallbackTrackers
	}
	return trackers
}
