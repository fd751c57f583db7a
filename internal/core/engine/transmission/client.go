package transmission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/viperadnan-git/medialoader/internal/core/engine"
)

const (
	sessionHeader = "X-Transmission-Session-Id"
	sessionTTL    = 30 * time.Minute
)

// Client speaks Transmission's JSON RPC. The CSRF session id is negotiated on
// the first 409 and cached per client until it expires or is rejected.
type Client struct {
	url      string
	username string
	password string
	http     *http.Client

	mu        sync.Mutex
	sessionID string
	sessionAt time.Time
	now       func() time.Time
}

func NewClient(url, username, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		url:      url,
		username: username,
		password: password,
		http:     httpClient,
		now:      time.Now,
	}
}

type request struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type response struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" && c.now().Sub(c.sessionAt) > sessionTTL {
		c.sessionID = ""
	}
	return c.sessionID
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
	c.sessionAt = c.now()
}

// call posts one RPC and decodes its arguments into out. A 409 is retried
// exactly once with the session id the server handed back.
func (c *Client) call(ctx context.Context, method string, args, out any) error {
	body, err := json.Marshal(request{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.post(ctx, body, c.session())
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusConflict {
		sid := resp.Header.Get(sessionHeader)
		_ = resp.Body.Close()
		if sid == "" {
			return fmt.Errorf("%w: transmission %s: 409 without session id", engine.ErrUnavailable, method)
		}
		c.setSession(sid)
		if resp, err = c.post(ctx, body, sid); err != nil {
			return err
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: transmission %s: http %d", engine.ErrUnavailable, method, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read transmission response: %v", engine.ErrUnavailable, err)
	}
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%w: transmission %s: malformed response", engine.ErrUnavailable, method)
	}
	if r.Result != "success" {
		return fmt.Errorf("%w: transmission %s: %s", engine.ErrUnavailable, method, r.Result)
	}
	if out == nil || len(r.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Arguments, out); err != nil {
		return fmt.Errorf("%w: transmission %s: parse arguments: %v", engine.ErrUnavailable, method, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte, sid string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.Header.Set(sessionHeader, sid)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: transmission: %v", engine.ErrUnavailable, err)
	}
	return resp, nil
}

// Torrent holds the torrent-get fields medialoader requests.
type Torrent struct {
	HashString   string  `json:"hashString"`
	Name         string  `json:"name"`
	PercentDone  float64 `json:"percentDone"`
	IsFinished   bool    `json:"isFinished"`
	DownloadDir  string  `json:"downloadDir"`
	RateDownload int64   `json:"rateDownload"`
}

var torrentFields = []string{"hashString", "name", "percentDone", "isFinished", "downloadDir", "rateDownload"}

type addedTorrent struct {
	HashString string `json:"hashString"`
	Name       string `json:"name"`
}

// TorrentAdd submits a magnet/URL (filename) or raw .torrent bytes (metainfo)
// and returns the info hash. Duplicates resolve to the existing torrent.
func (c *Client) TorrentAdd(ctx context.Context, filename string, metainfo []byte, downloadDir string) (string, error) {
	args := map[string]any{"download-dir": downloadDir}
	if len(metainfo) > 0 {
		args["metainfo"] = base64.StdEncoding.EncodeToString(metainfo)
	} else {
		args["filename"] = filename
	}

	var out struct {
		Added     *addedTorrent `json:"torrent-added"`
		Duplicate *addedTorrent `json:"torrent-duplicate"`
	}
	if err := c.call(ctx, "torrent-add", args, &out); err != nil {
		return "", err
	}
	t := out.Added
	if t == nil {
		t = out.Duplicate
	}
	if t == nil || t.HashString == "" {
		return "", fmt.Errorf("%w: torrent-add returned no torrent", engine.ErrUnavailable)
	}
	return t.HashString, nil
}

func (c *Client) TorrentGet(ctx context.Context, ids []string) ([]Torrent, error) {
	var out struct {
		Torrents []Torrent `json:"torrents"`
	}
	args := map[string]any{"ids": ids, "fields": torrentFields}
	if err := c.call(ctx, "torrent-get", args, &out); err != nil {
		return nil, err
	}
	return out.Torrents, nil
}

func (c *Client) TorrentStart(ctx context.Context, ids []string) error {
	return c.call(ctx, "torrent-start", map[string]any{"ids": ids}, nil)
}

func (c *Client) TorrentStop(ctx context.Context, ids []string) error {
	return c.call(ctx, "torrent-stop", map[string]any{"ids": ids}, nil)
}

func (c *Client) TorrentRemove(ctx context.Context, ids []string, deleteLocalData bool) error {
	return c.call(ctx, "torrent-remove", map[string]any{"ids": ids, "delete-local-data": deleteLocalData}, nil)
}

// SessionGet returns the daemon version string.
func (c *Client) SessionGet(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, "session-get", map[string]any{"fields": []string{"version"}}, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}
