package aria2

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/viperadnan-git/medialoader/internal/core/engine"
)

const tokenPrefix = "token:"

// Client is an aria2 JSON-RPC client. The secret is injected as the first
// positional parameter of every call, including each multicall entry.
type Client struct {
	url    string
	secret string
	nextID atomic.Int64
	http   *http.Client
}

func NewClient(url, secret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		url:    url,
		secret: secret,
		http:   httpClient,
	}
}

// withToken prepends the secret unless params already carry one.
func (c *Client) withToken(params []any) []any {
	if c.secret == "" {
		return params
	}
	if len(params) > 0 {
		if s, ok := params[0].(string); ok && strings.HasPrefix(s, tokenPrefix) {
			return params
		}
	}
	out := make([]any, 0, len(params)+1)
	out = append(out, tokenPrefix+c.secret)
	return append(out, params...)
}

func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return c.do(ctx, method, c.withToken(params))
}

func (c *Client) do(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      strconv.FormatInt(c.nextID.Add(1), 10),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: aria2 %s: %v", engine.ErrUnavailable, method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read aria2 response: %v", engine.ErrUnavailable, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("%w: aria2 %s: malformed response (http %d)", engine.ErrUnavailable, method, resp.StatusCode)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	if len(rpcResp.Result) == 0 {
		return nil, fmt.Errorf("%w: aria2 %s: empty result", engine.ErrUnavailable, method)
	}
	return rpcResp.Result, nil
}

// MulticallEntry is one method inside a system.multicall envelope.
type MulticallEntry struct {
	Method string
	Params []any
}

// MulticallResult holds either the raw result or the fault for one entry.
type MulticallResult struct {
	Result json.RawMessage
	Err    error
}

// Multicall batches entries into one system.multicall request. The envelope
// itself carries no token; each entry gets one unless it already has it.
func (c *Client) Multicall(ctx context.Context, entries []MulticallEntry) ([]MulticallResult, error) {
	calls := make([]multicallEntry, len(entries))
	for i, e := range entries {
		params := e.Params
		if params == nil {
			params = []any{}
		}
		calls[i] = multicallEntry{MethodName: e.Method, Params: c.withToken(params)}
	}

	raw, err := c.do(ctx, "system.multicall", []any{calls})
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: parse multicall: %v", engine.ErrUnavailable, err)
	}
	if len(items) != len(entries) {
		return nil, fmt.Errorf("%w: multicall returned %d results for %d calls", engine.ErrUnavailable, len(items), len(entries))
	}

	results := make([]MulticallResult, len(items))
	for i, item := range items {
		// Success is a one-element array, failure a fault struct.
		var wrapped []json.RawMessage
		if err := json.Unmarshal(item, &wrapped); err == nil && len(wrapped) == 1 {
			results[i].Result = wrapped[0]
			continue
		}
		var fault RPCError
		if err := json.Unmarshal(item, &fault); err != nil || fault.Message == "" {
			results[i].Err = fmt.Errorf("%w: malformed multicall entry %d", engine.ErrUnavailable, i)
			continue
		}
		results[i].Err = &fault
	}
	return results, nil
}

func (c *Client) AddURI(ctx context.Context, uris []string, opts map[string]string) (string, error) {
	raw, err := c.call(ctx, "aria2.addUri", uris, opts)
	if err != nil {
		return "", err
	}
	return parseGID(raw)
}

func (c *Client) AddTorrent(ctx context.Context, torrent []byte, opts map[string]string) (string, error) {
	raw, err := c.call(ctx, "aria2.addTorrent", base64.StdEncoding.EncodeToString(torrent), []string{}, opts)
	if err != nil {
		return "", err
	}
	return parseGID(raw)
}

func (c *Client) TellStatus(ctx context.Context, gid string, keys ...string) (*statusResponse, error) {
	params := []any{gid}
	if len(keys) > 0 {
		params = append(params, keys)
	}
	raw, err := c.call(ctx, "aria2.tellStatus", params...)
	if err != nil {
		return nil, err
	}
	var status statusResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("%w: parse status: %v", engine.ErrUnavailable, err)
	}
	return &status, nil
}

func (c *Client) Pause(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.pause", gid)
	return err
}

func (c *Client) Unpause(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.unpause", gid)
	return err
}

func (c *Client) Remove(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.remove", gid)
	return err
}

func (c *Client) ForceRemove(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.forceRemove", gid)
	return err
}

func (c *Client) RemoveDownloadResult(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.removeDownloadResult", gid)
	return err
}

func (c *Client) GetVersion(ctx context.Context) (string, error) {
	raw, err := c.call(ctx, "aria2.getVersion")
	if err != nil {
		return "", err
	}
	var result struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("%w: parse version: %v", engine.ErrUnavailable, err)
	}
	return result.Version, nil
}

func parseGID(raw json.RawMessage) (string, error) {
	var gid string
	if err := json.Unmarshal(raw, &gid); err != nil || gid == "" {
		return "", fmt.Errorf("%w: parse gid from %s", engine.ErrUnavailable, string(raw))
	}
	return gid, nil
}
