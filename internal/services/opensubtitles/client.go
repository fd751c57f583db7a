// Package opensubtitles downloads subtitles from the OpenSubtitles REST API.
package opensubtitles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoSubtitles means the search found nothing for the requested language.
var ErrNoSubtitles = errors.New("opensubtitles: no subtitles found")

type Client struct {
	apiKey     string
	userAgent  string
	baseURL    string
	language   string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLanguage(lang string) Option {
	return func(c *Client) {
		if lang = strings.TrimSpace(lang); lang != "" {
			c.language = lang
		}
	}
}

func New(apiKey, userAgent, baseURL string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("opensubtitles api key required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("opensubtitles base url required")
	}
	if userAgent == "" {
		userAgent = "medialoader v1"
	}
	c := &Client{
		apiKey:     apiKey,
		userAgent:  userAgent,
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   "en",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Language() string { return c.language }

type searchResponse struct {
	Data []struct {
		Attributes struct {
			Language string `json:"language"`
			Files    []struct {
				FileID   int64  `json:"file_id"`
				FileName string `json:"file_name"`
			} `json:"files"`
		} `json:"attributes"`
	} `json:"data"`
}

type downloadResponse struct {
	Link     string `json:"link"`
	FileName string `json:"file_name"`
}

// SidecarPath returns "<media without ext>.<lang>.srt".
func SidecarPath(mediaPath, lang string) string {
	base := strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath))
	return base + "." + lang + ".srt"
}

// FetchSubtitles saves the first matching subtitle next to mediaPath and
// returns the sidecar path.
func (c *Client) FetchSubtitles(ctx context.Context, mediaPath string) (string, error) {
	fileID, err := c.search(ctx, filepath.Base(mediaPath))
	if err != nil {
		return "", err
	}
	link, err := c.link(ctx, fileID)
	if err != nil {
		return "", err
	}
	dest := SidecarPath(mediaPath, c.language)
	if err := c.save(ctx, link, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (c *Client) search(ctx context.Context, filename string) (int64, error) {
	endpoint, err := url.Parse(c.baseURL + "/subtitles")
	if err != nil {
		return 0, fmt.Errorf("parse opensubtitles url: %w", err)
	}
	params := url.Values{}
	params.Set("query", strings.TrimSuffix(filename, filepath.Ext(filename)))
	params.Set("languages", c.language)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	var payload searchResponse
	if err := c.doJSON(req, &payload); err != nil {
		return 0, fmt.Errorf("search subtitles: %w", err)
	}
	for _, d := range payload.Data {
		if len(d.Attributes.Files) > 0 {
			return d.Attributes.Files[0].FileID, nil
		}
	}
	return 0, fmt.Errorf("%w for %q (%s)", ErrNoSubtitles, filename, c.language)
}

func (c *Client) link(ctx context.Context, fileID int64) (string, error) {
	body, err := json.Marshal(map[string]int64{"file_id": fileID})
	if err != nil {
		return "", fmt.Errorf("marshal download request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/download", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var payload downloadResponse
	if err := c.doJSON(req, &payload); err != nil {
		return "", fmt.Errorf("request download link: %w", err)
	}
	if payload.Link == "" {
		return "", errors.New("opensubtitles returned an empty download link")
	}
	return payload.Link, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opensubtitles returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) save(ctx context.Context, link, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch subtitle: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subtitle download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read subtitle: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write subtitle: %w", err)
	}
	return nil
}
