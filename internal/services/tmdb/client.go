// Package tmdb fetches artwork from The Movie Database.
package tmdb

import (
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

// ErrNoMatch means the search returned nothing usable; no file is written.
var ErrNoMatch = errors.New("tmdb: no match")

// Result is one search/multi hit.
type Result struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Name         string `json:"name"`
	MediaType    string `json:"media_type"`
	PosterPath   string `json:"poster_path"`
	ReleaseDate  string `json:"release_date"`
	FirstAirDate string `json:"first_air_date"`
}

type searchResponse struct {
	Page    int      `json:"page"`
	Results []Result `json:"results"`
}

type Client struct {
	token        string
	baseURL      string
	imageBaseURL string
	imageSize    string
	httpClient   *http.Client
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithImageSize overrides the poster size segment (default w780).
func WithImageSize(size string) Option {
	return func(c *Client) {
		if size = strings.TrimSpace(size); size != "" {
			c.imageSize = size
		}
	}
}

// New creates a client authenticating with a v4 read access token.
func New(token, baseURL, imageBaseURL string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("tmdb api token required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("tmdb base url required")
	}
	imageBaseURL = strings.TrimSpace(imageBaseURL)
	if imageBaseURL == "" {
		return nil, errors.New("tmdb image base url required")
	}
	c := &Client{
		token:        token,
		baseURL:      strings.TrimRight(baseURL, "/"),
		imageBaseURL: strings.TrimRight(imageBaseURL, "/"),
		imageSize:    "w780",
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SearchMulti queries movies, shows and people at once.
func (c *Client) SearchMulti(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	endpoint, err := url.Parse(c.baseURL + "/search/multi")
	if err != nil {
		return nil, fmt.Errorf("parse tmdb url: %w", err)
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("include_adult", "true")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return nil, fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tmdb multi search returned %d (latency=%v)", resp.StatusCode, latency)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode tmdb response: %w", err)
	}
	return payload.Results, nil
}

// FetchPoster writes the first search hit's poster to dest.
func (c *Client) FetchPoster(ctx context.Context, title, dest string) error {
	results, err := c.SearchMulti(ctx, title)
	if err != nil {
		return err
	}
	if len(results) == 0 || results[0].PosterPath == "" {
		return fmt.Errorf("%w for %q", ErrNoMatch, title)
	}
	return c.download(ctx, c.imageBaseURL+"/"+c.imageSize+results[0].PosterPath, dest)
}

func (c *Client) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build image request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tmdb image returned %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create poster dir: %w", err)
	}
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create poster: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write poster: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close poster: %w", err)
	}
	return os.Rename(tmp, dest)
}
