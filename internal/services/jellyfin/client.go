// Package jellyfin triggers library scans on a Jellyfin server.
package jellyfin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const tokenHeader = "X-MediaBrowser-Token"

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("jellyfin url required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}, nil
}

// Refresh asks Jellyfin to rescan all libraries. Server builds differ on the
// accepted verb, so GET is tried before POST.
func (c *Client) Refresh(ctx context.Context) error {
	var errs []error
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		status, err := c.do(ctx, method)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch status {
		case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
			log.Debug().Str("method", method).Int("status", status).Msg("jellyfin library refresh accepted")
			return nil
		}
		errs = append(errs, fmt.Errorf("%s /Library/Refresh returned %d", method, status))
	}
	return fmt.Errorf("jellyfin refresh: %w", errors.Join(errs...))
}

func (c *Client) do(ctx context.Context, method string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/Library/Refresh", nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s /Library/Refresh: %w", method, err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
