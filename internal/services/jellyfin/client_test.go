package jellyfin_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viperadnan-git/medialoader/internal/services/jellyfin"
)

func refreshServer(t *testing.T, statusByMethod map[string]int) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method)
		mu.Unlock()
		if r.URL.Path != "/Library/Refresh" || r.Header.Get("X-MediaBrowser-Token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(statusByMethod[r.Method])
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestRefreshGET(t *testing.T) {
	srv, seen := refreshServer(t, map[string]int{http.MethodGet: http.StatusNoContent})
	c, err := jellyfin.New(srv.URL+"/", "tok", nil)
	require.NoError(t, err)

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, []string{http.MethodGet}, *seen)
}

func TestRefreshFallsBackToPOST(t *testing.T) {
	srv, seen := refreshServer(t, map[string]int{
		http.MethodGet:  http.StatusMethodNotAllowed,
		http.MethodPost: http.StatusAccepted,
	})
	c, err := jellyfin.New(srv.URL, "tok", nil)
	require.NoError(t, err)

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, []string{http.MethodGet, http.MethodPost}, *seen)
}

func TestRefreshFails(t *testing.T) {
	srv, _ := refreshServer(t, map[string]int{
		http.MethodGet:  http.StatusInternalServerError,
		http.MethodPost: http.StatusInternalServerError,
	})
	c, err := jellyfin.New(srv.URL, "tok", nil)
	require.NoError(t, err)

	err = c.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 500")
}

func TestNewRequiresURL(t *testing.T) {
	_, err := jellyfin.New(" ", "tok", nil)
	assert.Error(t, err)
}
