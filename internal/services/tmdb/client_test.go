package tmdb_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viperadnan-git/medialoader/internal/services/tmdb"
)

func TestNewRequiresToken(t *testing.T) {
	_, err := tmdb.New("", "https://example.com", "https://img.example.com")
	assert.Error(t, err)
}

func newServer(t *testing.T, searchBody string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/3/search/multi":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.URL.Query().Get("query") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(searchBody))
		case "/img/w780/abc.jpg":
			_, _ = w.Write([]byte("JPEGDATA"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchPoster(t *testing.T) {
	srv := newServer(t, `{"page":1,"results":[{"id":1,"title":"Dune","poster_path":"/abc.jpg"},{"id":2,"poster_path":"/other.jpg"}]}`)
	client, err := tmdb.New("tok", srv.URL+"/3", srv.URL+"/img")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "Dune (2021)", "poster.jpg")
	require.NoError(t, client.FetchPoster(context.Background(), "Dune", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "JPEGDATA", string(data))
	assert.NoFileExists(t, dest+".part")
}

func TestFetchPosterNoResults(t *testing.T) {
	srv := newServer(t, `{"page":1,"results":[]}`)
	client, err := tmdb.New("tok", srv.URL+"/3", srv.URL+"/img")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "poster.jpg")
	err = client.FetchPoster(context.Background(), "Nothing", dest)
	assert.ErrorIs(t, err, tmdb.ErrNoMatch)
	assert.NoFileExists(t, dest)
}

func TestFetchPosterMissingPosterPath(t *testing.T) {
	srv := newServer(t, `{"page":1,"results":[{"id":1,"name":"Someone","media_type":"person"}]}`)
	client, err := tmdb.New("tok", srv.URL+"/3", srv.URL+"/img")
	require.NoError(t, err)

	err = client.FetchPoster(context.Background(), "Someone", filepath.Join(t.TempDir(), "poster.jpg"))
	assert.ErrorIs(t, err, tmdb.ErrNoMatch)
}

func TestSearchMultiHTTPError(t *testing.T) {
	srv := newServer(t, "")
	client, err := tmdb.New("wrong", srv.URL+"/3", srv.URL+"/img")
	require.NoError(t, err)

	_, err = client.SearchMulti(context.Background(), "Dune")
	assert.Error(t, err)

	_, err = client.SearchMulti(context.Background(), "  ")
	assert.Error(t, err)
}
