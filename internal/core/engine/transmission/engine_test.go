package transmission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
)

type rpcBody struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments"`
}

// fakeTransmission enforces the session-id handshake and answers from a
// method table.
type fakeTransmission struct {
	sessionID string
	conflicts atomic.Int32
	requests  atomic.Int32

	mu       sync.Mutex
	calls    []rpcBody
	handlers map[string]func(args map[string]any) (string, any)
}

func newFake(t *testing.T) (*fakeTransmission, *httptest.Server) {
	f := &fakeTransmission{sessionID: "sid-1", handlers: map[string]func(map[string]any) (string, any){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		f.mu.Lock()
		sid := f.sessionID
		f.mu.Unlock()
		if r.Header.Get(sessionHeader) != sid {
			f.conflicts.Add(1)
			w.Header().Set(sessionHeader, sid)
			w.WriteHeader(http.StatusConflict)
			return
		}
		if user, pass, ok := r.BasicAuth(); ok && (user != "admin" || pass != "pw") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var body rpcBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.calls = append(f.calls, body)
		h := f.handlers[body.Method]
		f.mu.Unlock()

		result, args := "method not stubbed", any(nil)
		if h != nil {
			result, args = h(body.Arguments)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "arguments": args})
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeTransmission) on(method string, h func(map[string]any) (string, any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeTransmission) rotate(sid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID = sid
}

func (f *fakeTransmission) last(method string) rpcBody {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return f.calls[i]
		}
	}
	return rpcBody{}
}

func newTestEngine(t *testing.T, url string) *Engine {
	t.Helper()
	e, err := New(Config{RPCURL: url, Username: "admin", Password: "pw", DownloadDir: t.TempDir()})
	require.NoError(t, err)
	return e
}

func torrentsReply(torrents ...map[string]any) func(map[string]any) (string, any) {
	return func(map[string]any) (string, any) {
		return "success", map[string]any{"torrents": torrents}
	}
}

func TestSessionNegotiationRetriesOnceAndCaches(t *testing.T) {
	fake, srv := newFake(t)
	fake.on("session-get", func(map[string]any) (string, any) {
		return "success", map[string]any{"version": "4.0.5"}
	})
	e := newTestEngine(t, srv.URL)
	ctx := context.Background()

	h := e.Health(ctx)
	require.True(t, h.OK, h.Message)
	assert.Equal(t, "transmission 4.0.5", h.Message)
	assert.Equal(t, int32(1), fake.conflicts.Load())
	assert.Equal(t, int32(2), fake.requests.Load())

	// Cached id: no further 409.
	require.True(t, e.Health(ctx).OK)
	assert.Equal(t, int32(1), fake.conflicts.Load())
	assert.Equal(t, int32(3), fake.requests.Load())

	// Rotated id: exactly one more negotiation.
	fake.rotate("sid-2")
	require.True(t, e.Health(ctx).OK)
	assert.Equal(t, int32(2), fake.conflicts.Load())
	assert.Equal(t, int32(5), fake.requests.Load())
}

func TestSessionExpiry(t *testing.T) {
	fake, srv := newFake(t)
	fake.on("session-get", func(map[string]any) (string, any) {
		return "success", map[string]any{"version": "4"}
	})
	e := newTestEngine(t, srv.URL)
	now := time.Now()
	e.client.now = func() time.Time { return now }

	require.True(t, e.Health(context.Background()).OK)
	now = now.Add(sessionTTL + time.Second)
	assert.Empty(t, e.client.session())
}

func TestConflictWithoutSessionIDIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	t.Cleanup(srv.Close)

	e := newTestEngine(t, srv.URL)
	_, err := e.Status(context.Background(), "abc")
	assert.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestSubmitMagnetAndDuplicate(t *testing.T) {
	fake, srv := newFake(t)
	calls := 0
	fake.on("torrent-add", func(args map[string]any) (string, any) {
		calls++
		if calls == 1 {
			return "success", map[string]any{"torrent-added": map[string]any{"hashString": "h1", "name": "x"}}
		}
		return "success", map[string]any{"torrent-duplicate": map[string]any{"hashString": "h1"}}
	})
	e := newTestEngine(t, srv.URL)
	ctx := context.Background()

	req := engine.SubmitRequest{JobID: "job-1", URI: "magnet:?xt=urn:btih:h1"}
	h, err := e.SubmitURI(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "h1", h)

	added := fake.last("torrent-add")
	assert.Equal(t, "magnet:?xt=urn:btih:h1", added.Arguments["filename"])
	assert.Equal(t, e.jobDir("job-1"), added.Arguments["download-dir"])

	h, err = e.SubmitURI(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "h1", h)
}

func TestSubmitTorrentUsesMetainfo(t *testing.T) {
	fake, srv := newFake(t)
	fake.on("torrent-add", func(map[string]any) (string, any) {
		return "success", map[string]any{"torrent-added": map[string]any{"hashString": "h2"}}
	})
	e := newTestEngine(t, srv.URL)

	h, err := e.SubmitTorrent(context.Background(), engine.SubmitRequest{JobID: "j", Data: []byte("d4:infodee")})
	require.NoError(t, err)
	assert.Equal(t, "h2", h)

	added := fake.last("torrent-add")
	assert.Equal(t, "ZDQ6aW5mb2RlZQ==", added.Arguments["metainfo"])
	assert.NotContains(t, added.Arguments, "filename")
}

func TestRejectsHTTPSources(t *testing.T) {
	_, srv := newFake(t)
	e := newTestEngine(t, srv.URL)
	assert.False(t, e.Capabilities().AcceptsHTTP)

	_, err := e.SubmitURI(context.Background(), engine.SubmitRequest{JobID: "j", URI: "https://example.com/a.mkv"})
	assert.ErrorIs(t, err, engine.ErrUnsupported)
}

func TestRPCFailureResult(t *testing.T) {
	fake, srv := newFake(t)
	fake.on("torrent-add", func(map[string]any) (string, any) { return "invalid or corrupt torrent file", nil })
	e := newTestEngine(t, srv.URL)

	_, err := e.SubmitTorrent(context.Background(), engine.SubmitRequest{JobID: "j", Data: []byte("x")})
	assert.ErrorIs(t, err, engine.ErrUnavailable)
	assert.Contains(t, err.Error(), "invalid or corrupt")
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		name    string
		torrent map[string]any
		want    engine.State
		pct     float64
	}{
		{"downloading", map[string]any{"hashString": "h", "percentDone": 0.25}, engine.StateDownloading, 25},
		{"seeding", map[string]any{"hashString": "h", "percentDone": 1.0}, engine.StateSeeding, 100},
		{"finished", map[string]any{"hashString": "h", "percentDone": 1.0, "isFinished": true}, engine.StateComplete, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake, srv := newFake(t)
			fake.on("torrent-get", torrentsReply(tc.torrent))
			e := newTestEngine(t, srv.URL)

			st, err := e.Status(context.Background(), "h")
			require.NoError(t, err)
			assert.Equal(t, tc.want, st.State)
			assert.InDelta(t, tc.pct, st.Progress, 0.001)
		})
	}
}

func TestStatusEmptyIsNotFound(t *testing.T) {
	fake, srv := newFake(t)
	fake.on("torrent-get", torrentsReply())
	e := newTestEngine(t, srv.URL)

	_, err := e.Status(context.Background(), "gone")
	assert.ErrorIs(t, err, engine.ErrTransferNotFound)
}

func TestPauseTrackedLocally(t *testing.T) {
	fake, srv := newFake(t)
	ok := func(map[string]any) (string, any) { return "success", nil }
	fake.on("torrent-stop", ok)
	fake.on("torrent-start", ok)
	fake.on("torrent-get", torrentsReply(map[string]any{"hashString": "h", "percentDone": 0.5, "name": "Show"}))
	e := newTestEngine(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, e.Pause(ctx, "h"))
	st, err := e.Status(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, engine.StatePaused, st.State)
	assert.Equal(t, []any{"h"}, fake.last("torrent-stop").Arguments["ids"])

	batch, err := e.BatchStatus(ctx, []string{"h"})
	require.NoError(t, err)
	assert.Equal(t, engine.StatePaused, batch["h"].State)
	assert.Equal(t, "Show", batch["h"].Name)

	require.NoError(t, e.Resume(ctx, "h"))
	st, err = e.Status(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, engine.StateDownloading, st.State)
}

func TestRemovePassesDeleteFlag(t *testing.T) {
	fake, srv := newFake(t)
	fake.on("torrent-remove", func(map[string]any) (string, any) { return "success", nil })
	e := newTestEngine(t, srv.URL)

	require.NoError(t, e.Remove(context.Background(), "h", true))
	assert.Equal(t, true, fake.last("torrent-remove").Arguments["delete-local-data"])
}
