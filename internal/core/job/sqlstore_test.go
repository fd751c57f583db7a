package job_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viperadnan-git/medialoader/internal/core/event"
	"github.com/viperadnan-git/medialoader/internal/core/job"
	"github.com/viperadnan-git/medialoader/internal/database"
)

func newStore(t *testing.T) *job.SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.MigrateSQLite(ctx, db))
	return job.NewSQLiteStore(db)
}

func newJob(id string) *job.Job {
	return &job.Job{
		ID:              id,
		Source:          "magnet:?xt=urn:btih:abc",
		RequestedEngine: "transmission",
		Kind:            job.KindTV,
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	j := newJob("j1")
	j.Note = job.TorrentNotePrefix + "show.torrent"
	require.NoError(t, store.Create(ctx, j))

	got, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusStarting, got.Status)
	assert.Equal(t, job.KindTV, got.Kind)
	assert.Equal(t, "transmission", got.RequestedEngine)
	assert.Empty(t, got.EngineHandle)
	assert.Equal(t, j.Note, got.Note)
	assert.False(t, got.CreatedAt.IsZero())
	assert.WithinDuration(t, j.CreatedAt, got.CreatedAt, time.Second)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestSetEngineIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Create(ctx, newJob("j1")))

	require.NoError(t, store.SetEngine(ctx, "j1", "transmission", "hash-1"))
	err := store.SetEngine(ctx, "j1", "aria2", "gid-2")
	assert.ErrorIs(t, err, job.ErrHandleAlreadySet)

	got, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", got.EngineHandle)
	assert.Equal(t, "transmission", got.EffectiveEngine)
	assert.Equal(t, job.StatusDownloading, got.Status)

	assert.ErrorIs(t, store.SetEngine(ctx, "missing", "aria2", "gid"), job.ErrNotFound)
}

func TestSetEngineConcurrentCallersOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Create(ctx, newJob("j1")))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.SetEngine(ctx, "j1", "aria2", "gid"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestUpdateNeverResurrectsDeleted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Create(ctx, newJob("j1")))

	require.NoError(t, store.Update(ctx, "j1", job.Update{Progress: job.Float64Ptr(42.5), SavePath: job.StringPtr("/dl/j1")}))
	require.NoError(t, store.Update(ctx, "j1", job.Update{Status: job.StatusPtr(job.StatusDeleted)}))

	err := store.Update(ctx, "j1", job.Update{Status: job.StatusPtr(job.StatusDownloading)})
	assert.ErrorIs(t, err, job.ErrDeleted)
	assert.ErrorIs(t, store.SetEngine(ctx, "j1", "aria2", "gid"), job.ErrDeleted)

	got, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusDeleted, got.Status)
	assert.Equal(t, 42.5, got.Progress)
	assert.Equal(t, "/dl/j1", got.SavePath)

	assert.ErrorIs(t, store.Update(ctx, "missing", job.Update{Progress: job.Float64Ptr(1)}), job.ErrNotFound)
}

func TestUpdateClampsProgress(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Create(ctx, newJob("j1")))

	require.NoError(t, store.Update(ctx, "j1", job.Update{Progress: job.Float64Ptr(140)}))
	got, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Progress)
}

func TestListHidesDeleted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, newJob(id)))
	}
	require.NoError(t, store.Update(ctx, "b", job.Update{Status: job.StatusPtr(job.StatusDeleted)}))
	require.NoError(t, store.SetEngine(ctx, "c", "aria2", "gid-c"))

	visible, err := store.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	all, err := store.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	downloading, err := store.ListByStatus(ctx, job.StatusDownloading, job.StatusPaused)
	require.NoError(t, err)
	require.Len(t, downloading, 1)
	assert.Equal(t, "c", downloading[0].ID)
}

func TestManagerPublishesTransitions(t *testing.T) {
	ctx := context.Background()
	bus := event.NewBus()
	var seen []event.EventType
	bus.Subscribe(func(_ context.Context, e event.Event) error {
		seen = append(seen, e.Type)
		return nil
	}, event.EventJobCreated, event.EventJobDispatched, event.EventJobProgress,
		event.EventJobTransferDone, event.EventJobCompleted)

	m := job.NewManager(newStore(t), bus)
	j := newJob("j1")
	require.NoError(t, m.Create(ctx, j))
	require.NoError(t, m.Dispatched(ctx, "j1", "transmission", "hash"))

	current, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	require.NoError(t, m.Progress(ctx, current, job.Update{Progress: job.Float64Ptr(50)}))
	require.NoError(t, m.Progress(ctx, current, job.Update{Status: job.StatusPtr(job.StatusSeeding), Progress: job.Float64Ptr(100)}))
	require.NoError(t, m.Complete(ctx, "j1", "/media/tvshows/Show/Season 01/x.mkv", "Show"))

	assert.Equal(t, []event.EventType{
		event.EventJobCreated,
		event.EventJobDispatched,
		event.EventJobProgress,
		event.EventJobTransferDone,
		event.EventJobCompleted,
	}, seen)

	done, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, done.Status)
	assert.Equal(t, "Show", done.Title)
}

func TestJobHelpers(t *testing.T) {
	magnet := &job.Job{Source: "magnet:?xt=urn:btih:abc"}
	assert.True(t, magnet.IsTorrent())

	web := &job.Job{Source: "https://example.com/movie.mp4"}
	assert.False(t, web.IsTorrent())

	upload := &job.Job{Source: "show.torrent", Note: job.TorrentNotePrefix + "show.torrent"}
	name, ok := upload.TorrentFileName()
	assert.True(t, ok)
	assert.Equal(t, "show.torrent", name)
	assert.True(t, upload.IsTorrent())

	upload.Status = job.StatusDownloading
	assert.False(t, upload.Active(), "no handle yet")
	upload.EngineHandle = "h"
	assert.True(t, upload.Active())

	k, err := job.ParseKind("Movies")
	require.NoError(t, err)
	assert.Equal(t, job.KindMovie, k)
	_, err = job.ParseKind("music")
	assert.ErrorIs(t, err, job.ErrInvalidKind)
}
