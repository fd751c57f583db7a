package statusloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
	"github.com/viperadnan-git/medialoader/internal/core/event"
	"github.com/viperadnan-git/medialoader/internal/core/job"
)

type staticLister struct {
	mu   sync.Mutex
	jobs []*job.Job
	err  error
}

func (l *staticLister) List(context.Context) ([]*job.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.jobs, l.err
}

type stubEngine struct {
	name     string
	statuses map[string]engine.Status
	err      error

	mu    sync.Mutex
	calls int
}

func (s *stubEngine) Name() string { return s.name }
func (s *stubEngine) Capabilities() engine.Capabilities { return engine.Capabilities{} }
func (s *stubEngine) Health(context.Context) engine.HealthStatus { return engine.HealthStatus{OK: true} }
func (s *stubEngine) SubmitURI(context.Context, engine.SubmitRequest) (string, error) {
	return "", engine.ErrUnsupported
}
func (s *stubEngine) SubmitTorrent(context.Context, engine.SubmitRequest) (string, error) {
	return "", engine.ErrUnsupported
}
func (s *stubEngine) Pause(context.Context, string) error { return nil }
func (s *stubEngine) Resume(context.Context, string) error { return nil }
func (s *stubEngine) Remove(context.Context, string, bool) error { return nil }

func (s *stubEngine) Status(_ context.Context, handle string) (engine.Status, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return engine.Status{}, s.err
	}
	st, ok := s.statuses[handle]
	if !ok {
		return engine.Status{}, engine.ErrTransferNotFound
	}
	return st, nil
}

// batchEngine answers every handle in one call.
type batchEngine struct {
	stubEngine
	batches int
}

func (b *batchEngine) BatchStatus(_ context.Context, handles []string) (map[string]engine.Status, error) {
	b.mu.Lock()
	b.batches++
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	out := map[string]engine.Status{}
	for _, h := range handles {
		if st, ok := b.statuses[h]; ok {
			out[h] = st
		}
	}
	return out, nil
}

func fixture() (*staticLister, *batchEngine, *stubEngine, *engine.Registry) {
	aria2 := &batchEngine{stubEngine: stubEngine{name: "aria2", statuses: map[string]engine.Status{
		"g1": {State: engine.StateDownloading, Speed: 1_000_000, Name: "Big.Movie.2021.mkv"},
		"g2": {State: engine.StateDownloading, Speed: 500},
	}}}
	transmission := &stubEngine{name: "transmission", statuses: map[string]engine.Status{
		"h1": {State: engine.StateSeeding, Speed: 9000, Name: "Some Show S01"},
	}}
	reg := engine.NewRegistry()
	reg.Register(aria2)
	reg.Register(transmission)

	lister := &staticLister{jobs: []*job.Job{
		{ID: "1", Source: "https://example.com/files/Big.Movie.2021.mkv", EffectiveEngine: "aria2", EngineHandle: "g1", Status: job.StatusDownloading},
		{ID: "2", Source: "https://example.com/dl/other.mp4?token=x", EffectiveEngine: "aria2", EngineHandle: "g2", Status: job.StatusDownloading},
		{ID: "3", Source: "magnet:?xt=urn:btih:abc&dn=Some+Show+S01", EffectiveEngine: "transmission", EngineHandle: "h1", Status: job.StatusSeeding},
		{ID: "4", Source: "magnet:?xt=urn:btih:def", Note: job.TorrentNotePrefix + "upload.torrent", Status: job.StatusStarting},
		{ID: "5", Source: "magnet:?xt=urn:btih:fff&dn=Done.Film", EffectiveEngine: "transmission", EngineHandle: "h9", Status: job.StatusCompleted},
	}}
	return lister, aria2, transmission, reg
}

func byID(views []JobView) map[string]JobView {
	out := make(map[string]JobView, len(views))
	for _, v := range views {
		out[v.ID] = v
	}
	return out
}

func TestSnapshotAddsRateAndName(t *testing.T) {
	lister, aria2, transmission, reg := fixture()
	b := New(lister, reg, time.Hour, nil)

	snap, err := b.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Jobs, 5)
	views := byID(snap.Jobs)

	assert.Equal(t, int64(1_000_000), views["1"].Rate)
	assert.Equal(t, "1.0 MB/s", views["1"].RateText)
	assert.Equal(t, "Big.Movie.2021.mkv", views["1"].Name)

	// No engine name: fall back to the URL's last path element.
	assert.Equal(t, "other.mp4", views["2"].Name)
	assert.Equal(t, int64(500), views["2"].Rate)

	// Seeding jobs report no download rate.
	assert.Zero(t, views["3"].Rate)
	assert.Equal(t, "0 B/s", views["3"].RateText)
	assert.Equal(t, "Some Show S01", views["3"].Name)

	assert.Equal(t, "upload.torrent", views["4"].Name)
	assert.Equal(t, "Done.Film", views["5"].Name)

	assert.Equal(t, 1, aria2.batches, "both aria2 jobs answered in one batch")
	assert.Zero(t, aria2.calls)
	assert.Equal(t, 1, transmission.calls, "completed jobs are not queried")
}

func TestSnapshotSurvivesEngineErrors(t *testing.T) {
	lister, aria2, transmission, reg := fixture()
	aria2.err = engine.ErrUnavailable
	transmission.err = engine.ErrUnavailable
	b := New(lister, reg, time.Hour, nil)

	snap, err := b.Snapshot(context.Background())
	require.NoError(t, err)
	views := byID(snap.Jobs)
	require.Len(t, views, 5)
	assert.Zero(t, views["1"].Rate)
	assert.Equal(t, "Big.Movie.2021.mkv", views["1"].Name)
	assert.Equal(t, "Some Show S01", views["3"].Name)
}

func TestRefreshSkipsPublishOnListError(t *testing.T) {
	lister, _, _, reg := fixture()
	lister.err = errors.New("db locked")
	b := New(lister, reg, time.Hour, nil)

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()
	b.Refresh(context.Background())

	select {
	case <-ch:
		t.Fatal("unexpected snapshot")
	default:
	}
}

func TestSubscribeLatestWins(t *testing.T) {
	lister, _, _, reg := fixture()
	b := New(lister, reg, time.Hour, nil)

	ch, unsubscribe := b.Subscribe()
	b.publish(Snapshot{Jobs: []JobView{{Job: &job.Job{ID: "old"}}}})
	b.publish(Snapshot{Jobs: []JobView{{Job: &job.Job{ID: "new"}}}})

	got := <-ch
	require.Len(t, got.Jobs, 1)
	assert.Equal(t, "new", got.Jobs[0].ID)

	// Late subscribers start from the last snapshot.
	late, unsubscribeLate := b.Subscribe()
	assert.Equal(t, "new", (<-late).Jobs[0].ID)

	unsubscribe()
	unsubscribeLate()
	unsubscribe()
	b.mu.Lock()
	assert.Empty(t, b.subs)
	b.mu.Unlock()
}

func TestStreamIsRestartable(t *testing.T) {
	lister, _, _, reg := fixture()
	b := New(lister, reg, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	for range 2 {
		n := 0
		for snap := range b.Stream(ctx) {
			assert.Len(t, snap.Jobs, 5)
			n++
			if n == 3 {
				break
			}
		}
		assert.Equal(t, 3, n)
	}

	b.mu.Lock()
	assert.Empty(t, b.subs, "breaking out of a stream unsubscribes")
	b.mu.Unlock()
}

func TestWatchTriggersEarlySweep(t *testing.T) {
	lister, _, _, reg := fixture()
	b := New(lister, reg, time.Hour, nil)
	bus := event.NewBus()
	defer b.Watch(bus)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()
	go b.Run(ctx)

	first := <-ch
	assert.Len(t, first.Jobs, 5)

	lister.mu.Lock()
	lister.jobs = lister.jobs[:1]
	lister.mu.Unlock()
	bus.Publish(ctx, event.Event{Type: event.EventJobDeleted, Payload: event.JobEvent{JobID: "2"}})

	select {
	case next := <-ch:
		assert.Len(t, next.Jobs, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle event did not trigger a sweep")
	}
}
