// Package statusloop periodically fans the job list, enriched with live
// engine telemetry, out to observers.
package statusloop

import (
	"context"
	"iter"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
	"github.com/viperadnan-git/medialoader/internal/core/event"
	"github.com/viperadnan-git/medialoader/internal/core/job"
	"github.com/viperadnan-git/medialoader/internal/core/util"
	"github.com/viperadnan-git/medialoader/internal/metrics"
)

// Lister is the read side of the job store the broadcaster needs.
type Lister interface {
	List(ctx context.Context) ([]*job.Job, error)
}

// JobView is a job record plus telemetry that is never persisted.
type JobView struct {
	*job.Job
	Rate     int64  `json:"rate"`
	RateText string `json:"rate_text"`
	Name     string `json:"name"`
}

type Snapshot struct {
	At   time.Time `json:"at"`
	Jobs []JobView `json:"jobs"`
}

// Broadcaster sweeps all non-deleted jobs on a fixed interval. It only reads
// job records.
type Broadcaster struct {
	jobs     Lister
	registry *engine.Registry
	interval time.Duration
	metrics  *metrics.Metrics

	nudge chan struct{}

	mu     sync.Mutex
	subs   map[uint64]chan Snapshot
	nextID uint64
	last   *Snapshot
}

func New(jobs Lister, registry *engine.Registry, interval time.Duration, m *metrics.Metrics) *Broadcaster {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Broadcaster{
		jobs:     jobs,
		registry: registry,
		interval: interval,
		metrics:  m,
		nudge:    make(chan struct{}, 1),
		subs:     make(map[uint64]chan Snapshot),
	}
}

// Watch makes lifecycle events trigger an early sweep.
func (b *Broadcaster) Watch(bus event.Bus) func() {
	return bus.Subscribe(func(context.Context, event.Event) error {
		select {
		case b.nudge <- struct{}{}:
		default:
		}
		return nil
	},
		event.EventJobCreated, event.EventJobDispatched, event.EventJobPaused, event.EventJobResumed,
		event.EventJobTransferDone, event.EventJobCompleted, event.EventJobDeleted,
	)
}

// Run sweeps until ctx ends.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-b.nudge:
		}
		b.Refresh(ctx)
	}
}

// Refresh runs one sweep and publishes the result. A failed listing skips
// the publish.
func (b *Broadcaster) Refresh(ctx context.Context) {
	snap, err := b.Snapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("broadcast sweep failed")
		}
		return
	}
	b.metrics.SetBroadcastJobs(len(snap.Jobs))
	b.publish(snap)
}

// Snapshot builds the current job list with live rate and display name.
func (b *Broadcaster) Snapshot(ctx context.Context) (Snapshot, error) {
	jobs, err := b.jobs.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	live := b.poll(ctx, jobs)

	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		st, ok := live[j.ID]
		v := JobView{Job: j, Name: displayName(j, st)}
		if ok && st.State == engine.StateDownloading {
			v.Rate = st.Speed
		}
		v.RateText = humanize.Bytes(uint64(max(v.Rate, 0))) + "/s"
		views = append(views, v)
	}
	return Snapshot{At: time.Now(), Jobs: views}, nil
}

// poll asks each engine about its active jobs, batching where the engine
// supports it. Failures leave the affected jobs without telemetry.
func (b *Broadcaster) poll(ctx context.Context, jobs []*job.Job) map[string]engine.Status {
	type group struct {
		handles []string
		jobIDs  []string
	}
	groups := make(map[string]*group)
	for _, j := range jobs {
		if !j.Active() {
			continue
		}
		g, ok := groups[j.EffectiveEngine]
		if !ok {
			g = &group{}
			groups[j.EffectiveEngine] = g
		}
		g.handles = append(g.handles, j.EngineHandle)
		g.jobIDs = append(g.jobIDs, j.ID)
	}

	result := make(map[string]engine.Status)
	for name, g := range groups {
		eng, err := b.registry.Get(name)
		if err != nil {
			continue
		}
		statuses, err := batchStatus(ctx, eng, g.handles)
		if err != nil {
			log.Debug().Err(err).Str("engine", name).Msg("broadcast status query failed")
			continue
		}
		for i, h := range g.handles {
			if st, ok := statuses[h]; ok {
				result[g.jobIDs[i]] = st
			}
		}
	}
	return result
}

func batchStatus(ctx context.Context, eng engine.Engine, handles []string) (map[string]engine.Status, error) {
	if bs, ok := eng.(engine.BatchStatuser); ok {
		return bs.BatchStatus(ctx, handles)
	}
	out := make(map[string]engine.Status, len(handles))
	for _, h := range handles {
		st, err := eng.Status(ctx, h)
		if err != nil {
			continue
		}
		out[h] = st
	}
	return out, nil
}

// displayName prefers what the engine reports, then the uploaded file name,
// then the magnet's dn, then the last element of the source.
func displayName(j *job.Job, st engine.Status) string {
	if st.Name != "" {
		return st.Name
	}
	if name, ok := j.TorrentFileName(); ok && name != "" {
		return name
	}
	if dn := util.MagnetName(j.Source); dn != "" {
		return dn
	}
	return sourceBase(j.Source)
}

func sourceBase(source string) string {
	p := source
	if u, err := url.Parse(source); err == nil && u.Path != "" {
		p = u.Path
	}
	if base := path.Base(p); base != "." && base != "/" {
		return base
	}
	return source
}

// Subscribe registers an observer. The channel holds at most one snapshot
// and a newer one replaces an unread older one, so slow observers never
// stall the sweep. The last snapshot, if any, is delivered right away.
func (b *Broadcaster) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.last != nil {
		ch <- *b.last
	}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Stream yields snapshots until ctx ends or the consumer stops. Each call
// starts a fresh subscription.
func (b *Broadcaster) Stream(ctx context.Context) iter.Seq[Snapshot] {
	return func(yield func(Snapshot) bool) {
		ch, unsubscribe := b.Subscribe()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-ch:
				if !yield(s) {
					return
				}
			}
		}
	}
}

func (b *Broadcaster) publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = &s
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
