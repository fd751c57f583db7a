package postprocess

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/viperadnan-git/medialoader/internal/core/event"
	"github.com/viperadnan-git/medialoader/internal/core/job"
)

// ErrRelocation marks a failed move into the library. The job must not be
// marked completed.
var ErrRelocation = errors.New("relocation failed")

type PosterFetcher interface {
	FetchPoster(ctx context.Context, title, dest string) error
}

type SubtitleFetcher interface {
	FetchSubtitles(ctx context.Context, mediaPath string) (string, error)
}

type LibraryNotifier interface {
	Refresh(ctx context.Context) error
}

// Options wires the optional enrichment collaborators. A nil field disables
// that step.
type Options struct {
	Posters   PosterFetcher
	Subtitles SubtitleFetcher
	Library   LibraryNotifier
	Bus       event.Bus
}

type Pipeline struct {
	layout     Layout
	extensions []string
	opts       Options
}

func NewPipeline(layout Layout, extensions []string, opts Options) *Pipeline {
	return &Pipeline{layout: layout, extensions: extensions, opts: opts}
}

// Result describes a placed media file. Relocated is false when the working
// directory held no video file.
type Result struct {
	MediaPath string
	Title     string
	Meta      Meta
	Target    Target
	Relocated bool
}

// Run places the job's media file and enriches it. Only relocation errors
// are returned; enrichment failures are logged and published.
func (p *Pipeline) Run(ctx context.Context, j *job.Job, workDir string) (Result, error) {
	res, err := p.Place(ctx, j, workDir)
	if err != nil {
		return res, err
	}
	p.Enrich(ctx, j, res)
	return res, nil
}

// Place selects the job's media file under workDir and moves it into the
// library.
func (p *Pipeline) Place(_ context.Context, j *job.Job, workDir string) (Result, error) {
	logger := log.With().Str("job_id", j.ID).Str("kind", string(j.Kind)).Logger()

	src, err := SelectCandidate(workDir, p.extensions)
	if err != nil {
		logger.Warn().Err(err).Str("dir", workDir).Msg("candidate scan failed")
		return Result{}, nil
	}
	if src == "" {
		logger.Info().Str("dir", workDir).Msg("no video file found, skipping post-processing")
		return Result{}, nil
	}

	meta := ParseMeta(src)
	target := p.layout.Destination(j.Kind, meta, src)
	logger.Info().Str("src", src).Str("dst", target.File).Str("title", meta.Title).Msg("relocating media")

	if err := Relocate(src, target.File); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRelocation, err)
	}

	return Result{
		MediaPath: target.File,
		Title:     displayTitle(meta, target),
		Meta:      meta,
		Target:    target,
		Relocated: true,
	}, nil
}

// Enrich runs the best-effort steps for a placed file: poster, subtitles and
// library refresh. It does nothing when nothing was placed.
func (p *Pipeline) Enrich(ctx context.Context, j *job.Job, res Result) {
	if !res.Relocated {
		return
	}
	p.poster(ctx, j, res.Meta, res.Target)
	p.subtitles(ctx, j, res.MediaPath)
	p.refresh(ctx, j)
}

func displayTitle(meta Meta, target Target) string {
	if meta.Title != "" {
		return meta.Title
	}
	return filepath.Base(target.Folder)
}

func (p *Pipeline) poster(ctx context.Context, j *job.Job, meta Meta, target Target) {
	if p.opts.Posters == nil || meta.Title == "" {
		return
	}
	if _, err := os.Stat(target.Poster); err == nil {
		return
	}
	if err := p.opts.Posters.FetchPoster(ctx, meta.Title, target.Poster); err != nil {
		p.enrichmentFailed(ctx, j, "poster", err)
	}
}

func (p *Pipeline) subtitles(ctx context.Context, j *job.Job, mediaPath string) {
	if p.opts.Subtitles == nil {
		return
	}
	path, err := p.opts.Subtitles.FetchSubtitles(ctx, mediaPath)
	if err != nil {
		p.enrichmentFailed(ctx, j, "subtitles", err)
		return
	}
	log.Debug().Str("job_id", j.ID).Str("path", path).Msg("subtitles saved")
}

func (p *Pipeline) refresh(ctx context.Context, j *job.Job) {
	if p.opts.Library == nil {
		return
	}
	if err := p.opts.Library.Refresh(ctx); err != nil {
		p.enrichmentFailed(ctx, j, "library_refresh", err)
	}
}

func (p *Pipeline) enrichmentFailed(ctx context.Context, j *job.Job, step string, err error) {
	log.Warn().Err(err).Str("job_id", j.ID).Str("step", step).Msg("enrichment failed")
	if p.opts.Bus == nil {
		return
	}
	p.opts.Bus.Publish(ctx, event.Event{
		Type:    event.EventEnrichmentFailed,
		Payload: event.EnrichmentEvent{JobID: j.ID, Step: step, Error: err.Error()},
	})
}
