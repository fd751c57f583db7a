package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
	"github.com/viperadnan-git/medialoader/internal/core/job"
)

func (s *Service) supervise(j *job.Job) {
	id := j.ID
	s.supervisor.Go(id, func(ctx context.Context) {
		s.run(ctx, id)
	})
}

// run polls the job's engine until the transfer finishes, then hands off to
// the pipeline. It returns when the job is completed or deleted, the engine
// forgets the transfer, or ctx ends.
func (s *Service) run(ctx context.Context, id string) {
	logger := log.With().Str("job_id", id).Logger()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		done, err := s.tick(ctx, id, logger)
		if err != nil {
			logger.Debug().Err(err).Msg("poll tick skipped")
		}
		if done {
			return
		}
	}
}

// tick performs one poll. done reports whether the task should exit.
func (s *Service) tick(ctx context.Context, id string, logger zerolog.Logger) (done bool, err error) {
	j, err := s.jobs.Get(ctx, id)
	if errors.Is(err, job.ErrNotFound) {
		return true, err
	}
	if err != nil {
		return false, err
	}
	if j.Status.Terminal() || !j.HasHandle() {
		return true, nil
	}

	eng, err := s.registry.Get(j.EffectiveEngine)
	if err != nil {
		logger.Error().Err(err).Msg("job engine is not registered")
		return true, err
	}

	start := time.Now()
	st, err := eng.Status(ctx, j.EngineHandle)
	s.metrics.ObservePoll(eng.Name(), time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		s.metrics.EngineError(eng.Name(), "status", err)
		if errors.Is(err, engine.ErrTransferNotFound) {
			logger.Warn().Err(err).Msg("engine no longer knows the transfer, stopping supervision")
			return true, err
		}
		// Inconclusive: keep the record as is and retry next tick.
		logger.Warn().Err(err).Msg("engine status unavailable")
		return false, err
	}

	placed := placedOutside(j, st.Dir)
	u := job.Update{}
	if st.Progress != j.Progress {
		u.Progress = &st.Progress
	}
	if st.Dir != "" && st.Dir != j.SavePath && !placed {
		u.SavePath = &st.Dir
	}

	if st.Finished() {
		return true, s.finish(ctx, j, st, u, placed, logger)
	}

	// A seeding job never goes back to downloading or paused.
	next := j.Status
	if j.Status != job.StatusSeeding {
		next = job.StatusDownloading
		if st.State == engine.StatePaused {
			next = job.StatusPaused
		}
	}
	if next != j.Status {
		u.Status = &next
	}
	if u.Status == nil && u.Progress == nil && u.SavePath == nil {
		return false, nil
	}
	if err := s.jobs.Progress(ctx, j, u); err != nil {
		if errors.Is(err, job.ErrDeleted) {
			return true, err
		}
		return false, err
	}
	return false, nil
}

// finish records the end of the transfer and runs the pipeline in the job's
// own task. Torrent jobs pass through seeding; HTTP jobs go straight to
// completed. A relocation failure leaves the job short of completed.
//
// The library location is stored as soon as the file is moved, and every
// write after the move ignores cancellation, so a shutdown during enrichment
// cannot leave the record pointing at the emptied work dir.
func (s *Service) finish(ctx context.Context, j *job.Job, st engine.Status, u job.Update, placed bool, logger zerolog.Logger) error {
	storeCtx := context.WithoutCancel(ctx)
	if placed {
		logger.Info().Str("save_path", j.SavePath).Msg("media already in the library, completing")
		return s.jobs.Complete(storeCtx, j.ID, "", "")
	}

	u.Progress = &st.Progress
	if j.IsTorrent() && j.Status != job.StatusSeeding {
		seeding := job.StatusSeeding
		u.Status = &seeding
	}
	if err := s.jobs.Progress(ctx, j, u); err != nil {
		return err
	}
	if u.Status != nil {
		j.Status = *u.Status
	}

	workDir := j.SavePath
	if st.Dir != "" {
		workDir = st.Dir
	}
	logger.Info().Str("dir", workDir).Msg("transfer finished, post-processing")

	res, err := s.pipeline.Place(ctx, j, workDir)
	if err != nil {
		logger.Error().Err(err).Msg("post-processing failed, job needs manual attention")
		return err
	}
	if !res.Relocated {
		return s.jobs.Complete(storeCtx, j.ID, "", "")
	}

	if err := s.jobs.Progress(storeCtx, j, job.Update{SavePath: &res.MediaPath, Title: &res.Title}); err != nil {
		return err
	}
	s.pipeline.Enrich(ctx, j, res)
	return s.jobs.Complete(storeCtx, j.ID, res.MediaPath, res.Title)
}

// placedOutside reports whether the recorded save path is a media file that
// already sits outside the engine's working directory, which only happens
// after relocation.
func placedOutside(j *job.Job, workDir string) bool {
	if j.SavePath == "" || workDir == "" || within(workDir, j.SavePath) {
		return false
	}
	info, err := os.Stat(j.SavePath)
	return err == nil && !info.IsDir()
}

func within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
