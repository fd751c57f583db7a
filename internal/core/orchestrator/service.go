// Package orchestrator drives jobs from submission through download and
// post-processing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
	"github.com/viperadnan-git/medialoader/internal/core/job"
	"github.com/viperadnan-git/medialoader/internal/core/postprocess"
	"github.com/viperadnan-git/medialoader/internal/core/util"
	"github.com/viperadnan-git/medialoader/internal/metrics"
)

var (
	// ErrDispatch means the engine rejected a submission. The job stays in
	// starting.
	ErrDispatch      = errors.New("dispatch failed")
	ErrInvalidSource = errors.New("invalid source")
	ErrInvalidAction = errors.New("invalid action")
)

const dispatchTimeout = 30 * time.Second

// Processor is the post-download pipeline. Place moves the media into the
// library; Enrich runs the best-effort steps afterwards.
type Processor interface {
	Place(ctx context.Context, j *job.Job, workDir string) (postprocess.Result, error)
	Enrich(ctx context.Context, j *job.Job, res postprocess.Result)
}

type Config struct {
	PollInterval  time.Duration
	DefaultEngine string
}

type Service struct {
	registry   *engine.Registry
	jobs       *job.Manager
	pipeline   Processor
	metrics    *metrics.Metrics
	supervisor *Supervisor
	interval   time.Duration
	defEngine  string
	newID      func() string
}

func New(registry *engine.Registry, jobs *job.Manager, pipeline Processor, m *metrics.Metrics, cfg Config) *Service {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	defEngine := cfg.DefaultEngine
	if defEngine == "" {
		if names := registry.List(); len(names) > 0 {
			defEngine = names[0]
		}
	}
	return &Service{
		registry:   registry,
		jobs:       jobs,
		pipeline:   pipeline,
		metrics:    m,
		supervisor: NewSupervisor(m.SetSupervised),
		interval:   interval,
		defEngine:  defEngine,
		newID:      uuid.NewString,
	}
}

func (s *Service) Supervisor() *Supervisor { return s.supervisor }

type SubmitRequest struct {
	Source string
	Engine string
	Kind   job.Kind
}

type TorrentRequest struct {
	Filename string
	Data     []byte
	Engine   string
	Kind     job.Kind
}

// Submit creates a job for a magnet or HTTP(S) source and dispatches it.
// HTTP sources always go to the HTTP-capable engine, whatever was requested.
// On dispatch failure the created job is returned along with an ErrDispatch
// error.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*job.Job, error) {
	source := strings.TrimSpace(req.Source)
	if engine.ClassifySource(source) == engine.SourceUnknown {
		return nil, fmt.Errorf("%w: expected a magnet link or http(s) url", ErrInvalidSource)
	}
	kind, err := validKind(req.Kind)
	if err != nil {
		return nil, err
	}
	requested := s.requested(req.Engine)
	eng, err := s.registry.Route(source, requested)
	if err != nil {
		return nil, err
	}

	j := &job.Job{
		ID:              s.newID(),
		Source:          source,
		RequestedEngine: requested,
		Kind:            kind,
		Status:          job.StatusStarting,
		Title:           util.MagnetName(source),
	}
	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	return s.dispatch(ctx, j, eng, func(ctx context.Context) (string, error) {
		return eng.SubmitURI(ctx, engine.SubmitRequest{JobID: j.ID, URI: source})
	})
}

// SubmitTorrentFile creates a job from uploaded .torrent contents. The job's
// source is the equivalent magnet link and its note records the file name.
func (s *Service) SubmitTorrentFile(ctx context.Context, req TorrentRequest) (*job.Job, error) {
	meta, err := util.ParseTorrent(req.Data)
	if err != nil {
		return nil, err
	}
	kind, err := validKind(req.Kind)
	if err != nil {
		return nil, err
	}
	requested := s.requested(req.Engine)
	eng, err := s.registry.RouteTorrent(requested)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(req.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		filename = meta.Name + ".torrent"
	}
	j := &job.Job{
		ID:              s.newID(),
		Source:          meta.Magnet(),
		RequestedEngine: requested,
		Kind:            kind,
		Status:          job.StatusStarting,
		Title:           meta.Name,
		Note:            job.TorrentNotePrefix + filename,
	}
	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	return s.dispatch(ctx, j, eng, func(ctx context.Context) (string, error) {
		return eng.SubmitTorrent(ctx, engine.SubmitRequest{JobID: j.ID, Data: req.Data})
	})
}

func (s *Service) requested(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return s.defEngine
	}
	return name
}

func validKind(k job.Kind) (job.Kind, error) {
	if k == "" {
		return job.KindMovie, nil
	}
	return job.ParseKind(string(k))
}

// dispatch hands the job to eng exactly once and starts its task.
func (s *Service) dispatch(ctx context.Context, j *job.Job, eng engine.Engine, submit func(context.Context) (string, error)) (*job.Job, error) {
	// The engine may accept the transfer even if the caller goes away.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	handle, err := submit(dctx)
	if err != nil {
		s.metrics.EngineError(eng.Name(), "submit", err)
		log.Warn().Err(err).Str("job_id", j.ID).Str("engine", eng.Name()).Msg("dispatch failed")
		return j, fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	if err := s.jobs.Dispatched(dctx, j.ID, eng.Name(), handle); err != nil {
		return j, fmt.Errorf("record dispatch: %w", err)
	}

	j.EffectiveEngine = eng.Name()
	j.EngineHandle = handle
	j.Status = job.StatusDownloading
	log.Info().Str("job_id", j.ID).Str("engine", eng.Name()).Str("handle", handle).Msg("job dispatched")

	s.supervise(j)
	return j, nil
}

func (s *Service) List(ctx context.Context) ([]*job.Job, error) {
	return s.jobs.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*job.Job, error) {
	return s.jobs.Get(ctx, id)
}

type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionRemove Action = "remove"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionPause, ActionResume, ActionRemove:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// controllable loads a job that has been handed to an engine.
func (s *Service) controllable(ctx context.Context, id string) (*job.Job, engine.Engine, error) {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if j.Status == job.StatusDeleted {
		return nil, nil, job.ErrDeleted
	}
	if !j.HasHandle() {
		return nil, nil, job.ErrNotReady
	}
	eng, err := s.registry.Get(j.EffectiveEngine)
	if err != nil {
		return nil, nil, err
	}
	return j, eng, nil
}

// Control forwards pause, resume or remove to the job's engine. Pause sets
// paused locally only for a downloading job; resume restores downloading only
// when the job was paused. Other statuses keep their value. Remove marks the
// job deleted even when the engine call fails, in which case the engine error
// is returned. A transfer the engine no longer knows counts as removed.
func (s *Service) Control(ctx context.Context, id string, action Action) error {
	j, eng, err := s.controllable(ctx, id)
	if err != nil {
		return err
	}
	logger := log.With().Str("job_id", id).Str("engine", eng.Name()).Str("action", string(action)).Logger()

	switch action {
	case ActionPause:
		if err := eng.Pause(ctx, j.EngineHandle); err != nil {
			s.metrics.EngineError(eng.Name(), "pause", err)
			return fmt.Errorf("pause: %w", err)
		}
		if j.Status != job.StatusDownloading {
			return nil
		}
		return s.jobs.Transition(ctx, id, job.StatusPaused)

	case ActionResume:
		if err := eng.Resume(ctx, j.EngineHandle); err != nil {
			s.metrics.EngineError(eng.Name(), "resume", err)
			return fmt.Errorf("resume: %w", err)
		}
		if j.Status != job.StatusPaused {
			return nil
		}
		return s.jobs.Transition(ctx, id, job.StatusDownloading)

	case ActionRemove:
		engErr := eng.Remove(ctx, j.EngineHandle, true)
		if errors.Is(engErr, engine.ErrTransferNotFound) {
			logger.Debug().Err(engErr).Msg("transfer already gone from engine")
			engErr = nil
		}
		if engErr != nil {
			s.metrics.EngineError(eng.Name(), "remove", engErr)
			logger.Warn().Err(engErr).Msg("engine remove failed, marking job deleted anyway")
		}
		if err := s.markDeleted(ctx, id); err != nil {
			return err
		}
		if engErr != nil {
			return fmt.Errorf("remove: %w", engErr)
		}
		logger.Info().Msg("job removed")
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidAction, action)
}

func (s *Service) markDeleted(ctx context.Context, id string) error {
	err := s.jobs.Transition(ctx, id, job.StatusDeleted)
	s.supervisor.Cancel(id)
	if errors.Is(err, job.ErrDeleted) {
		return nil
	}
	return err
}

// DeleteContent removes the job's files from disk and marks it deleted. A
// save path that no longer exists is not an error. An active transfer is
// removed from its engine with its data; a completed one is only unregistered,
// since its media has moved into the library.
func (s *Service) DeleteContent(ctx context.Context, id string) error {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if !j.HasHandle() {
		return job.ErrNotReady
	}

	if j.Status != job.StatusDeleted {
		if eng, err := s.registry.Get(j.EffectiveEngine); err == nil {
			deleteData := j.Status != job.StatusCompleted
			if err := eng.Remove(ctx, j.EngineHandle, deleteData); err != nil && !errors.Is(err, engine.ErrTransferNotFound) {
				s.metrics.EngineError(eng.Name(), "remove", err)
				log.Warn().Err(err).Str("job_id", id).Msg("engine remove failed during delete")
			}
		}
	}

	if err := removeContent(j.SavePath); err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	if err := s.markDeleted(ctx, id); err != nil {
		return err
	}
	log.Info().Str("job_id", id).Str("save_path", j.SavePath).Msg("job content deleted")
	return nil
}

// removeContent deletes path. For a media file its subtitle sidecars go too,
// and the containing folder is pruned when left empty.
func removeContent(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.RemoveAll(path)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	sidecars, _ := filepath.Glob(escapeGlob(base) + ".*.srt")
	for _, sc := range sidecars {
		_ = os.Remove(sc)
	}
	// Remove fails on a non-empty directory, which is what we want.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

// Start resumes supervision of jobs whose download phase was interrupted by
// a restart.
func (s *Service) Start(ctx context.Context) error {
	jobs, err := s.jobs.Recoverable(ctx)
	if err != nil {
		return fmt.Errorf("load recoverable jobs: %w", err)
	}
	for _, j := range jobs {
		if !j.HasHandle() {
			continue
		}
		if _, err := s.registry.Get(j.EffectiveEngine); err != nil {
			log.Warn().Str("job_id", j.ID).Str("engine", j.EffectiveEngine).Msg("engine not configured, job not recovered")
			continue
		}
		log.Info().Str("job_id", j.ID).Str("status", string(j.Status)).Msg("recovering job")
		s.supervise(j)
	}
	return nil
}

// Shutdown stops every job task and waits for them to return.
func (s *Service) Shutdown() {
	s.supervisor.Shutdown()
}
