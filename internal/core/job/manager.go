package job

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/viperadnan-git/medialoader/internal/core/event"
)

// Manager handles job persistence and publishes lifecycle events.
type Manager struct {
	store Store
	bus   event.Bus
}

func NewManager(store Store, bus event.Bus) *Manager {
	return &Manager{store: store, bus: bus}
}

func (m *Manager) Store() Store { return m.store }

func (m *Manager) Create(ctx context.Context, j *Job) error {
	if err := m.store.Create(ctx, j); err != nil {
		return err
	}
	log.Info().Str("job_id", j.ID).Str("source", j.Source).Str("engine", j.RequestedEngine).Msg("job created")
	m.publish(ctx, event.EventJobCreated, j.ID, event.JobEvent{
		Engine: j.RequestedEngine,
		Status: string(j.Status),
	})
	return nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]*Job, error) {
	return m.store.List(ctx, false)
}

// Recoverable returns jobs whose download phase was interrupted.
func (m *Manager) Recoverable(ctx context.Context) ([]*Job, error) {
	return m.store.ListByStatus(ctx, StatusDownloading, StatusPaused, StatusSeeding)
}

func (m *Manager) Dispatched(ctx context.Context, id, engine, handle string) error {
	if err := m.store.SetEngine(ctx, id, engine, handle); err != nil {
		return err
	}
	m.publish(ctx, event.EventJobDispatched, id, event.JobEvent{
		Engine: engine,
		Handle: handle,
		Status: string(StatusDownloading),
	})
	return nil
}

// Progress records a poll tick result. Only status changes are published
// as transitions; plain progress goes out as job.progress.
func (m *Manager) Progress(ctx context.Context, prev *Job, u Update) error {
	if err := m.store.Update(ctx, prev.ID, u); err != nil {
		return err
	}

	payload := event.JobEvent{Engine: prev.EffectiveEngine, Handle: prev.EngineHandle}
	if u.Progress != nil {
		payload.Progress = *u.Progress
	}
	if u.SavePath != nil {
		payload.SavePath = *u.SavePath
	}
	eventType := event.EventJobProgress
	if u.Status != nil {
		payload.Status = string(*u.Status)
		if *u.Status != prev.Status {
			eventType = transitionEvent(*u.Status)
		}
	}
	m.publish(ctx, eventType, prev.ID, payload)
	return nil
}

// Transition moves a job to status and publishes the matching event.
func (m *Manager) Transition(ctx context.Context, id string, status Status) error {
	if err := m.store.Update(ctx, id, Update{Status: &status}); err != nil {
		return err
	}
	m.publish(ctx, transitionEvent(status), id, event.JobEvent{Status: string(status)})
	return nil
}

// Complete stores the post-processing result and marks the job completed.
func (m *Manager) Complete(ctx context.Context, id, savePath, title string) error {
	status := StatusCompleted
	u := Update{Status: &status, Progress: Float64Ptr(100)}
	if savePath != "" {
		u.SavePath = &savePath
	}
	if title != "" {
		u.Title = &title
	}
	if err := m.store.Update(ctx, id, u); err != nil {
		return err
	}
	log.Info().Str("job_id", id).Str("save_path", savePath).Msg("job completed")
	m.publish(ctx, event.EventJobCompleted, id, event.JobEvent{
		Status:   string(status),
		Progress: 100,
		SavePath: savePath,
	})
	return nil
}

func (m *Manager) publish(ctx context.Context, t event.EventType, id string, payload event.JobEvent) {
	payload.JobID = id
	m.bus.Publish(ctx, event.Event{Type: t, Payload: payload})
}

func transitionEvent(s Status) event.EventType {
	switch s {
	case StatusPaused:
		return event.EventJobPaused
	case StatusDownloading:
		return event.EventJobResumed
	case StatusSeeding:
		return event.EventJobTransferDone
	case StatusCompleted:
		return event.EventJobCompleted
	case StatusDeleted:
		return event.EventJobDeleted
	}
	return event.EventJobProgress
}
