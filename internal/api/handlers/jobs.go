package handlers

import (
	"context"
	"fmt"

	"github.com/viperadnan-git/medialoader/internal/core/job"
	"github.com/viperadnan-git/medialoader/internal/core/orchestrator"
)

// JobService is the orchestrator surface the transport needs.
type JobService interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*job.Job, error)
	SubmitTorrentFile(ctx context.Context, req orchestrator.TorrentRequest) (*job.Job, error)
	List(ctx context.Context) ([]*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	Control(ctx context.Context, id string, action orchestrator.Action) error
	DeleteContent(ctx context.Context, id string) error
}

type JobsHandler struct {
	svc JobService
}

func NewJobsHandler(svc JobService) *JobsHandler {
	return &JobsHandler{svc: svc}
}

type SubmitInput struct {
	Body struct {
		Source string `json:"source" minLength:"1" doc:"Magnet link or HTTP(S) URL"`
		Engine string `json:"engine,omitempty" doc:"Requested engine (aria2, transmission); HTTP sources always use aria2"`
		Kind   string `json:"kind,omitempty" enum:"movie,tv" doc:"Library section the result goes to"`
	}
}

type JobIDInput struct {
	ID string `path:"id" doc:"Job ID"`
}

type ControlInput struct {
	ID     string `path:"id" doc:"Job ID"`
	Action string `path:"action" enum:"pause,resume,remove" doc:"Control action"`
}

type EmptyInput struct{}

func (h *JobsHandler) Submit(ctx context.Context, input *SubmitInput) (*DataOutput[*job.Job], error) {
	j, err := h.svc.Submit(ctx, orchestrator.SubmitRequest{
		Source: input.Body.Source,
		Engine: input.Body.Engine,
		Kind:   job.Kind(input.Body.Kind),
	})
	if err != nil {
		if j != nil {
			err = fmt.Errorf("job %s: %w", j.ID, err)
		}
		return nil, apiError(err)
	}
	return OK(j), nil
}

func (h *JobsHandler) List(ctx context.Context, _ *EmptyInput) (*DataOutput[[]*job.Job], error) {
	jobs, err := h.svc.List(ctx)
	if err != nil {
		return nil, apiError(err)
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return OK(jobs), nil
}

func (h *JobsHandler) Get(ctx context.Context, input *JobIDInput) (*DataOutput[*job.Job], error) {
	j, err := h.svc.Get(ctx, input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	return OK(j), nil
}

func (h *JobsHandler) Control(ctx context.Context, input *ControlInput) (*MsgOutput, error) {
	action, err := orchestrator.ParseAction(input.Action)
	if err != nil {
		return nil, apiError(err)
	}
	if err := h.svc.Control(ctx, input.ID, action); err != nil {
		return nil, apiError(err)
	}
	return Msg(fmt.Sprintf("%s ok", action)), nil
}

func (h *JobsHandler) Delete(ctx context.Context, input *JobIDInput) (*MsgOutput, error) {
	if err := h.svc.DeleteContent(ctx, input.ID); err != nil {
		return nil, apiError(err)
	}
	return Msg("content deleted"), nil
}
