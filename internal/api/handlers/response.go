package handlers

import (
	"errors"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
	"github.com/viperadnan-git/medialoader/internal/core/job"
	"github.com/viperadnan-git/medialoader/internal/core/orchestrator"
	"github.com/viperadnan-git/medialoader/internal/core/util"
)

// APIError is the custom error type for all API error responses.
// Implements huma.StatusError so huma serializes it as the response body.
type APIError struct {
	status  int
	Success bool   `json:"success"`
	Err     string `json:"error"`
}

func (e *APIError) Error() string  { return e.Err }
func (e *APIError) GetStatus() int { return e.status }

// InitErrors overrides huma's default error factory so all error responses
// use the unified {success, error} format.
func InitErrors() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		detail := msg
		if len(errs) > 0 {
			parts := make([]string, len(errs))
			for i, e := range errs {
				parts[i] = e.Error()
			}
			detail = msg + ": " + strings.Join(parts, "; ")
		}
		return &APIError{status: status, Success: false, Err: detail}
	}
}

// DataBody is the success response body containing data.
type DataBody[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

// DataOutput is the huma output wrapper for data responses.
type DataOutput[T any] struct {
	Body DataBody[T]
}

func OK[T any](data T) *DataOutput[T] {
	return &DataOutput[T]{Body: DataBody[T]{Success: true, Data: data}}
}

type MsgBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type MsgOutput struct {
	Body MsgBody
}

func Msg(message string) *MsgOutput {
	return &MsgOutput{Body: MsgBody{Success: true, Message: message}}
}

// StatusFor maps a core error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrNotFound), errors.Is(err, job.ErrNotReady):
		return 404
	case errors.Is(err, job.ErrDeleted), errors.Is(err, job.ErrHandleAlreadySet):
		return 409
	case errors.Is(err, orchestrator.ErrDispatch), errors.Is(err, engine.ErrUnavailable):
		return 502
	case errors.Is(err, orchestrator.ErrInvalidSource),
		errors.Is(err, orchestrator.ErrInvalidAction),
		errors.Is(err, engine.ErrUnknownEngine),
		errors.Is(err, engine.ErrUnsupported),
		errors.Is(err, job.ErrInvalidKind),
		errors.Is(err, util.ErrInvalidTorrent):
		return 400
	}
	return 500
}

// apiError converts a core error into the huma error for its status.
func apiError(err error) error {
	return huma.NewError(StatusFor(err), err.Error())
}
