package job

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusStarting    Status = "starting"
	StatusDownloading Status = "downloading"
	StatusSeeding     Status = "seeding"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusDeleted     Status = "deleted"
)

// Terminal reports whether the poll loop is finished with a job in this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeleted
}

type Kind string

const (
	KindMovie Kind = "movie"
	KindTV    Kind = "tv"
)

var ErrInvalidKind = errors.New("unknown kind")

// ParseKind accepts the canonical kinds plus the plural folder names.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return KindMovie, nil
	case "tv", "tvshows", "show", "shows":
		return KindTV, nil
	}
	return "", fmt.Errorf("%w %q", ErrInvalidKind, s)
}

// TorrentNotePrefix marks jobs that were submitted as an uploaded .torrent file.
const TorrentNotePrefix = "torrent-file:"

type Job struct {
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	RequestedEngine string    `json:"requested_engine"`
	EffectiveEngine string    `json:"effective_engine,omitempty"`
	Kind            Kind      `json:"kind"`
	Status          Status    `json:"status"`
	Progress        float64   `json:"progress"`
	EngineHandle    string    `json:"engine_handle,omitempty"`
	SavePath        string    `json:"save_path,omitempty"`
	Title           string    `json:"title,omitempty"`
	Note            string    `json:"note,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (j *Job) HasHandle() bool { return j.EngineHandle != "" }

// TorrentFileName returns the uploaded file name for torrent-file submissions.
func (j *Job) TorrentFileName() (string, bool) {
	if !strings.HasPrefix(j.Note, TorrentNotePrefix) {
		return "", false
	}
	return strings.TrimPrefix(j.Note, TorrentNotePrefix), true
}

// IsTorrent reports whether the job has a seeding phase: magnet links and
// uploaded torrent files do, plain HTTP downloads do not.
func (j *Job) IsTorrent() bool {
	if _, ok := j.TorrentFileName(); ok {
		return true
	}
	return strings.HasPrefix(strings.ToLower(j.Source), "magnet:")
}

// Active reports whether the engine still owns a live transfer for the job.
func (j *Job) Active() bool {
	switch j.Status {
	case StatusDownloading, StatusPaused, StatusSeeding:
		return j.HasHandle()
	}
	return false
}

// Update carries the optional fields of a job write. Nil fields are left
// untouched.
type Update struct {
	Status   *Status
	Progress *float64
	SavePath *string
	Title    *string
}

func (u Update) empty() bool {
	return u.Status == nil && u.Progress == nil && u.SavePath == nil && u.Title == nil
}

func StatusPtr(s Status) *Status    { return &s }
func Float64Ptr(f float64) *float64 { return &f }
func StringPtr(s string) *string    { return &s }
