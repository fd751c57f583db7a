package engine

import (
	"context"
	"errors"
	"time"

	"github.com/viperadnan-git/medialoader/internal/core/process"
)

var (
	// ErrUnavailable wraps transport failures and malformed engine replies.
	// Poll loops treat it as an inconclusive tick.
	ErrUnavailable = errors.New("engine unavailable")
	// ErrTransferNotFound means the engine no longer knows the handle.
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrUnsupported means the engine cannot accept this kind of source.
	ErrUnsupported = errors.New("source not supported by engine")
)

// Engine is the capability set every download back-end exposes.
type Engine interface {
	Name() string
	Capabilities() Capabilities
	Health(ctx context.Context) HealthStatus

	// SubmitURI accepts magnet: URIs and, when AcceptsHTTP, plain HTTP(S) URLs.
	SubmitURI(ctx context.Context, req SubmitRequest) (string, error)
	// SubmitTorrent accepts raw .torrent file contents.
	SubmitTorrent(ctx context.Context, req SubmitRequest) (string, error)

	Status(ctx context.Context, handle string) (Status, error)
	Pause(ctx context.Context, handle string) error
	Resume(ctx context.Context, handle string) error
	Remove(ctx context.Context, handle string, deleteData bool) error
}

// BatchStatuser is implemented by engines that can answer for many handles
// in one round-trip. Handles the engine does not know are absent from the map.
type BatchStatuser interface {
	BatchStatus(ctx context.Context, handles []string) (map[string]Status, error)
}

// DaemonEngine is an optional interface engines can implement when they
// require an external daemon process (e.g. aria2c).
type DaemonEngine interface {
	Engine
	Daemon() process.Daemon
}

type Capabilities struct {
	AcceptsHTTP    bool
	AcceptsMagnet  bool
	AcceptsTorrent bool
}

type SubmitRequest struct {
	JobID string // used as the per-job working directory name
	URI   string
	Data  []byte
}

type State string

const (
	StateDownloading State = "downloading"
	StateSeeding     State = "seeding"
	StatePaused      State = "paused"
	StateComplete    State = "complete"
)

// Status is the normalized view of one transfer.
type Status struct {
	State    State
	Progress float64 // percent, [0,100]
	Dir      string
	Speed    int64 // bytes/sec
	Name     string
}

// Finished reports whether the transfer itself is done, whether or not the
// engine keeps seeding it.
func (s Status) Finished() bool {
	return s.State == StateComplete || s.State == StateSeeding
}

// Percent converts a byte count to a clamped percentage. An unknown total is
// treated as one byte so an empty transfer reads 0%.
func Percent(completed, total int64) float64 {
	if total <= 0 {
		total = 1
		completed = 0
	}
	return ClampPercent(float64(completed) / float64(total) * 100)
}

func ClampPercent(p float64) float64 {
	switch {
	case p < 0 || p != p:
		return 0
	case p > 100:
		return 100
	}
	return p
}

type HealthStatus struct {
	OK      bool
	Message string
	Latency time.Duration
}
