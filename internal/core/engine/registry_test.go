package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	name string
	caps Capabilities
}

func (s stubEngine) Name() string                                                 { return s.name }
func (s stubEngine) Capabilities() Capabilities                                   { return s.caps }
func (s stubEngine) Health(context.Context) HealthStatus                          { return HealthStatus{OK: true} }
func (s stubEngine) SubmitURI(context.Context, SubmitRequest) (string, error)     { return "", nil }
func (s stubEngine) SubmitTorrent(context.Context, SubmitRequest) (string, error) { return "", nil }
func (s stubEngine) Status(context.Context, string) (Status, error)               { return Status{}, nil }
func (s stubEngine) Pause(context.Context, string) error                          { return nil }
func (s stubEngine) Resume(context.Context, string) error                         { return nil }
func (s stubEngine) Remove(context.Context, string, bool) error                   { return nil }

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(stubEngine{name: "aria2", caps: Capabilities{AcceptsHTTP: true, AcceptsMagnet: true, AcceptsTorrent: true}})
	r.Register(stubEngine{name: "transmission", caps: Capabilities{AcceptsMagnet: true, AcceptsTorrent: true}})
	return r
}

func TestRouteForcesHTTPToURIEngine(t *testing.T) {
	r := newTestRegistry()

	e, err := r.Route("https://example.com/movie.mp4", "transmission")
	require.NoError(t, err)
	assert.Equal(t, "aria2", e.Name())

	e, err = r.Route("HTTP://example.com/show.mkv", "")
	require.NoError(t, err)
	assert.Equal(t, "aria2", e.Name())
}

func TestRouteMagnetHonoursRequest(t *testing.T) {
	r := newTestRegistry()

	e, err := r.Route("magnet:?xt=urn:btih:abc", "transmission")
	require.NoError(t, err)
	assert.Equal(t, "transmission", e.Name())

	e, err = r.Route("magnet:?xt=urn:btih:abc", "aria2")
	require.NoError(t, err)
	assert.Equal(t, "aria2", e.Name())

	_, err = r.Route("magnet:?xt=urn:btih:abc", "qbit")
	assert.Error(t, err)
}

func TestRouteRejectsUnknownSources(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Route("ftp://example.com/file", "aria2")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRouteHTTPWithoutCapableEngine(t *testing.T) {
	r := NewRegistry()
	r.Register(stubEngine{name: "transmission", caps: Capabilities{AcceptsMagnet: true, AcceptsTorrent: true}})
	_, err := r.Route("https://example.com/a.mp4", "transmission")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRouteTorrent(t *testing.T) {
	r := newTestRegistry()
	e, err := r.RouteTorrent("transmission")
	require.NoError(t, err)
	assert.Equal(t, "transmission", e.Name())

	_, err = r.RouteTorrent("missing")
	assert.Error(t, err)
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	assert.Equal(t, []string{"aria2", "transmission"}, newTestRegistry().List())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(0, 0))
	assert.Equal(t, 0.0, Percent(500, 0))
	assert.Equal(t, 50.0, Percent(50, 100))
	assert.Equal(t, 100.0, Percent(150, 100))
	assert.Equal(t, 0.0, ClampPercent(-3))
	assert.Equal(t, 0.0, ClampPercent(math.NaN()))
}

func TestStatusFinished(t *testing.T) {
	assert.True(t, Status{State: StateComplete}.Finished())
	assert.True(t, Status{State: StateSeeding}.Finished())
	assert.False(t, Status{State: StatePaused}.Finished())
	assert.False(t, Status{State: StateDownloading}.Finished())
}
