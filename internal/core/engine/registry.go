package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrUnknownEngine = errors.New("unknown engine")

type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceMagnet
	SourceHTTP
)

// ClassifySource reports what kind of URI a submission carries.
func ClassifySource(source string) SourceKind {
	s := strings.ToLower(strings.TrimSpace(source))
	switch {
	case strings.HasPrefix(s, "magnet:"):
		return SourceMagnet
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return SourceHTTP
	}
	return SourceUnknown
}

// Registry manages registered engines by name.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Engine),
	}
}

func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[e.Name()]; !ok {
		r.order = append(r.order, e.Name())
	}
	r.engines[e.Name()] = e
}

func (r *Registry) Get(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return e, nil
}

// List returns engine names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Route picks the engine for a URI submission. HTTP(S) sources always go to
// the first URI-capable engine regardless of the request; magnets go to the
// requested engine.
func (r *Registry) Route(source, requested string) (Engine, error) {
	switch ClassifySource(source) {
	case SourceHTTP:
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, name := range r.order {
			if e := r.engines[name]; e.Capabilities().AcceptsHTTP {
				return e, nil
			}
		}
		return nil, fmt.Errorf("no engine accepts http sources: %w", ErrUnsupported)
	case SourceMagnet:
		e, err := r.Get(requested)
		if err != nil {
			return nil, err
		}
		if !e.Capabilities().AcceptsMagnet {
			return nil, fmt.Errorf("engine %q does not accept magnets: %w", requested, ErrUnsupported)
		}
		return e, nil
	}
	return nil, fmt.Errorf("unrecognised source %q: %w", source, ErrUnsupported)
}

// RouteTorrent picks the engine for an uploaded .torrent file: always the
// requested one.
func (r *Registry) RouteTorrent(requested string) (Engine, error) {
	e, err := r.Get(requested)
	if err != nil {
		return nil, err
	}
	if !e.Capabilities().AcceptsTorrent {
		return nil, fmt.Errorf("engine %q does not accept torrent files: %w", requested, ErrUnsupported)
	}
	return e, nil
}
