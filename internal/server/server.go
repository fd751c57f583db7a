// Package server wires configuration into a running medialoader instance.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/viperadnan-git/medialoader/internal/api"
	"github.com/viperadnan-git/medialoader/internal/config"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
	"github.com/viperadnan-git/medialoader/internal/core/engine/aria2"
	"github.com/viperadnan-git/medialoader/internal/core/engine/transmission"
	"github.com/viperadnan-git/medialoader/internal/core/event"
	"github.com/viperadnan-git/medialoader/internal/core/job"
	"github.com/viperadnan-git/medialoader/internal/core/orchestrator"
	"github.com/viperadnan-git/medialoader/internal/core/postprocess"
	"github.com/viperadnan-git/medialoader/internal/core/process"
	"github.com/viperadnan-git/medialoader/internal/core/statusloop"
	"github.com/viperadnan-git/medialoader/internal/database"
	"github.com/viperadnan-git/medialoader/internal/metrics"
	"github.com/viperadnan-git/medialoader/internal/services/jellyfin"
	"github.com/viperadnan-git/medialoader/internal/services/opensubtitles"
	"github.com/viperadnan-git/medialoader/internal/services/tmdb"
)

// ErrLocked means another instance already owns the data directory.
var ErrLocked = errors.New("another medialoader instance is running")

// Store is an open job store plus the function that releases it.
type Store struct {
	job.Store
	Close func()
}

// OpenStore connects to the configured database, applies pending migrations
// and returns the matching job store.
func OpenStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, fmt.Errorf("database connect: %w", err)
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return &Store{Store: job.NewPostgresStore(pool), Close: pool.Close}, nil
	default:
		db, err := database.OpenSQLite(ctx, cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateSQLite(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return &Store{Store: job.NewSQLiteStore(db), Close: func() { _ = db.Close() }}, nil
	}
}

// OpenDB opens the raw database handle for maintenance commands. Exactly one
// of the returned handles is non-nil.
func OpenDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, *sql.DB, error) {
	if cfg.Database.Driver == "postgres" {
		pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		return pool, nil, err
	}
	db, err := database.OpenSQLite(ctx, cfg.Database.Path)
	return nil, db, err
}

// Run starts every component and blocks until SIGINT/SIGTERM or ctx ends.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.DataDir, "medialoader.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	defer func() { _ = lock.Unlock() }()

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := event.NewBus()
	defer m.Subscribe(bus)()
	jobs := job.NewManager(store, bus)

	registry := engine.NewRegistry()
	procMgr := process.NewManager()
	registerEngines(ctx, cfg, registry, procMgr)
	if len(registry.List()) == 0 {
		return errors.New("no engine could be initialised")
	}
	if err := procMgr.StartAll(ctx); err != nil {
		log.Warn().Err(err).Msg("process manager start (some daemons may not be available)")
	}

	pipeline := postprocess.NewPipeline(
		postprocess.Layout{Root: cfg.Library.MediaRoot, MoviesDir: cfg.Library.MoviesDir, TVDir: cfg.Library.TVDir},
		cfg.Library.VideoExtensions,
		enrichment(cfg, bus),
	)

	svc := orchestrator.New(registry, jobs, pipeline, m, orchestrator.Config{
		PollInterval: cfg.PollInterval(),
	})
	if err := svc.Start(ctx); err != nil {
		return err
	}

	broadcaster := statusloop.New(jobs, registry, cfg.BroadcastInterval(), m)
	defer broadcaster.Watch(bus)()

	loopCtx, loopCancel := context.WithCancel(ctx)
	defer loopCancel()
	go broadcaster.Run(loopCtx)
	go procMgr.Watch(loopCtx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupRouter(e, api.RouterConfig{
		Jobs:     svc,
		Feed:     broadcaster,
		Registry: registry,
		Gatherer: reg,
		Version:  version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	serveErr := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	log.Info().Str("addr", addr).Strs("engines", registry.List()).Str("version", version).Msg("medialoader started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
	case <-ctx.Done():
	case runErr = <-serveErr:
		log.Error().Err(runErr).Msg("HTTP server failed")
	}

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	loopCancel()
	svc.Shutdown()
	if err := procMgr.StopAll(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("daemon shutdown error")
	}
	return runErr
}

func registerEngines(ctx context.Context, cfg *config.Config, registry *engine.Registry, procMgr *process.Manager) {
	if c := cfg.Engines.Aria2; c.Enabled {
		var trackers []string
		if c.Trackers {
			trackers = aria2.FetchTrackers(ctx, aria2.TrackersURL)
		}
		eng, err := aria2.New(aria2.Config{
			RPCURL:      c.RPCURL,
			RPCSecret:   c.RPCSecret,
			DownloadDir: c.DownloadDir,
			RPCPort:     c.RPCPort,
			Trackers:    trackers,
		})
		if err != nil {
			log.Warn().Err(err).Msg("aria2 engine init failed")
		} else {
			registry.Register(eng)
			if c.Managed {
				procMgr.Register(eng.Daemon())
			}
			log.Info().Bool("managed", c.Managed).Int("trackers", len(trackers)).Msg("aria2 engine registered")
		}
	}

	if c := cfg.Engines.Transmission; c.Enabled {
		eng, err := transmission.New(transmission.Config{
			RPCURL:      c.RPCURL,
			Username:    c.Username,
			Password:    c.Password,
			DownloadDir: c.DownloadDir,
		})
		if err != nil {
			log.Warn().Err(err).Msg("transmission engine init failed")
		} else {
			registry.Register(eng)
			log.Info().Msg("transmission engine registered")
		}
	}
}

// enrichment builds the optional post-processing collaborators. A provider
// that is disabled or missing credentials is left out.
func enrichment(cfg *config.Config, bus event.Bus) postprocess.Options {
	opts := postprocess.Options{Bus: bus}

	if cfg.TMDB.Enabled && cfg.TMDB.APIToken != "" {
		c, err := tmdb.New(cfg.TMDB.APIToken, cfg.TMDB.BaseURL, cfg.TMDB.ImageBaseURL, tmdb.WithImageSize(cfg.TMDB.ImageSize))
		if err != nil {
			log.Warn().Err(err).Msg("tmdb disabled")
		} else {
			opts.Posters = c
		}
	}

	if cfg.Subtitles.Enabled && cfg.Subtitles.APIKey != "" {
		c, err := opensubtitles.New(cfg.Subtitles.APIKey, cfg.Subtitles.UserAgent, cfg.Subtitles.BaseURL,
			opensubtitles.WithLanguage(cfg.Subtitles.Language))
		if err != nil {
			log.Warn().Err(err).Msg("subtitles disabled")
		} else {
			opts.Subtitles = c
		}
	}

	if cfg.Jellyfin.Enabled && cfg.Jellyfin.URL != "" {
		c, err := jellyfin.New(cfg.Jellyfin.URL, cfg.Jellyfin.Token, nil)
		if err != nil {
			log.Warn().Err(err).Msg("jellyfin refresh disabled")
		} else {
			opts.Library = c
		}
	}

	log.Debug().
		Bool("posters", opts.Posters != nil).
		Bool("subtitles", opts.Subtitles != nil).
		Bool("library_refresh", opts.Library != nil).
		Msg("enrichment configured")
	return opts
}
