package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viperadnan-git/medialoader/internal/api/handlers"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
)

type RouterConfig struct {
	Jobs     handlers.JobService
	Feed     handlers.Streamer
	Registry *engine.Registry
	Gatherer prometheus.Gatherer
	Version  string
}

func SetupRouter(e *echo.Echo, cfg RouterConfig) {
	handlers.InitErrors()

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE"},
	}))

	e.GET("/health", handlers.Health(cfg.Registry))
	if cfg.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	if cfg.Feed != nil {
		e.GET("/ws", handlers.NewStreamHandler(cfg.Feed).Serve)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	v1 := e.Group("/api/v1")
	config := huma.DefaultConfig("medialoader API", version)
	config.Servers = []*huma.Server{{URL: "/api/v1"}}
	config.Info.Description = "Media acquisition job orchestration"
	api := humaecho.NewWithGroup(e, v1, config)

	jobsHandler := handlers.NewJobsHandler(cfg.Jobs)

	// Multipart upload stays on plain echo.
	v1.POST("/jobs/torrent", jobsHandler.UploadTorrent)

	huma.Register(api, huma.Operation{
		OperationID:   "jobs-submit",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Submit a magnet link or URL",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusCreated,
	}, jobsHandler.Submit)

	huma.Register(api, huma.Operation{
		OperationID: "jobs-list",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Tags:        []string{"Jobs"},
	}, jobsHandler.List)

	huma.Register(api, huma.Operation{
		OperationID: "jobs-get",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get a job",
		Tags:        []string{"Jobs"},
	}, jobsHandler.Get)

	huma.Register(api, huma.Operation{
		OperationID: "jobs-control",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/{action}",
		Summary:     "Pause, resume or remove a job",
		Tags:        []string{"Jobs"},
	}, jobsHandler.Control)

	huma.Register(api, huma.Operation{
		OperationID: "jobs-delete",
		Method:      http.MethodDelete,
		Path:        "/jobs/{id}",
		Summary:     "Delete a job's files",
		Tags:        []string{"Jobs"},
	}, jobsHandler.Delete)
}
