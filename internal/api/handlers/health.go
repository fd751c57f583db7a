package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
)

const healthTimeout = 3 * time.Second

type EngineHealth struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type HealthBody struct {
	Status  string                  `json:"status"`
	Engines map[string]EngineHealth `json:"engines"`
}

// Health probes every registered engine in parallel. The endpoint itself
// always answers 200; status is "degraded" when an engine is down.
func Health(registry *engine.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		body := HealthBody{Status: "ok", Engines: map[string]EngineHealth{}}
		if registry == nil {
			return c.JSON(http.StatusOK, body)
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, name := range registry.List() {
			eng, err := registry.Get(name)
			if err != nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				h := eng.Health(ctx)
				mu.Lock()
				defer mu.Unlock()
				body.Engines[name] = EngineHealth{OK: h.OK, Message: h.Message, LatencyMS: h.Latency.Milliseconds()}
				if !h.OK {
					body.Status = "degraded"
				}
			}()
		}
		wg.Wait()
		return c.JSON(http.StatusOK, body)
	}
}
