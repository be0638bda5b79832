// Package httpapi exposes the control API: settings read/update/reset,
// metrics and status pulls, and the websocket telemetry stream.
//
// The API never touches the processing path directly — settings changes go
// through publish-by-replacement on the engine and metrics reads come from
// the telemetry publisher's latest snapshot.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"ducker/internal/engine"
	"ducker/internal/settings"
	"ducker/internal/store"
	"ducker/internal/telemetry"
	"ducker/internal/wshub"
)

// Server is the Echo application.
type Server struct {
	echo    *echo.Echo
	engine  *engine.Engine
	store   *store.Store
	pub     *telemetry.Publisher
	version string

	// settingsMu serializes read-apply-publish across control requests so
	// two concurrent partial updates cannot both start from the same base
	// document and have the later one revert the earlier one's fields.
	settingsMu sync.Mutex
}

// New constructs the Echo app and registers all routes. st may be nil, in
// which case settings changes apply but are not persisted.
func New(eng *engine.Engine, st *store.Store, pub *telemetry.Publisher, hub *wshub.Hub, version string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("api request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	s := &Server{echo: e, engine: eng, store: st, pub: pub, version: version}
	s.registerRoutes(hub)
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes(hub *wshub.Hub) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/settings", s.handleGetSettings)
	s.echo.PUT("/api/settings", s.handleUpdateSettings)
	s.echo.POST("/api/settings", s.handleUpdateSettings) // legacy verb
	s.echo.POST("/api/settings/reset", s.handleResetSettings)
	s.echo.GET("/api/metrics", s.handleMetrics)
	s.echo.GET("/api/status", s.handleStatus)
	if hub != nil {
		hub.Register(s.echo)
	}
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Running: s.engine.Running(),
	})
}

func (s *Server) handleGetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Settings())
}

// updateResponse reports the outcome of a partial settings update. Rejected
// fields keep their previous value; the update is applied field by field,
// never all-or-nothing.
type updateResponse struct {
	Status   string            `json:"status"`
	Applied  []string          `json:"applied"`
	Rejected map[string]string `json:"rejected,omitempty"`
	Settings settings.Settings `json:"settings"`
}

func (s *Server) handleUpdateSettings(c echo.Context) error {
	var fields map[string]any
	if err := c.Bind(&fields); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request body must be a JSON object")
	}
	if len(fields) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no fields to update")
	}

	s.settingsMu.Lock()
	next, applied, rejected := settings.Apply(s.engine.Settings(), fields)
	if len(applied) > 0 {
		s.engine.UpdateSettings(next)
		if err := s.persist(c.Request().Context(), next); err != nil {
			slog.Error("persist settings", "err", err)
		}
	}
	s.settingsMu.Unlock()

	status := "success"
	code := http.StatusOK
	if len(applied) == 0 {
		status = "rejected"
		code = http.StatusBadRequest
	} else if len(rejected) > 0 {
		status = "partial"
	}
	if applied == nil {
		applied = []string{}
	}
	return c.JSON(code, updateResponse{
		Status:   status,
		Applied:  applied,
		Rejected: rejected,
		Settings: next,
	})
}

func (s *Server) handleResetSettings(c echo.Context) error {
	def := settings.Default()
	s.settingsMu.Lock()
	s.engine.UpdateSettings(def)
	if s.store != nil {
		ctx := c.Request().Context()
		if err := s.store.ClearSettings(ctx); err != nil {
			slog.Error("clear settings", "err", err)
		}
		if err := s.persist(ctx, def); err != nil {
			slog.Error("persist default settings", "err", err)
		}
	}
	s.settingsMu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "success",
		"settings": def,
	})
}

func (s *Server) handleMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.pub.Latest())
}

type statusResponse struct {
	Running       bool    `json:"running"`
	SampleRate    float64 `json:"samplerate"`
	BlockSize     int     `json:"blocksize"`
	LatencyMs     float64 `json:"latency_ms"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Version       string  `json:"version"`
}

func (s *Server) handleStatus(c echo.Context) error {
	rate := s.engine.SampleRate()
	block := s.engine.BlockSize()
	latency := 0.0
	if rate > 0 {
		latency = float64(block) / rate * 1000
	}
	return c.JSON(http.StatusOK, statusResponse{
		Running:       s.engine.Running(),
		SampleRate:    rate,
		BlockSize:     block,
		LatencyMs:     latency,
		UptimeSeconds: int64(s.engine.Uptime().Seconds()),
		Version:       s.version,
	})
}

func (s *Server) persist(ctx context.Context, doc settings.Settings) error {
	if s.store == nil {
		return nil
	}
	return s.store.SaveSettings(ctx, settings.FieldMap(doc))
}
