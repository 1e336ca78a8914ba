package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/weft-io/weft/internal/adapters/engine"
	"github.com/weft-io/weft/internal/adapters/scheduler"
	"github.com/weft-io/weft/internal/adapters/validator"
	"github.com/weft-io/weft/internal/domain"
	"github.com/weft-io/weft/internal/ports"
)

// Server is the management API: workflow CRUD, validation and publishing,
// execution control and the public webhook entry point.
type Server struct {
	echo      *echo.Echo
	storage   ports.Storage
	validator *validator.Validator
	manager   *engine.Manager
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	hooks     *webhookGuard
	logger    *slog.Logger
}

func NewServer(
	storage ports.Storage,
	valid *validator.Validator,
	mgr *engine.Manager,
	eng *engine.Engine,
	sched *scheduler.Scheduler,
	logger *slog.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		storage:   storage,
		validator: valid,
		manager:   mgr,
		engine:    eng,
		scheduler: sched,
		hooks:     newWebhookGuard(),
		logger:    logger.With("component", "api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.echo.Group("/v1")

	v1.GET("/workflows", s.listWorkflows)
	v1.POST("/workflows", s.createWorkflow)
	v1.GET("/workflows/:id", s.getWorkflow)
	v1.PUT("/workflows/:id", s.updateWorkflow)
	v1.DELETE("/workflows/:id", s.deleteWorkflow)
	v1.POST("/workflows/:id/validate", s.validateWorkflow)
	v1.POST("/workflows/:id/publish", s.publishWorkflow)
	v1.GET("/workflows/:id/export", s.exportWorkflow)
	v1.POST("/workflows/import", s.importWorkflow)

	v1.POST("/workflows/:id/executions", s.triggerExecution)
	v1.POST("/workflows/:id/dry-run", s.dryRunExecution)
	v1.GET("/workflows/:id/executions", s.listExecutionResults)
	v1.GET("/executions", s.listRunningExecutions)
	v1.GET("/executions/:id", s.getExecution)
	v1.DELETE("/executions/:id", s.cancelExecution)

	v1.GET("/schedules", s.listSchedules)
	v1.POST("/schedules", s.createSchedule)
	v1.GET("/schedules/:id", s.getSchedule)
	v1.PUT("/schedules/:id", s.updateSchedule)
	v1.DELETE("/schedules/:id", s.deleteSchedule)

	// Public entry point, guarded by token signature rather than operator
	// auth.
	s.echo.POST("/hooks/:id", s.webhookTrigger)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("api listening", "addr", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

const maxRequestBytes = 4 << 20

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRequestBytes))
	if err != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "failed to read request body",
			Cause:   err,
		}
	}
	return body, nil
}

// fail maps domain error kinds onto HTTP statuses.
func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	if t, ok := domain.ErrorTypeOf(err); ok {
		switch t {
		case domain.ErrorTypeValidation, domain.ErrorTypeScheduleInvalid, domain.ErrorTypeSecurityViolation:
			status = http.StatusBadRequest
		case domain.ErrorTypePermissionDenied:
			status = http.StatusForbidden
		case domain.ErrorTypeLicenseRequired:
			status = http.StatusPaymentRequired
		case domain.ErrorTypeNotFound:
			status = http.StatusNotFound
		case domain.ErrorTypeTimeout:
			status = http.StatusGatewayTimeout
		case domain.ErrorTypeConflict:
			status = http.StatusConflict
		case domain.ErrorTypeLimitExceeded:
			status = http.StatusTooManyRequests
		}
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
