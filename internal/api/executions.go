package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/weft-io/weft/internal/domain"
)

type triggerRequest struct {
	TriggerNodeID string                 `json:"trigger_node_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

func (r triggerRequest) input() domain.TriggerInput {
	return domain.TriggerInput{
		TriggerNodeID: r.TriggerNodeID,
		UserID:        r.UserID,
		SessionID:     r.SessionID,
		Data:          r.Data,
	}
}

func (s *Server) triggerExecution(c echo.Context) error {
	ctx := c.Request().Context()
	graph, err := s.storage.LoadGraph(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if graph.Status != domain.WorkflowStatusActive {
		return s.fail(c, domain.Error{
			Type:    domain.ErrorTypeConflict,
			Message: "workflow is not active",
			Details: map[string]interface{}{"workflow_id": graph.ID, "status": graph.Status},
		})
	}

	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "malformed trigger request",
			Cause:   err,
		})
	}

	executionID, err := s.manager.Start(ctx, graph, req.input())
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]string{"execution_id": executionID})
}

// dryRunExecution simulates the workflow synchronously and returns the full
// result including the side-effect trace.
func (s *Server) dryRunExecution(c echo.Context) error {
	ctx := c.Request().Context()
	graph, err := s.storage.LoadGraph(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}

	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "malformed trigger request",
			Cause:   err,
		})
	}

	result, err := s.engine.DryRun(ctx, graph, req.input())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) listRunningExecutions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.List())
}

func (s *Server) getExecution(c echo.Context) error {
	id := c.Param("id")

	status, err := s.manager.Status(id)
	if err == nil && status == domain.ExecutionStatusRunning {
		return c.JSON(http.StatusOK, map[string]string{
			"execution_id": id,
			"status":       string(status),
		})
	}

	result, err := s.manager.Result(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) cancelExecution(c echo.Context) error {
	if err := s.manager.Cancel(c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) listExecutionResults(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return s.fail(c, domain.Error{
				Type:    domain.ErrorTypeValidation,
				Message: "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	results, err := s.storage.ListExecutionResults(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, results)
}
