package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/weft-io/weft/internal/domain"
	"github.com/weft-io/weft/internal/ports"
)

func (s *Server) listWorkflows(c echo.Context) error {
	graphs, err := s.storage.ListGraphs(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, graphs)
}

func (s *Server) getWorkflow(c echo.Context) error {
	graph, err := s.storage.LoadGraph(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, graph)
}

func (s *Server) createWorkflow(c echo.Context) error {
	var graph domain.WorkflowGraph
	if err := c.Bind(&graph); err != nil {
		return s.fail(c, domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "malformed workflow document",
			Cause:   err,
		})
	}

	if graph.ID == "" {
		graph.ID = uuid.New().String()
	}
	if graph.Status == "" {
		graph.Status = domain.WorkflowStatusDraft
	}
	graph.Version = 1
	now := time.Now()
	graph.CreatedAt = now
	graph.UpdatedAt = now

	if err := s.storage.SaveGraph(c.Request().Context(), &graph); err != nil {
		return s.fail(c, err)
	}

	s.audit(c, "workflow.created", graph.ID)
	s.logger.Info("workflow created", "workflow_id", graph.ID, "name", graph.Name)
	return c.JSON(http.StatusCreated, graph)
}

func (s *Server) updateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	existing, err := s.storage.LoadGraph(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}

	var graph domain.WorkflowGraph
	if err := c.Bind(&graph); err != nil {
		return s.fail(c, domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "malformed workflow document",
			Cause:   err,
		})
	}

	graph.ID = existing.ID
	graph.Version = existing.Version + 1
	graph.CreatedAt = existing.CreatedAt
	graph.UpdatedAt = time.Now()
	if graph.Status == "" {
		graph.Status = existing.Status
	}

	if err := s.storage.SaveGraph(ctx, &graph); err != nil {
		return s.fail(c, err)
	}

	s.audit(c, "workflow.updated", graph.ID)
	return c.JSON(http.StatusOK, graph)
}

func (s *Server) deleteWorkflow(c echo.Context) error {
	if err := s.storage.DeleteGraph(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	s.audit(c, "workflow.deleted", c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) validateWorkflow(c echo.Context) error {
	graph, err := s.storage.LoadGraph(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.validator.Validate(graph))
}

// publishWorkflow validates and, when no hard errors remain, flips the
// workflow to active. Warnings alone never block a publish.
func (s *Server) publishWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	graph, err := s.storage.LoadGraph(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}

	result := s.validator.Validate(graph)
	if !result.Valid {
		return c.JSON(http.StatusUnprocessableEntity, result)
	}

	graph.Status = domain.WorkflowStatusActive
	graph.UpdatedAt = time.Now()
	if err := s.storage.SaveGraph(ctx, graph); err != nil {
		return s.fail(c, err)
	}

	s.audit(c, "workflow.published", graph.ID)
	s.logger.Info("workflow published",
		"workflow_id", graph.ID,
		"version", graph.Version,
		"warnings", len(result.Warnings))
	return c.JSON(http.StatusOK, graph)
}

func (s *Server) exportWorkflow(c echo.Context) error {
	graph, err := s.storage.LoadGraph(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	data, err := domain.MarshalGraph(graph)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

// importWorkflow ingests an exported document as a new draft.
func (s *Server) importWorkflow(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return s.fail(c, err)
	}

	graph, err := domain.UnmarshalGraph(body)
	if err != nil {
		return s.fail(c, domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "malformed workflow document",
			Cause:   err,
		})
	}

	if graph.ID == "" {
		graph.ID = uuid.New().String()
	}
	graph.Status = domain.WorkflowStatusDraft
	graph.Version = 1
	now := time.Now()
	graph.CreatedAt = now
	graph.UpdatedAt = now

	if err := s.storage.SaveGraph(c.Request().Context(), graph); err != nil {
		return s.fail(c, err)
	}

	s.audit(c, "workflow.imported", graph.ID)
	return c.JSON(http.StatusCreated, graph)
}

func (s *Server) audit(c echo.Context, kind, workflowID string) {
	err := s.storage.AppendAuditEntry(c.Request().Context(), ports.AuditEntry{
		Kind:       kind,
		WorkflowID: workflowID,
	})
	if err != nil {
		s.logger.Error("failed to append audit entry", "kind", kind, "error", err)
	}
}
