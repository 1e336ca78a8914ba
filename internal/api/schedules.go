package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/weft-io/weft/internal/domain"
)

func (s *Server) listSchedules(c echo.Context) error {
	return c.JSON(http.StatusOK, s.scheduler.List())
}

func (s *Server) getSchedule(c echo.Context) error {
	sched, err := s.scheduler.Get(c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (s *Server) createSchedule(c echo.Context) error {
	var sched domain.Schedule
	if err := c.Bind(&sched); err != nil {
		return s.fail(c, domain.Error{
			Type:    domain.ErrorTypeScheduleInvalid,
			Message: "malformed schedule document",
			Cause:   err,
		})
	}

	// The schedule must target a workflow that exists.
	if _, err := s.storage.LoadGraph(c.Request().Context(), sched.WorkflowID); err != nil {
		return s.fail(c, err)
	}

	if err := s.scheduler.Create(c.Request().Context(), &sched); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, sched)
}

func (s *Server) updateSchedule(c echo.Context) error {
	var sched domain.Schedule
	if err := c.Bind(&sched); err != nil {
		return s.fail(c, domain.Error{
			Type:    domain.ErrorTypeScheduleInvalid,
			Message: "malformed schedule document",
			Cause:   err,
		})
	}
	sched.ID = c.Param("id")

	if err := s.scheduler.Update(c.Request().Context(), &sched); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (s *Server) deleteSchedule(c echo.Context) error {
	if err := s.scheduler.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
