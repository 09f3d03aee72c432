package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
	"github.com/tarsyhq/tarsy-pipeline/pkg/queue"
	"github.com/tarsyhq/tarsy-pipeline/pkg/services"
)

// submitAlertHandler handles POST /api/v1/alerts. A session is created for
// every submission — unknown alert types produce an immediately-failed
// session and a 400 carrying the known types.
func (s *Server) submitAlertHandler(c *echo.Context) error {
	var req SubmitAlertRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &ErrorResponse{Error: "invalid JSON payload"})
	}
	if req.AlertType == "" {
		return c.JSON(http.StatusBadRequest, &ErrorResponse{Error: "alert_type is required"})
	}

	session, err := s.alertService.SubmitAlert(c.Request().Context(), services.SubmitAlertInput{
		AlertID:    req.AlertID,
		AlertType:  req.AlertType,
		AlertData:  req.AlertData,
		RunbookURL: req.Runbook,
	})
	if err != nil {
		var validationErr *services.ValidationError
		if errors.As(err, &validationErr) {
			return c.JSON(http.StatusBadRequest, &ErrorResponse{Error: validationErr.Error()})
		}
		return c.JSON(http.StatusInternalServerError, &ErrorResponse{Error: "failed to create session"})
	}

	// The rejected-submission case: session exists but is already failed.
	if session.Status == models.SessionStatusFailed {
		msg := "alert rejected"
		if session.ErrorMessage != nil {
			msg = *session.ErrorMessage
		}
		return c.JSON(http.StatusBadRequest, &ErrorResponse{Error: msg})
	}

	if err := s.workerPool.Enqueue(session); err != nil {
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			return c.JSON(http.StatusTooManyRequests, &ErrorResponse{Error: "alert queue is full, retry later"})
		default:
			return c.JSON(http.StatusServiceUnavailable, &ErrorResponse{Error: "service is shutting down"})
		}
	}

	return c.JSON(http.StatusOK, &SubmitAlertResponse{
		AlertID:   session.AlertID,
		SessionID: session.SessionID,
		Status:    "accepted",
	})
}

// listSessionsHandler handles GET /api/v1/sessions with status, alert_type,
// chain_id, started_after/started_before, page, and size filters.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	filters := models.SessionFilters{
		Status:    models.SessionStatus(c.QueryParam("status")),
		AlertType: c.QueryParam("alert_type"),
		ChainID:   c.QueryParam("chain_id"),
	}
	if v := c.QueryParam("page"); v != "" {
		if page, err := strconv.Atoi(v); err == nil {
			filters.Page = page
		}
	}
	if v := c.QueryParam("size"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			filters.Size = size
		}
	}
	if v := c.QueryParam("started_after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.StartedAfter = &t
		}
	}
	if v := c.QueryParam("started_before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.StartedBefore = &t
		}
	}

	result, err := s.sessionService.ListSessions(c.Request().Context(), filters)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, &ErrorResponse{Error: "failed to list sessions"})
	}
	return c.JSON(http.StatusOK, result)
}

// getSessionHandler handles GET /api/v1/sessions/:id — the session, its
// stages, and the merged interaction timeline.
func (s *Server) getSessionHandler(c *echo.Context) error {
	detail, err := s.timelineService.GetSessionWithTimeline(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, &ErrorResponse{Error: "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, &ErrorResponse{Error: "failed to load session"})
	}
	return c.JSON(http.StatusOK, detail)
}

// sessionProgressHandler handles GET /api/v1/sessions/:id/progress as a
// server-sent-events stream: one event per stage transition and on
// finalization. The stream closes when the session reaches a terminal
// status or the client disconnects.
func (s *Server) sessionProgressHandler(c *echo.Context) error {
	if s.progressHub == nil {
		return c.JSON(http.StatusNotImplemented, &ErrorResponse{Error: "progress stream is not enabled"})
	}

	updates, cancel := s.progressHub.Watch(c.Param("id"))
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, _ := resp.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	enc := json.NewEncoder(resp)
	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprint(resp, "data: "); err != nil {
				return nil
			}
			if err := enc.Encode(update); err != nil {
				return nil
			}
			if _, err := fmt.Fprint(resp, "\n"); err != nil {
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
			if status := models.SessionStatus(update.Status); status.IsTerminal() {
				return nil
			}
		}
	}
}

// cancelSessionHandler handles POST /api/v1/sessions/:id/cancel.
func (s *Server) cancelSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if s.workerPool.CancelSession(sessionID) {
		return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
	}
	return c.JSON(http.StatusNotFound, &ErrorResponse{Error: "session is not processing on this instance"})
}
