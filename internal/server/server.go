// Package server provides the daemon's HTTP surface: health and sync
// status, a read-only chore view served from the local cache, a manual
// sync trigger, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/choresyncd/internal/chores"
	"github.com/fyrsmithlabs/choresyncd/internal/model"
	"github.com/fyrsmithlabs/choresyncd/internal/reconcile"
	"github.com/fyrsmithlabs/choresyncd/internal/remote"
)

// StatusSource reports the most recent reconciliation pass. Satisfied
// by *reconcile.Orchestrator.
type StatusSource interface {
	LastReport() *reconcile.Report
}

// ChoreReader is the read-only cache view. Satisfied by *cache.Store.
type ChoreReader interface {
	All(ctx context.Context) ([]model.Instance, error)
	ByAssignee(ctx context.Context, memberID string) ([]model.Instance, error)
	Templates(ctx context.Context) ([]model.Template, error)
}

// Server provides HTTP endpoints for choresyncd. Mutations carry the
// acting member in the request body; the daemon serves a trusted home
// network and performs role checks, not authentication.
type Server struct {
	echo    *echo.Echo
	status  StatusSource
	chores  ChoreReader
	svc     chores.Service
	trigger func()
	logger  *zap.Logger
}

// NewServer creates the HTTP server. svc may be nil to disable the
// mutation routes; trigger requests an on-demand reconciliation pass
// and must not block, and may also be nil.
func NewServer(status StatusSource, reader ChoreReader, svc chores.Service, trigger func(), logger *zap.Logger) (*Server, error) {
	if status == nil {
		return nil, fmt.Errorf("status source is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("chore reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if trigger == nil {
		trigger = func() {}
	}

	ec := echo.New()
	ec.HideBanner = true
	ec.HidePort = true

	ec.Use(middleware.Recover())
	ec.Use(middleware.RequestID())
	ec.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:    ec,
		status:  status,
		chores:  reader,
		svc:     svc,
		trigger: trigger,
		logger:  logger,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/chores", s.handleChores)
	v1.GET("/templates", s.handleTemplates)
	v1.POST("/sync", s.handleSync)

	if s.svc == nil {
		return
	}
	v1.POST("/chores", s.handleCreateChore)
	v1.PATCH("/chores/:id", s.handleUpdateChore)
	v1.DELETE("/chores/:id", s.handleDeleteChore)
	v1.POST("/chores/:id/complete", s.handleCompleteChore)
	v1.POST("/chores/:id/verify", s.handleVerifyChore)
	v1.POST("/templates", s.handleCreateTemplate)
	v1.PUT("/templates/:id", s.handleUpdateTemplate)
	v1.DELETE("/templates/:id", s.handleDeleteTemplate)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	LastPass *reconcile.Report `json:"lastPass"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{LastPass: s.status.LastReport()})
}

// handleChores serves the cached instance list, optionally filtered by
// assignee. The cache never blocks on a remote call, so this endpoint
// stays fast even when the remote store is down.
func (s *Server) handleChores(c echo.Context) error {
	var (
		out []model.Instance
		err error
	)
	if assignee := c.QueryParam("assignee"); assignee != "" {
		out, err = s.chores.ByAssignee(c.Request().Context(), assignee)
	} else {
		out, err = s.chores.All(c.Request().Context())
	}
	if err != nil {
		s.logger.Error("cache read failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "cache read failed")
	}
	if out == nil {
		out = []model.Instance{}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleTemplates(c echo.Context) error {
	out, err := s.chores.Templates(c.Request().Context())
	if err != nil {
		s.logger.Error("cache read failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "cache read failed")
	}
	if out == nil {
		out = []model.Template{}
	}
	return c.JSON(http.StatusOK, out)
}

// handleSync requests an on-demand reconciliation pass. The trigger is
// asynchronous; 202 means "queued", not "done".
func (s *Server) handleSync(c echo.Context) error {
	s.trigger()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "triggered"})
}

// ActorRef identifies the acting member in mutation requests.
type ActorRef struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Role model.Role `json:"role"`
}

func (a ActorRef) actor() chores.Actor {
	return chores.Actor{ID: a.ID, Name: a.Name, Role: a.Role}
}

// CreateChoreRequest is the body for POST /api/v1/chores.
type CreateChoreRequest struct {
	Actor         ActorRef        `json:"actor"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	AssigneeIDs   []string        `json:"assigneeIds"`
	Points        int             `json:"points"`
	DueDate       model.Date      `json:"dueDate"`
	Subtasks      []model.Subtask `json:"subtasks,omitempty"`
	RequiresPhoto bool            `json:"requiresPhoto,omitempty"`
}

func (s *Server) handleCreateChore(c echo.Context) error {
	var req CreateChoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	inst, err := s.svc.CreateChore(c.Request().Context(), req.Actor.actor(), chores.ChoreInput{
		Title:         req.Title,
		Description:   req.Description,
		AssigneeIDs:   req.AssigneeIDs,
		Points:        req.Points,
		DueDate:       req.DueDate,
		Subtasks:      req.Subtasks,
		RequiresPhoto: req.RequiresPhoto,
	})
	if err != nil {
		return s.mutationError(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}

// UpdateChoreRequest is the body for PATCH /api/v1/chores/:id. Omitted
// fields are left unchanged.
type UpdateChoreRequest struct {
	Actor       ActorRef        `json:"actor"`
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	AssigneeIDs []string        `json:"assigneeIds,omitempty"`
	Points      *int            `json:"points,omitempty"`
	DueDate     *model.Date     `json:"dueDate,omitempty"`
	Subtasks    []model.Subtask `json:"subtasks,omitempty"`
}

func (s *Server) handleUpdateChore(c echo.Context) error {
	var req UpdateChoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	inst, err := s.svc.UpdateChore(c.Request().Context(), req.Actor.actor(), c.Param("id"), chores.ChoreUpdate{
		Title:       req.Title,
		Description: req.Description,
		AssigneeIDs: req.AssigneeIDs,
		Points:      req.Points,
		DueDate:     req.DueDate,
		Subtasks:    req.Subtasks,
	})
	if err != nil {
		return s.mutationError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// actorRequest is the body for delete and lifecycle routes.
type actorRequest struct {
	Actor    ActorRef `json:"actor"`
	PhotoRef string   `json:"photoRef,omitempty"`
	Approved bool     `json:"approved,omitempty"`
	Note     string   `json:"note,omitempty"`
}

func (s *Server) handleDeleteChore(c echo.Context) error {
	var req actorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.svc.DeleteChore(c.Request().Context(), req.Actor.actor(), c.Param("id")); err != nil {
		return s.mutationError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCompleteChore(c echo.Context) error {
	var req actorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	inst, err := s.svc.CompleteChore(c.Request().Context(), req.Actor.actor(), c.Param("id"), req.PhotoRef)
	if err != nil {
		return s.mutationError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

func (s *Server) handleVerifyChore(c echo.Context) error {
	var req actorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	inst, err := s.svc.VerifyChore(c.Request().Context(), req.Actor.actor(), c.Param("id"), req.Approved, req.Note)
	if err != nil {
		return s.mutationError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// CreateTemplateRequest is the body for POST /api/v1/templates.
type CreateTemplateRequest struct {
	Actor         ActorRef         `json:"actor"`
	Title         string           `json:"title"`
	Description   string           `json:"description,omitempty"`
	AssigneeIDs   []string         `json:"assigneeIds"`
	Points        int              `json:"points"`
	FirstDueDate  model.Date       `json:"firstDueDate,omitempty"`
	Recurrence    model.Recurrence `json:"recurrence"`
	Subtasks      []model.Subtask  `json:"subtasks,omitempty"`
	RequiresPhoto bool             `json:"requiresPhoto,omitempty"`
}

func (s *Server) handleCreateTemplate(c echo.Context) error {
	var req CreateTemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tpl, err := s.svc.CreateTemplate(c.Request().Context(), req.Actor.actor(), chores.TemplateInput{
		Title:         req.Title,
		Description:   req.Description,
		AssigneeIDs:   req.AssigneeIDs,
		Points:        req.Points,
		FirstDueDate:  req.FirstDueDate,
		Recurrence:    req.Recurrence,
		Subtasks:      req.Subtasks,
		RequiresPhoto: req.RequiresPhoto,
	})
	if err != nil {
		return s.mutationError(c, err)
	}
	return c.JSON(http.StatusCreated, tpl)
}

// UpdateTemplateRequest is the body for PUT /api/v1/templates/:id.
type UpdateTemplateRequest struct {
	Actor    ActorRef       `json:"actor"`
	Template model.Template `json:"template"`
}

func (s *Server) handleUpdateTemplate(c echo.Context) error {
	var req UpdateTemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Template.ID = c.Param("id")
	tpl, err := s.svc.UpdateTemplate(c.Request().Context(), req.Actor.actor(), req.Template)
	if err != nil {
		return s.mutationError(c, err)
	}
	return c.JSON(http.StatusOK, tpl)
}

// deleteTemplateRequest is the body for DELETE /api/v1/templates/:id.
type deleteTemplateRequest struct {
	Actor           ActorRef `json:"actor"`
	RemoveInstances bool     `json:"removeInstances,omitempty"`
}

func (s *Server) handleDeleteTemplate(c echo.Context) error {
	var req deleteTemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.svc.DeleteTemplate(c.Request().Context(), req.Actor.actor(), c.Param("id"), req.RemoveInstances); err != nil {
		return s.mutationError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AuthRequiredResponse tells the caller the gateway needs a fresh
// authorization before writes can proceed, and where to grant it.
type AuthRequiredResponse struct {
	Error  string `json:"error"`
	URL    string `json:"url"`
	Reason string `json:"reason,omitempty"`
}

// mutationError maps facade errors to HTTP status codes.
func (s *Server) mutationError(c echo.Context, err error) error {
	var authErr *remote.AuthRequiredError
	switch {
	case errors.As(err, &authErr):
		return c.JSON(http.StatusForbidden, AuthRequiredResponse{
			Error:  "remote authorization required",
			URL:    authErr.URL,
			Reason: authErr.Reason,
		})
	case errors.Is(err, chores.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, chores.ErrPermission):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, chores.ErrNotCompletable),
		errors.Is(err, chores.ErrNotCompleted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, chores.ErrPhotoRequired):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("mutation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "remote write failed")
	}
}

// Start begins serving on addr and blocks until shutdown.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
