// Package httpapi exposes the workflow engine's operations over HTTP.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opsboard/workflow"
)

// Server holds the engine components backing the API routes.
type Server struct {
	Manager    *workflow.ExecutionManager
	Steps      *workflow.StepMachine
	Completion *workflow.CompletionResolver
	Uploads    *workflow.UploadReassembler
	Store      workflow.ExecutionStore
	Logger     *slog.Logger
}

// RegisterRoutes attaches the engine routes to the echo instance.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1")
	api.POST("/work-items/:id/executions/start", s.StartExecution)
	api.POST("/work-items/:id/executions/reinitialize", s.ReinitializeExecution)
	api.GET("/work-items/:id/executions", s.ListExecutions)
	api.GET("/executions/:id", s.GetExecution)
	api.GET("/executions/:id/steps", s.ListSteps)
	api.POST("/executions/:id/complete", s.CompleteExecution)
	api.GET("/steps/:id", s.GetStep)
	api.PATCH("/steps/:id/status", s.UpdateStepStatus)
	api.POST("/steps/:id/evidence", s.AddStepEvidence)
	api.POST("/uploads/chunks", s.IngestChunk)
}

// organizationID reads the caller's organization scope. Tenancy enforcement
// itself lives upstream of this engine.
func organizationID(c echo.Context) string {
	if org := c.Request().Header.Get("X-Organization-ID"); org != "" {
		return org
	}
	return c.QueryParam("organization_id")
}

// httpError maps engine error codes onto HTTP statuses.
func httpError(err error) error {
	switch workflow.ErrorCode(err) {
	case workflow.ErrorCodeNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case workflow.ErrorCodeInvalidArgument:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case workflow.ErrorCodeInvalidState:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case workflow.ErrorCodePayloadTooLarge:
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// StartExecution starts (or returns) the in-progress execution for a work item
// (POST /api/v1/work-items/:id/executions/start)
func (s *Server) StartExecution(c echo.Context) error {
	execution, err := s.Manager.Start(c.Request().Context(), c.Param("id"), organizationID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, execution)
}

// ReinitializeExecution resets a work item's execution
// (POST /api/v1/work-items/:id/executions/reinitialize)
func (s *Server) ReinitializeExecution(c echo.Context) error {
	execution, err := s.Manager.Reinitialize(c.Request().Context(), c.Param("id"), organizationID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, execution)
}

// ListExecutions returns all executions for a work item
// (GET /api/v1/work-items/:id/executions)
func (s *Server) ListExecutions(c echo.Context) error {
	executions, err := s.Store.ListExecutions(c.Request().Context(), c.Param("id"), organizationID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, executions)
}

// GetExecution returns one execution
// (GET /api/v1/executions/:id)
func (s *Server) GetExecution(c echo.Context) error {
	execution, err := s.Store.GetExecution(c.Request().Context(), c.Param("id"), organizationID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, execution)
}

// ListSteps returns an execution's steps in order
// (GET /api/v1/executions/:id/steps)
func (s *Server) ListSteps(c echo.Context) error {
	steps, err := s.Store.ListSteps(c.Request().Context(), c.Param("id"), organizationID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, steps)
}

// CompleteExecution forces completion of an execution
// (POST /api/v1/executions/:id/complete)
func (s *Server) CompleteExecution(c echo.Context) error {
	execution, err := s.Completion.CompleteWorkflow(c.Request().Context(), c.Param("id"), organizationID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, execution)
}

// GetStep returns one execution step
// (GET /api/v1/steps/:id)
func (s *Server) GetStep(c echo.Context) error {
	step, err := s.Store.GetStep(c.Request().Context(), c.Param("id"), organizationID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, step)
}

type updateStepStatusRequest struct {
	Status   workflow.StepStatus `json:"status"`
	ActorID  string              `json:"actor_id,omitempty"`
	Notes    *string             `json:"notes,omitempty"`
	Evidence *workflow.Evidence  `json:"evidence,omitempty"`
}

// UpdateStepStatus applies a status transition with optional notes/evidence
// (PATCH /api/v1/steps/:id/status)
func (s *Server) UpdateStepStatus(c echo.Context) error {
	var req updateStepStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	step, err := s.Steps.UpdateStatus(c.Request().Context(), workflow.UpdateStatusRequest{
		StepID:         c.Param("id"),
		OrganizationID: organizationID(c),
		Status:         req.Status,
		ActorID:        req.ActorID,
		Notes:          req.Notes,
		Evidence:       req.Evidence,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, step)
}

// AddStepEvidence merges an evidence patch without changing status
// (POST /api/v1/steps/:id/evidence)
func (s *Server) AddStepEvidence(c echo.Context) error {
	var patch workflow.Evidence
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	step, err := s.Steps.AddEvidence(c.Request().Context(), c.Param("id"), organizationID(c), &patch)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, step)
}

type ingestChunkRequest struct {
	WorkItemID  string `json:"work_item_id"`
	StepID      string `json:"step_id"`
	UploadID    string `json:"upload_id"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Data        []byte `json:"data"`
	FileName    string `json:"file_name"`
	FileType    string `json:"file_type,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
}

// IngestChunk accepts one chunk of a chunked evidence upload
// (POST /api/v1/uploads/chunks)
func (s *Server) IngestChunk(c echo.Context) error {
	var req ingestChunkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	result, err := s.Uploads.IngestChunk(c.Request().Context(), workflow.IngestChunkRequest{
		OrganizationID: organizationID(c),
		WorkItemID:     req.WorkItemID,
		StepID:         req.StepID,
		UploadID:       req.UploadID,
		ChunkIndex:     req.ChunkIndex,
		TotalChunks:    req.TotalChunks,
		Data:           req.Data,
		FileName:       req.FileName,
		FileType:       req.FileType,
		FileSize:       req.FileSize,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}
