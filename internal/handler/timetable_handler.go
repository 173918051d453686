package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/middleware"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/response"
)

type timetableRuns interface {
	Generate(ctx context.Context, req dto.GenerateTimetableRequest, actorID string) (*dto.RunResponse, error)
	Enqueue(ctx context.Context, req dto.GenerateTimetableRequest, actorID string) (*models.Run, error)
	GetRun(ctx context.Context, id string) (*dto.RunResponse, error)
	ListRuns(ctx context.Context, query dto.RunListQuery) ([]models.Run, *models.Pagination, error)
	ViewKeys(ctx context.Context, runID, view string) (*dto.ViewKeysResponse, error)
	View(ctx context.Context, runID, view, key string) (*dto.TimetableViewResponse, error)
	DeleteRun(ctx context.Context, id string) error
	PurgeCache(ctx context.Context) error
}

type runExporter interface {
	Export(ctx context.Context, runID string, req dto.ExportRequest) (*dto.ExportResponse, error)
}

// TimetableHandler exposes timetable generation and run endpoints.
type TimetableHandler struct {
	runs    timetableRuns
	exports runExporter
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(runs timetableRuns, exports runExporter) *TimetableHandler {
	return &TimetableHandler{runs: runs, exports: exports}
}

// Generate godoc
// @Summary Generate a timetable synchronously
// @Description Solves an inline dataset or a stored one and returns the completed run with its assignments and failures.
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.GenerateTimetableRequest true "Generate payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /timetables/generate [post]
func (h *TimetableHandler) Generate(c *gin.Context) {
	var req dto.GenerateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
		return
	}
	result, err := h.runs.Generate(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Run.Summary != nil {
		middleware.SetCacheHit(c, result.Run.Summary.Cached)
	}
	response.JSON(c, http.StatusCreated, result, nil, middleware.ExtractMeta(c))
}

// CreateRun godoc
// @Summary Queue a timetable run
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.GenerateTimetableRequest true "Generate payload"
// @Success 202 {object} response.Envelope
// @Router /timetables/runs [post]
func (h *TimetableHandler) CreateRun(c *gin.Context) {
	var req dto.GenerateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
		return
	}
	run, err := h.runs.Enqueue(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, run, c.FullPath()+"/"+run.ID)
}

// ListRuns godoc
// @Summary List timetable runs
// @Tags Timetables
// @Produce json
// @Param datasetId query string false "Dataset ID"
// @Param status query string false "Run status"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /timetables/runs [get]
func (h *TimetableHandler) ListRuns(c *gin.Context) {
	var query dto.RunListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	runs, pagination, err := h.runs.ListRuns(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, pagination)
}

// GetRun godoc
// @Summary Get a timetable run
// @Tags Timetables
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/runs/{id} [get]
func (h *TimetableHandler) GetRun(c *gin.Context) {
	result, err := h.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DeleteRun godoc
// @Summary Delete a finished timetable run
// @Tags Timetables
// @Param id path string true "Run ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /timetables/runs/{id} [delete]
func (h *TimetableHandler) DeleteRun(c *gin.Context) {
	if err := h.runs.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ViewKeys godoc
// @Summary List the teachers, groups or rooms of a run
// @Tags Timetables
// @Produce json
// @Param id path string true "Run ID"
// @Param view path string true "teacher, group or room"
// @Success 200 {object} response.Envelope
// @Router /timetables/runs/{id}/views/{view} [get]
func (h *TimetableHandler) ViewKeys(c *gin.Context) {
	result, err := h.runs.ViewKeys(c.Request.Context(), c.Param("id"), c.Param("view"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// View godoc
// @Summary Weekly grid of one teacher, group or room
// @Tags Timetables
// @Produce json
// @Param id path string true "Run ID"
// @Param view path string true "teacher, group or room"
// @Param key path string true "Owner ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/runs/{id}/views/{view}/{key} [get]
func (h *TimetableHandler) View(c *gin.Context) {
	result, err := h.runs.View(c.Request.Context(), c.Param("id"), c.Param("view"), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Render a run view to CSV or PDF
// @Description Returns a signed download URL. An empty key renders every owner of the view, one sheet each.
// @Tags Timetables
// @Accept json
// @Produce json
// @Param id path string true "Run ID"
// @Param payload body dto.ExportRequest true "Export payload"
// @Success 201 {object} response.Envelope
// @Router /timetables/runs/{id}/exports [post]
func (h *TimetableHandler) Export(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnavailable, "exports disabled"))
		return
	}
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export payload"))
		return
	}
	result, err := h.exports.Export(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// PurgeCache godoc
// @Summary Drop every cached solver result
// @Tags Timetables
// @Success 204
// @Router /timetables/cache [delete]
func (h *TimetableHandler) PurgeCache(c *gin.Context) {
	if err := h.runs.PurgeCache(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
