package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/response"
)

type datasetCatalog interface {
	Create(ctx context.Context, req dto.CreateDatasetRequest) (*dto.DatasetResponse, error)
	Get(ctx context.Context, id string) (*dto.DatasetResponse, error)
	List(ctx context.Context) ([]models.DatasetSummary, error)
	Delete(ctx context.Context, id string) error
}

// DatasetHandler manages stored scheduling inputs.
type DatasetHandler struct {
	datasets datasetCatalog
}

// NewDatasetHandler constructs the handler.
func NewDatasetHandler(datasets datasetCatalog) *DatasetHandler {
	return &DatasetHandler{datasets: datasets}
}

// Create godoc
// @Summary Upload a dataset
// @Tags Datasets
// @Accept json
// @Produce json
// @Param payload body dto.CreateDatasetRequest true "Dataset payload"
// @Success 201 {object} response.Envelope
// @Router /datasets [post]
func (h *DatasetHandler) Create(c *gin.Context) {
	var req dto.CreateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid dataset payload"))
		return
	}
	result, err := h.datasets.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List datasets
// @Tags Datasets
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /datasets [get]
func (h *DatasetHandler) List(c *gin.Context) {
	items, err := h.datasets.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get dataset record counts
// @Tags Datasets
// @Produce json
// @Param id path string true "Dataset ID"
// @Success 200 {object} response.Envelope
// @Router /datasets/{id} [get]
func (h *DatasetHandler) Get(c *gin.Context) {
	result, err := h.datasets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Delete a dataset
// @Tags Datasets
// @Param id path string true "Dataset ID"
// @Success 204
// @Router /datasets/{id} [delete]
func (h *DatasetHandler) Delete(c *gin.Context) {
	if err := h.datasets.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
