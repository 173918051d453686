package dto

import (
	"time"

	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/scheduler"
)

// CreateDatasetRequest uploads a normalised scheduling input.
type CreateDatasetRequest struct {
	Name    string         `json:"name" validate:"omitempty,max=120"`
	Dataset models.Dataset `json:"dataset"`
}

// DatasetResponse describes a stored dataset and its record counts.
type DatasetResponse struct {
	models.DatasetSummary
	Teachers      int `json:"teachers"`
	Groups        int `json:"groups"`
	Rooms         int `json:"rooms"`
	Subjects      int `json:"subjects"`
	Registrations int `json:"registrations"`
	Teaching      int `json:"teaching"`
}

// SolverOptions overrides the configured search and policy knobs for one run.
type SolverOptions struct {
	TimeBudgetSeconds      int      `json:"timeBudgetSeconds" validate:"omitempty,min=1,max=600"`
	AggressiveAfterSeconds int      `json:"aggressiveAfterSeconds" validate:"omitempty,min=1,max=600"`
	MaxAttempts            int      `json:"maxAttempts" validate:"omitempty,min=1,max=1000000"`
	Workers                int      `json:"workers" validate:"omitempty,min=1,max=16"`
	Seed                   int64    `json:"seed"`
	Strategies             []string `json:"strategies" validate:"omitempty,dive,required"`
	Relax                  []string `json:"relax" validate:"omitempty,dive,required"`
	SubstituteScope        string   `json:"substituteScope" validate:"omitempty,oneof=SAME_SUBJECT ANY"`
	SkipCache              bool     `json:"skipCache"`
}

// GenerateTimetableRequest starts a solve for a stored dataset or an inline one. Inline datasets
// are stored before solving so the run can reference them.
type GenerateTimetableRequest struct {
	DatasetID   string          `json:"datasetId" validate:"omitempty,max=64"`
	DatasetName string          `json:"datasetName" validate:"omitempty,max=120"`
	Dataset     *models.Dataset `json:"dataset"`
	Options     SolverOptions   `json:"options"`
}

// RunResponse carries a run and, when finished, its results.
type RunResponse struct {
	Run         models.Run             `json:"run"`
	Assignments []models.RunAssignment `json:"assignments,omitempty"`
	Failures    []models.RunFailure    `json:"failures,omitempty"`
}

// RunListQuery filters run listings.
type RunListQuery struct {
	DatasetID string `form:"datasetId" validate:"omitempty,max=64"`
	Status    string `form:"status" validate:"omitempty,oneof=QUEUED RUNNING COMPLETED FAILED"`
	Page      int    `form:"page" validate:"omitempty,min=1"`
	PageSize  int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

// ViewKeysResponse lists the owners available in one view of a run.
type ViewKeysResponse struct {
	RunID string   `json:"runId"`
	View  string   `json:"view"`
	Keys  []string `json:"keys"`
}

// TimetableViewResponse is one owner's projected timetable.
type TimetableViewResponse struct {
	RunID       string                 `json:"runId"`
	Timetable   scheduler.Timetable    `json:"timetable"`
	Assignments []models.RunAssignment `json:"assignments"`
}

// ExportRequest renders one view of a run. An empty key renders every owner, one sheet each.
type ExportRequest struct {
	View   string `json:"view" validate:"required,oneof=teacher group room"`
	Key    string `json:"key" validate:"omitempty,max=128"`
	Format string `json:"format" validate:"required,oneof=csv pdf"`
}

// ExportResponse points at the rendered file.
type ExportResponse struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	Format    string    `json:"format"`
	Sheets    int       `json:"sheets"`
	ExpiresAt time.Time `json:"expiresAt"`
}
