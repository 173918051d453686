package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/logger"
)

type datasetCatalog interface {
	Create(ctx context.Context, exec sqlx.ExtContext, name string, data *models.Dataset) (*models.DatasetSummary, error)
	FindByID(ctx context.Context, id string) (*models.DatasetSummary, error)
	Load(ctx context.Context, id string) (*models.Dataset, error)
	List(ctx context.Context) ([]models.DatasetSummary, error)
	Delete(ctx context.Context, id string) error
}

// DatasetService manages uploaded scheduling inputs.
type DatasetService struct {
	repo      datasetCatalog
	tx        txProvider
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDatasetService constructs the dataset service.
func NewDatasetService(repo datasetCatalog, tx txProvider, validate *validator.Validate, logger *zap.Logger) *DatasetService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatasetService{repo: repo, tx: tx, validator: validate, logger: logger}
}

// Create stores a dataset atomically. Records are accepted as delivered; the task builder defaults
// whatever is missing, so only structural problems are rejected here.
func (s *DatasetService) Create(ctx context.Context, req dto.CreateDatasetRequest) (_ *dto.DatasetResponse, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dataset payload")
	}
	if err := checkDataset(req.Dataset); err != nil {
		return nil, err
	}
	data := req.Dataset
	data.ID = ""

	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	summary, err := s.repo.Create(ctx, tx, req.Name, &data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store dataset")
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit dataset")
	}
	logger.FromContext(ctx, s.logger).Info("dataset stored",
		zap.String("dataset_id", summary.ID),
		zap.Int("registrations", len(data.Registrations)),
		zap.Int("teaching", len(data.Teaching)),
	)
	return describeDataset(*summary, &data), nil
}

// Get returns the dataset header and record counts.
func (s *DatasetService) Get(ctx context.Context, id string) (*dto.DatasetResponse, error) {
	summary, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.FromStore(err, "dataset not found", "failed to load dataset")
	}
	data, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return describeDataset(*summary, data), nil
}

// Load returns every record of a dataset.
func (s *DatasetService) Load(ctx context.Context, id string) (*models.Dataset, error) {
	data, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, appErrors.FromStore(err, "dataset not found", "failed to load dataset")
	}
	return data, nil
}

// List returns dataset headers, newest first.
func (s *DatasetService) List(ctx context.Context) ([]models.DatasetSummary, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list datasets")
	}
	if items == nil {
		items = []models.DatasetSummary{}
	}
	return items, nil
}

// Delete removes a dataset. Runs keep their results and stay readable.
func (s *DatasetService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.FromStore(err, "dataset not found", "failed to delete dataset")
	}
	return nil
}

// checkDataset rejects inputs that cannot be stored: blank or duplicate primary ids.
func checkDataset(data models.Dataset) error {
	if len(data.Registrations) == 0 && len(data.Teaching) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "dataset needs registrations or teaching records")
	}
	checks := []struct {
		label string
		ids   []string
	}{
		{"teacher", collectIDs(len(data.Teachers), func(i int) string { return data.Teachers[i].ID })},
		{"group", collectIDs(len(data.Groups), func(i int) string { return data.Groups[i].ID })},
		{"room", collectIDs(len(data.Rooms), func(i int) string { return data.Rooms[i].ID })},
		{"subject", collectIDs(len(data.Subjects), func(i int) string { return data.Subjects[i].ID })},
	}
	for _, check := range checks {
		seen := make(map[string]struct{}, len(check.ids))
		for _, id := range check.ids {
			if id == "" {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s id must not be blank", check.label))
			}
			if _, dup := seen[id]; dup {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate %s id %q", check.label, id))
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}

func collectIDs(n int, at func(int) string) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = strings.TrimSpace(at(i))
	}
	return ids
}

func describeDataset(summary models.DatasetSummary, data *models.Dataset) *dto.DatasetResponse {
	return &dto.DatasetResponse{
		DatasetSummary: summary,
		Teachers:       len(data.Teachers),
		Groups:         len(data.Groups),
		Rooms:          len(data.Rooms),
		Subjects:       len(data.Subjects),
		Registrations:  len(data.Registrations),
		Teaching:       len(data.Teaching),
	}
}
