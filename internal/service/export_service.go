package service

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/scheduler"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/export"
	"github.com/noah-isme/sma-timetable/pkg/storage"
)

const (
	exportFormatCSV = "csv"
	exportFormatPDF = "pdf"
	runExportPrefix = "runs"
)

type runResultReader interface {
	FindByID(ctx context.Context, id string) (*models.Run, error)
	Assignments(ctx context.Context, runID string) ([]models.RunAssignment, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	DeletePrefix(prefix string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type gridRenderer interface {
	RenderGrid(sheets []export.Sheet) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ExportService renders run views to CSV or PDF and hands out signed download links.
type ExportService struct {
	runs      runResultReader
	storage   fileStorage
	csv       gridRenderer
	pdf       gridRenderer
	signer    *storage.SignedURLSigner
	grid      scheduler.Grid
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the bundled exporters.
func NewExportService(runs runResultReader, store fileStorage, signer *storage.SignedURLSigner, grid scheduler.Grid, cfg ExportConfig, validate *validator.Validate, logger *zap.Logger, csv, pdf gridRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		runs:      runs,
		storage:   store,
		csv:       csv,
		pdf:       pdf,
		signer:    signer,
		grid:      grid,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Export renders one view of a completed run. An empty key renders every owner, one sheet each.
func (s *ExportService) Export(ctx context.Context, runID string, req dto.ExportRequest) (*dto.ExportResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export request")
	}
	kind, err := scheduler.ParseViewKind(req.View)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, appErrors.FromStore(err, "run not found", "failed to load run")
	}
	if run.Status != models.RunStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrRunNotFinished, fmt.Sprintf("run is %s", run.Status))
	}
	rows, err := s.runs.Assignments(ctx, runID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load run assignments")
	}
	assignments := fromRunAssignments(rows)

	keys := kind.Keys(assignments)
	if req.Key != "" {
		if len(kind.Filter(assignments, req.Key)) == 0 {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no %s %q in run", kind, req.Key))
		}
		keys = []string{req.Key}
	}
	if len(keys) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "run has no assignments")
	}
	sheets := make([]export.Sheet, 0, len(keys))
	for _, key := range keys {
		sheets = append(sheets, TimetableSheet(kind.Project(s.grid, assignments, key)))
	}

	var payload []byte
	switch req.Format {
	case exportFormatCSV:
		payload, err = s.csv.RenderGrid(sheets)
	case exportFormatPDF:
		payload, err = s.pdf.RenderGrid(sheets)
	default:
		err = fmt.Errorf("unsupported format %s", req.Format)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := s.buildFilename(runID, kind, req.Key, req.Format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(runID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("export rendered",
		zap.String("run_id", runID),
		zap.String("view", kind.String()),
		zap.String("format", req.Format),
		zap.Int("sheets", len(sheets)),
	)
	return &dto.ExportResponse{
		URL:       fmt.Sprintf("%s/export/%s", prefix, token),
		Filename:  path.Base(relPath),
		Format:    req.Format,
		Sheets:    len(sheets),
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveDownload validates a download token and opens the file it points at. Files of deleted runs
// are refused even while the token is still valid.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*os.File, string, error) {
	file, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	if !strings.HasPrefix(file.Path, runDir(file.RunID)+"/") {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "download token does not match run")
	}
	if _, err := s.runs.FindByID(ctx, file.RunID); err != nil {
		return nil, "", appErrors.FromStore(err, "run not found", "failed to load run")
	}
	handle, err := s.storage.Open(file.Path)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export file not found")
	}
	return handle, path.Base(file.Path), nil
}

// DeleteRunExports removes every file rendered for the run.
func (s *ExportService) DeleteRunExports(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id required")
	}
	return s.storage.DeletePrefix(runDir(runID))
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

// StartCleanup sweeps expired exports until ctx is cancelled.
func (s *ExportService) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.Cleanup(0)
				if err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
					continue
				}
				if len(deleted) > 0 {
					s.logger.Info("expired exports removed", zap.Int("files", len(deleted)))
				}
			}
		}
	}()
}

func (s *ExportService) buildFilename(runID string, kind scheduler.ViewKind, key, format string) string {
	owner := "all"
	if key != "" {
		owner = sanitizeFilename(key)
	}
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s/%s_%s_%s.%s", runDir(runID), kind, owner, timestamp, format)
}

func runDir(runID string) string {
	return runExportPrefix + "/" + runID
}

func sanitizeFilename(raw string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

// TimetableSheet turns a projected timetable into an export sheet: days across, periods down.
func TimetableSheet(t scheduler.Timetable) export.Sheet {
	sheet := export.Sheet{
		Title:     strings.TrimSpace(capitalize(t.View) + " " + t.Key),
		Columns:   append([]string(nil), t.Days...),
		RowLabels: make([]string, t.Periods),
		Cells:     make([][]string, len(t.Cells)),
		Shaded:    make([][]bool, len(t.Cells)),
	}
	for p := range sheet.RowLabels {
		sheet.RowLabels[p] = fmt.Sprintf("P%d", p+1)
	}
	for p, row := range t.Cells {
		sheet.Cells[p] = make([]string, len(row))
		sheet.Shaded[p] = make([]bool, len(row))
		for d, cell := range row {
			sheet.Cells[p][d] = cellLabel(cell)
			sheet.Shaded[p][d] = cell.Subject == "" && cell.Blackout != ""
		}
	}
	return sheet
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func cellLabel(cell scheduler.Cell) string {
	if cell.Subject == "" {
		return string(cell.Blackout)
	}
	subject := cell.Subject
	switch {
	case cell.Substitute:
		subject += " [sub]"
	case cell.Extra:
		subject += " [extra]"
	}
	if cell.Detail == "" {
		return subject
	}
	return subject + "\n" + cell.Detail
}

var failureHeaders = []string{"Task", "Group", "Subject", "Teacher", "Hours", "Reason", "Teacher free", "Group free"}

// FailureTable lists the tasks a run could not place.
func FailureTable(failures []scheduler.Failure) export.Table {
	table := export.Table{Title: "Unplaced tasks", Headers: failureHeaders}
	for _, f := range failures {
		table.Rows = append(table.Rows, map[string]string{
			"Task":         f.Task.ID,
			"Group":        f.Task.GroupID,
			"Subject":      f.Task.SubjectName,
			"Teacher":      f.Task.TeacherID,
			"Hours":        strconv.Itoa(f.Task.Hours),
			"Reason":       string(f.Reason),
			"Teacher free": strconv.Itoa(f.TeacherFreeSlots),
			"Group free":   strconv.Itoa(f.GroupFreeSlots),
		})
	}
	return table
}
