package service

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/repository"
	"github.com/noah-isme/sma-timetable/internal/scheduler"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/events"
	"github.com/noah-isme/sma-timetable/pkg/jobs"
	"github.com/noah-isme/sma-timetable/pkg/logger"
	"github.com/noah-isme/sma-timetable/pkg/middleware/requestid"
)

// JobTypeSolve tags queued solver runs.
const JobTypeSolve = "timetable.solve"

const (
	sourceSolver = "solver"
	sourceCache  = "cache"
)

type datasetStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, name string, data *models.Dataset) (*models.DatasetSummary, error)
	FindByID(ctx context.Context, id string) (*models.DatasetSummary, error)
	Load(ctx context.Context, id string) (*models.Dataset, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type runStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, run *models.Run) error
	FindByID(ctx context.Context, id string) (*models.Run, error)
	FindCompletedByFingerprint(ctx context.Context, fingerprint string) (*models.Run, error)
	List(ctx context.Context, filter models.RunFilter) ([]models.Run, int, error)
	Update(ctx context.Context, exec sqlx.ExtContext, id string, params repository.UpdateRunParams) error
	SaveResults(ctx context.Context, exec sqlx.ExtContext, runID string, assignments []models.RunAssignment, failures []models.RunFailure) error
	Assignments(ctx context.Context, runID string) ([]models.RunAssignment, error)
	Failures(ctx context.Context, runID string) ([]models.RunFailure, error)
	ListQueued(ctx context.Context, limit int) ([]models.Run, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type resultCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidateResults(ctx context.Context) error
}

type runEventPublisher interface {
	PublishRunCompleted(ctx context.Context, evt events.RunCompleted) error
}

type runQueue interface {
	Enqueue(job jobs.Job) error
	Depth() int
}

type runExportCleaner interface {
	DeleteRunExports(runID string) error
}

// TimetableConfig tunes the timetable service.
type TimetableConfig struct {
	// Engine holds the configured grid, policy and search defaults; requests may override the search
	// knobs and the policy but never the grid.
	Engine       scheduler.Options
	CacheTTL     time.Duration
	RecoverLimit int
}

// solveOutcome is the persisted and cached shape of a finished solve.
type solveOutcome struct {
	Assignments []models.RunAssignment `json:"assignments"`
	Failures    []models.RunFailure    `json:"failures"`
	Summary     models.RunSummary      `json:"summary"`
}

// TimetableService runs the allocation engine over stored or inline datasets and keeps the results.
type TimetableService struct {
	datasets  datasetStore
	runs      runStore
	tx        txProvider
	cache     resultCache
	publisher runEventPublisher
	metrics   *MetricsService
	exports   runExportCleaner
	queue     runQueue
	validator *validator.Validate
	logger    *zap.Logger
	cfg       TimetableConfig
	now       func() time.Time
}

// NewTimetableService wires the timetable dependencies. The queue is attached separately with
// UseQueue because the queue's handler calls back into the service.
func NewTimetableService(
	datasets datasetStore,
	runs runStore,
	tx txProvider,
	cache resultCache,
	publisher runEventPublisher,
	metrics *MetricsService,
	exports runExportCleaner,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg TimetableConfig,
) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Engine.Grid.Days == 0 {
		cfg.Engine.Grid = scheduler.DefaultGrid()
	}
	if len(cfg.Engine.Policy.Strategies) == 0 {
		cfg.Engine.Policy = scheduler.DefaultPolicy()
	}
	if cfg.RecoverLimit <= 0 {
		cfg.RecoverLimit = 50
	}
	return &TimetableService{
		datasets:  datasets,
		runs:      runs,
		tx:        tx,
		cache:     cache,
		publisher: publisher,
		metrics:   metrics,
		exports:   exports,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// UseQueue attaches the queue used by Enqueue.
func (s *TimetableService) UseQueue(queue runQueue) {
	s.queue = queue
}

// Grid returns the configured weekly grid.
func (s *TimetableService) Grid() scheduler.Grid {
	return s.cfg.Engine.Grid
}

// Generate solves synchronously and returns the persisted run with its results.
func (s *TimetableService) Generate(ctx context.Context, req dto.GenerateTimetableRequest, actorID string) (*dto.RunResponse, error) {
	run, data, opts, err := s.prepareRun(ctx, req, actorID, models.RunStatusRunning)
	if err != nil {
		return nil, err
	}

	outcome, err := s.execute(ctx, run, data, opts)
	if err != nil {
		s.markFailed(ctx, run, err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate timetable")
	}
	return &dto.RunResponse{Run: *run, Assignments: outcome.Assignments, Failures: outcome.Failures}, nil
}

// Enqueue stores a queued run and hands it to the worker pool.
func (s *TimetableService) Enqueue(ctx context.Context, req dto.GenerateTimetableRequest, actorID string) (*models.Run, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "run queue not configured")
	}
	run, _, _, err := s.prepareRun(ctx, req, actorID, models.RunStatusQueued)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: JobTypeSolve, RequestID: requestid.FromContext(ctx)}); err != nil {
		s.markFailed(ctx, run, fmt.Errorf("enqueue run: %w", err))
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to enqueue timetable run")
	}
	s.metrics.SetQueueDepth(s.queue.Depth())
	return run, nil
}

// Process solves a queued run. Finished runs are skipped so redelivery is harmless.
func (s *TimetableService) Process(ctx context.Context, runID string) error {
	s.reportQueueDepth()
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.Status.Finished() {
		return nil
	}
	opts, err := s.engineOptions(run.Options)
	if err != nil {
		// Options were validated at enqueue time; a config change made them invalid.
		s.markFailed(ctx, run, err)
		return nil
	}
	data, err := s.datasets.Load(ctx, run.DatasetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.markFailed(ctx, run, fmt.Errorf("dataset %s no longer exists", run.DatasetID))
			return nil
		}
		return fmt.Errorf("load dataset %s: %w", run.DatasetID, err)
	}

	running := models.RunStatusRunning
	started := s.now().UTC()
	if err := s.runs.Update(ctx, nil, run.ID, repository.UpdateRunParams{Status: &running, StartedAt: &started}); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	run.Status = running
	run.StartedAt = &started

	if _, err := s.execute(ctx, run, data, opts); err != nil {
		return err
	}
	return nil
}

// Requeue returns a run to the queue after a failed attempt.
func (s *TimetableService) Requeue(ctx context.Context, runID string, cause error) {
	queued := models.RunStatusQueued
	msg := cause.Error()
	if err := s.runs.Update(ctx, nil, runID, repository.UpdateRunParams{Status: &queued, ErrorMessage: &msg}); err != nil {
		s.logger.Warn("failed to mark run queued", zap.String("run_id", runID), zap.Error(err))
	}
}

// Fail marks a run as failed after its last attempt.
func (s *TimetableService) Fail(ctx context.Context, runID string, cause error) {
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		s.logger.Warn("failed to load run for failure", zap.String("run_id", runID), zap.Error(err))
		return
	}
	s.markFailed(ctx, run, cause)
}

// RecoverPendingJobs replays queued or interrupted runs (e.g. after process restart).
func (s *TimetableService) RecoverPendingJobs(ctx context.Context) {
	if s.queue == nil {
		return
	}
	pending, err := s.runs.ListQueued(ctx, s.cfg.RecoverLimit)
	if err != nil {
		s.logger.Warn("failed to recover queued runs", zap.Error(err))
		return
	}
	for _, run := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: JobTypeSolve}); err != nil {
			s.logger.Warn("failed to requeue pending run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("requeued pending runs", zap.Int("count", len(pending)))
	}
	s.reportQueueDepth()
}

// GetRun returns a run and, once it completed, its results.
func (s *TimetableService) GetRun(ctx context.Context, id string) (*dto.RunResponse, error) {
	run, err := s.findRun(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := &dto.RunResponse{Run: *run}
	if run.Status != models.RunStatusCompleted {
		return resp, nil
	}
	if resp.Assignments, err = s.runs.Assignments(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load run assignments")
	}
	if resp.Failures, err = s.runs.Failures(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load run failures")
	}
	return resp, nil
}

// ListRuns returns a page of runs.
func (s *TimetableService) ListRuns(ctx context.Context, query dto.RunListQuery) ([]models.Run, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid run filter")
	}
	filter := models.RunFilter{DatasetID: query.DatasetID, Status: models.RunStatus(query.Status), Page: query.Page, PageSize: query.PageSize}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	runs, total, err := s.runs.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list runs")
	}
	return runs, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ViewKeys lists the teachers, groups or rooms present in a completed run.
func (s *TimetableService) ViewKeys(ctx context.Context, runID, view string) (*dto.ViewKeysResponse, error) {
	kind, assignments, err := s.viewInput(ctx, runID, view)
	if err != nil {
		return nil, err
	}
	return &dto.ViewKeysResponse{RunID: runID, View: kind.String(), Keys: kind.Keys(assignments)}, nil
}

// View projects a completed run onto one owner's weekly grid.
func (s *TimetableService) View(ctx context.Context, runID, view, key string) (*dto.TimetableViewResponse, error) {
	kind, assignments, err := s.viewInput(ctx, runID, view)
	if err != nil {
		return nil, err
	}
	owned := kind.Filter(assignments, key)
	if len(owned) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no %s %q in run", kind, key))
	}
	return &dto.TimetableViewResponse{
		RunID:       runID,
		Timetable:   kind.Project(s.cfg.Engine.Grid, owned, key),
		Assignments: toRunAssignments(owned),
	}, nil
}

// DeleteRun removes a finished run, its results and its rendered exports.
func (s *TimetableService) DeleteRun(ctx context.Context, id string) error {
	run, err := s.findRun(ctx, id)
	if err != nil {
		return err
	}
	if !run.Status.Finished() {
		return appErrors.Clone(appErrors.ErrRunNotFinished, "run is still in progress")
	}
	if err := s.runs.Delete(ctx, nil, id); err != nil {
		return appErrors.FromStore(err, "run not found", "failed to delete run")
	}
	if s.exports != nil {
		if err := s.exports.DeleteRunExports(id); err != nil {
			s.logger.Warn("failed to delete run exports", zap.String("run_id", id), zap.Error(err))
		}
	}
	return nil
}

// PurgeCache drops every cached solver result.
func (s *TimetableService) PurgeCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.InvalidateResults(ctx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to purge result cache")
	}
	return nil
}

// Fingerprint identifies a solve input: the dataset content plus everything that changes what a valid
// timetable looks like. The seed only counts when the caller pinned it.
func Fingerprint(data models.Dataset, opts scheduler.Options) (string, error) {
	data.ID = ""
	payload := struct {
		Dataset    models.Dataset            `json:"dataset"`
		Grid       scheduler.Grid            `json:"grid"`
		Strategies []scheduler.StrategyKind  `json:"strategies"`
		Relax      []scheduler.BlackoutClass `json:"relax"`
		Scope      scheduler.SubstituteScope `json:"scope"`
		Weights    scheduler.Weights         `json:"weights"`
		Seed       int64                     `json:"seed,omitempty"`
	}{
		Dataset:    data,
		Grid:       opts.Grid,
		Strategies: opts.Policy.Strategies,
		Relax:      opts.Policy.Relaxable.List(),
		Scope:      opts.Policy.SubstituteScope,
		Weights:    opts.Policy.Weights,
		Seed:       opts.Seed,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode fingerprint input: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// prepareRun validates the request, resolves the dataset and stores the run row in one transaction
// together with an inline dataset.
func (s *TimetableService) prepareRun(ctx context.Context, req dto.GenerateTimetableRequest, actorID string, status models.RunStatus) (*models.Run, *models.Dataset, scheduler.Options, error) {
	var none scheduler.Options
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, none, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable request")
	}
	if (req.DatasetID == "") == (req.Dataset == nil) {
		return nil, nil, none, appErrors.Clone(appErrors.ErrValidation, "exactly one of datasetId or dataset is required")
	}
	runOpts := toRunOptions(req.Options)
	opts, err := s.engineOptions(runOpts)
	if err != nil {
		return nil, nil, none, err
	}

	data := req.Dataset
	if data != nil {
		inline := *data
		inline.ID = ""
		data = &inline
	} else {
		data, err = s.datasets.Load(ctx, req.DatasetID)
		if err != nil {
			return nil, nil, none, appErrors.FromStore(err, "dataset not found", "failed to load dataset")
		}
	}

	fingerprint, err := Fingerprint(*data, opts)
	if err != nil {
		return nil, nil, none, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fingerprint dataset")
	}

	run := &models.Run{
		DatasetID:   data.ID,
		Fingerprint: fingerprint,
		Status:      status,
		Options:     runOpts,
		CreatedBy:   actorID,
		CreatedAt:   s.now().UTC(),
	}
	if status == models.RunStatusRunning {
		started := run.CreatedAt
		run.StartedAt = &started
	}

	if s.tx == nil {
		return nil, nil, none, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, none, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if req.Dataset != nil {
		var summary *models.DatasetSummary
		summary, err = s.datasets.Create(ctx, tx, req.DatasetName, data)
		if err != nil {
			return nil, nil, none, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store dataset")
		}
		run.DatasetID = summary.ID
	}
	if err = s.runs.Create(ctx, tx, run); err != nil {
		return nil, nil, none, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create run")
	}
	if err = tx.Commit(); err != nil {
		return nil, nil, none, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit run")
	}
	return run, data, opts, nil
}

// execute produces the outcome for a run (from cache or the engine), persists it and announces it.
// Persistence outlives the caller's context so an abandoned request still records its result.
func (s *TimetableService) execute(ctx context.Context, run *models.Run, data *models.Dataset, opts scheduler.Options) (*solveOutcome, error) {
	log := logger.FromContext(ctx, s.logger).With(zap.String("run_id", run.ID))
	source := sourceCache
	outcome := s.lookup(ctx, run)
	if outcome == nil {
		source = sourceSolver
		engine, err := scheduler.NewEngine(opts, log)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidPolicy.Code, appErrors.ErrInvalidPolicy.Status, err.Error())
		}
		result := engine.Solve(ctx, scheduler.BuildPlan(*data))
		outcome = fromResult(result)
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := s.persist(persistCtx, run, outcome); err != nil {
		return nil, err
	}

	if source == sourceSolver && !run.Options.SkipCache && s.cache != nil {
		_ = s.cache.Set(persistCtx, ResultKey(run.Fingerprint), outcome, s.cfg.CacheTTL)
	}
	s.metrics.ObserveRun(string(models.RunStatusCompleted), source, time.Duration(outcome.Summary.ElapsedMs)*time.Millisecond, outcome.Summary.Attempts, outcome.Summary.FailedTasks)
	s.publish(persistCtx, run, "")
	log.Info("timetable run completed",
		zap.String("dataset_id", run.DatasetID),
		zap.String("source", source),
		zap.Int("placed_hours", outcome.Summary.PlacedHours),
		zap.Int("required_hours", outcome.Summary.RequiredHours),
		zap.Int("failed_tasks", outcome.Summary.FailedTasks),
		zap.Int("attempts", outcome.Summary.Attempts),
		zap.String("stop_reason", outcome.Summary.StopReason),
	)
	return outcome, nil
}

// lookup reuses an earlier result for identical input: the cache first, then the newest completed run.
func (s *TimetableService) lookup(ctx context.Context, run *models.Run) *solveOutcome {
	if run.Options.SkipCache || run.Fingerprint == "" {
		return nil
	}
	key := ResultKey(run.Fingerprint)
	if s.cache != nil {
		var cached solveOutcome
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			cached.Summary.Cached = true
			return &cached
		}
	}

	previous, err := s.runs.FindCompletedByFingerprint(ctx, run.Fingerprint)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("previous run lookup failed", zap.String("fingerprint", run.Fingerprint), zap.Error(err))
		}
		return nil
	}
	if previous.Summary == nil {
		return nil
	}
	assignments, err := s.runs.Assignments(ctx, previous.ID)
	if err != nil {
		s.logger.Warn("failed to reuse previous run", zap.String("previous_run_id", previous.ID), zap.Error(err))
		return nil
	}
	failures, err := s.runs.Failures(ctx, previous.ID)
	if err != nil {
		s.logger.Warn("failed to reuse previous run", zap.String("previous_run_id", previous.ID), zap.Error(err))
		return nil
	}
	outcome := &solveOutcome{Assignments: assignments, Failures: failures, Summary: *previous.Summary}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, outcome, s.cfg.CacheTTL)
	}
	outcome.Summary.Cached = true
	return outcome
}

func (s *TimetableService) persist(ctx context.Context, run *models.Run, outcome *solveOutcome) (err error) {
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.runs.SaveResults(ctx, tx, run.ID, outcome.Assignments, outcome.Failures); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store run results")
	}
	completed := models.RunStatusCompleted
	finished := s.now().UTC()
	clear := ""
	summary := outcome.Summary
	if err = s.runs.Update(ctx, tx, run.ID, repository.UpdateRunParams{
		Status:       &completed,
		Summary:      &summary,
		ErrorMessage: &clear,
		FinishedAt:   &finished,
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete run")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit run results")
	}

	run.Status = completed
	run.Summary = &summary
	run.ErrorMessage = nil
	run.FinishedAt = &finished
	return nil
}

func (s *TimetableService) markFailed(ctx context.Context, run *models.Run, cause error) {
	ctx = context.WithoutCancel(ctx)
	failed := models.RunStatusFailed
	msg := cause.Error()
	finished := s.now().UTC()
	if err := s.runs.Update(ctx, nil, run.ID, repository.UpdateRunParams{
		Status:       &failed,
		ErrorMessage: &msg,
		FinishedAt:   &finished,
	}); err != nil {
		s.logger.Warn("failed to mark run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	run.Status = failed
	run.ErrorMessage = &msg
	run.FinishedAt = &finished
	s.metrics.ObserveRun(string(failed), sourceSolver, 0, 0, 0)
	s.publish(ctx, run, msg)
	s.logger.Error("timetable run failed", zap.String("run_id", run.ID), zap.Error(cause))
}

func (s *TimetableService) publish(ctx context.Context, run *models.Run, errMsg string) {
	if s.publisher == nil {
		return
	}
	evt := events.RunCompleted{
		RunID:     run.ID,
		DatasetID: run.DatasetID,
		Status:    string(run.Status),
		Error:     errMsg,
	}
	if run.Summary != nil {
		evt.Failures = run.Summary.FailedTasks
		evt.PlacedHours = run.Summary.PlacedHours
		evt.RequiredHours = run.Summary.RequiredHours
		evt.Attempts = run.Summary.Attempts
		evt.StopReason = run.Summary.StopReason
	}
	// Delivery is best effort; the run row is the source of truth.
	_ = s.publisher.PublishRunCompleted(ctx, evt)
}

func (s *TimetableService) reportQueueDepth() {
	if s.queue != nil {
		s.metrics.SetQueueDepth(s.queue.Depth())
	}
}

func (s *TimetableService) findRun(ctx context.Context, id string) (*models.Run, error) {
	run, err := s.runs.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.FromStore(err, "run not found", "failed to load run")
	}
	return run, nil
}

func (s *TimetableService) viewInput(ctx context.Context, runID, view string) (scheduler.ViewKind, []scheduler.Assignment, error) {
	kind, err := scheduler.ParseViewKind(view)
	if err != nil {
		return 0, nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	run, err := s.findRun(ctx, runID)
	if err != nil {
		return 0, nil, err
	}
	if run.Status != models.RunStatusCompleted {
		return 0, nil, appErrors.Clone(appErrors.ErrRunNotFinished, fmt.Sprintf("run is %s", run.Status))
	}
	rows, err := s.runs.Assignments(ctx, runID)
	if err != nil {
		return 0, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load run assignments")
	}
	return kind, fromRunAssignments(rows), nil
}

// engineOptions applies per-run overrides on top of the configured engine options.
func (s *TimetableService) engineOptions(o models.RunOptions) (scheduler.Options, error) {
	opts := s.cfg.Engine
	policy := opts.Policy
	policy.Strategies = append([]scheduler.StrategyKind(nil), opts.Policy.Strategies...)
	policy.Relaxable = scheduler.NewClassSet(opts.Policy.Relaxable.List()...)

	if o.TimeBudgetSeconds > 0 {
		opts.TimeBudget = time.Duration(o.TimeBudgetSeconds) * time.Second
	}
	if o.AggressiveAfterSeconds > 0 {
		opts.AggressiveAfter = time.Duration(o.AggressiveAfterSeconds) * time.Second
	}
	if o.MaxAttempts > 0 {
		opts.MaxAttempts = o.MaxAttempts
	}
	if o.Workers > 0 {
		opts.Workers = o.Workers
	}
	opts.Seed = o.Seed
	if len(o.Strategies) > 0 {
		kinds, err := scheduler.ParseStrategies(o.Strategies)
		if err != nil {
			return opts, appErrors.Clone(appErrors.ErrInvalidPolicy, err.Error())
		}
		policy.Strategies = kinds
	}
	if o.Relax != nil {
		set, err := scheduler.ParseClassSet(o.Relax)
		if err != nil {
			return opts, appErrors.Clone(appErrors.ErrInvalidPolicy, err.Error())
		}
		policy.Relaxable = set
	}
	if o.SubstituteScope != "" {
		policy.SubstituteScope = scheduler.SubstituteScope(o.SubstituteScope)
	}
	if err := policy.Validate(); err != nil {
		return opts, appErrors.Clone(appErrors.ErrInvalidPolicy, err.Error())
	}
	opts.Policy = policy
	return opts, nil
}

func toRunOptions(o dto.SolverOptions) models.RunOptions {
	return models.RunOptions{
		TimeBudgetSeconds:      o.TimeBudgetSeconds,
		AggressiveAfterSeconds: o.AggressiveAfterSeconds,
		MaxAttempts:            o.MaxAttempts,
		Workers:                o.Workers,
		Seed:                   o.Seed,
		Strategies:             o.Strategies,
		Relax:                  o.Relax,
		SubstituteScope:        o.SubstituteScope,
		SkipCache:              o.SkipCache,
	}
}

func fromResult(result *scheduler.Result) *solveOutcome {
	failures := make([]models.RunFailure, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, models.RunFailure{
			TaskID:           f.Task.ID,
			SubjectID:        f.Task.SubjectID,
			SubjectName:      f.Task.SubjectName,
			GroupID:          f.Task.GroupID,
			TeacherID:        f.Task.TeacherID,
			Hours:            f.Task.Hours,
			Reason:           string(f.Reason),
			TeacherFreeSlots: f.TeacherFreeSlots,
			GroupFreeSlots:   f.GroupFreeSlots,
		})
	}
	sum := result.Summary
	return &solveOutcome{
		Assignments: toRunAssignments(result.Assignments),
		Failures:    failures,
		Summary: models.RunSummary{
			TotalTasks:    sum.TotalTasks,
			RequiredHours: sum.RequiredHours,
			PlacedHours:   sum.PlacedHours,
			FailedTasks:   sum.FailedTasks,
			RoomsUsed:     sum.RoomsUsed,
			Substitutions: sum.Substitutions,
			ExtraSessions: sum.ExtraSessions,
			Attempts:      sum.Attempts,
			BestAttempt:   sum.BestAttempt,
			Aggressive:    sum.Aggressive,
			Seed:          sum.Seed,
			ElapsedMs:     sum.Elapsed.Milliseconds(),
			StopReason:    string(sum.StopReason),
		},
	}
}

func toRunAssignments(assignments []scheduler.Assignment) []models.RunAssignment {
	rows := make([]models.RunAssignment, 0, len(assignments))
	for _, a := range assignments {
		rows = append(rows, models.RunAssignment{
			TaskID:           a.TaskID,
			SubjectID:        a.SubjectID,
			SubjectName:      a.SubjectName,
			GroupID:          a.GroupID,
			NominalTeacherID: a.NominalTeacherID,
			TeacherID:        a.TeacherID,
			RoomID:           a.RoomID,
			Day:              a.Day,
			StartPeriod:      a.StartPeriod,
			Duration:         a.Duration,
			IsSubstitute:     a.IsSubstitute,
			IsExtra:          a.IsExtra,
			Strategy:         string(a.Strategy),
			Session:          a.Session,
			Sessions:         a.Sessions,
		})
	}
	return rows
}

func fromRunAssignments(rows []models.RunAssignment) []scheduler.Assignment {
	out := make([]scheduler.Assignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, scheduler.Assignment{
			TaskID:           r.TaskID,
			SubjectID:        r.SubjectID,
			SubjectName:      r.SubjectName,
			GroupID:          r.GroupID,
			NominalTeacherID: r.NominalTeacherID,
			TeacherID:        r.TeacherID,
			RoomID:           r.RoomID,
			Day:              r.Day,
			StartPeriod:      r.StartPeriod,
			Duration:         r.Duration,
			IsSubstitute:     r.IsSubstitute,
			IsExtra:          r.IsExtra,
			Strategy:         scheduler.StrategyKind(r.Strategy),
			Session:          r.Session,
			Sessions:         r.Sessions,
		})
	}
	return out
}

// TimetableWorker bridges queue jobs to the timetable service.
type TimetableWorker struct {
	runs       *TimetableService
	logger     *zap.Logger
	maxRetries int
}

// NewTimetableWorker constructs a worker. maxRetries must match the queue's retry budget.
func NewTimetableWorker(runs *TimetableService, maxRetries int, logger *zap.Logger) *TimetableWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &TimetableWorker{runs: runs, logger: logger, maxRetries: maxRetries}
}

// Handle processes a queue job.
func (w *TimetableWorker) Handle(ctx context.Context, job jobs.Job) error {
	ctx = requestid.NewContext(ctx, job.RequestID)
	err := w.runs.Process(ctx, job.ID)
	if err == nil {
		return nil
	}
	if job.Attempt >= w.maxRetries {
		w.runs.Fail(ctx, job.ID, err)
	} else {
		w.logger.Warn("timetable run attempt failed", zap.String("run_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
		w.runs.Requeue(ctx, job.ID, err)
	}
	return err
}
