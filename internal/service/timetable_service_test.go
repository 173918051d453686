package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/repository"
	"github.com/noah-isme/sma-timetable/internal/scheduler"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/events"
	"github.com/noah-isme/sma-timetable/pkg/jobs"
	"github.com/noah-isme/sma-timetable/pkg/middleware/requestid"
)

type datasetStoreStub struct {
	mu      sync.Mutex
	data    map[string]models.Dataset
	created int
	err     error
}

func newDatasetStoreStub() *datasetStoreStub {
	return &datasetStoreStub{data: make(map[string]models.Dataset)}
}

func (s *datasetStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, name string, data *models.Dataset) (*models.DatasetSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.created++
	data.ID = fmt.Sprintf("ds-%d", s.created)
	s.data[data.ID] = *data
	return &models.DatasetSummary{ID: data.ID, Name: name, CreatedAt: time.Now()}, nil
}

func (s *datasetStoreStub) FindByID(ctx context.Context, id string) (*models.DatasetSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return nil, sql.ErrNoRows
	}
	return &models.DatasetSummary{ID: id}, nil
}

func (s *datasetStoreStub) Load(ctx context.Context, id string) (*models.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &data, nil
}

func (s *datasetStoreStub) List(ctx context.Context) ([]models.DatasetSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DatasetSummary
	for id := range s.data {
		out = append(out, models.DatasetSummary{ID: id})
	}
	return out, s.err
}

func (s *datasetStoreStub) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.data, id)
	return nil
}

type runStoreStub struct {
	mu          sync.Mutex
	seq         int
	runs        map[string]*models.Run
	assignments map[string][]models.RunAssignment
	failures    map[string][]models.RunFailure
	updates     []repository.UpdateRunParams
	createErr   error
}

func newRunStoreStub() *runStoreStub {
	return &runStoreStub{
		runs:        make(map[string]*models.Run),
		assignments: make(map[string][]models.RunAssignment),
		failures:    make(map[string][]models.RunFailure),
	}
}

func (s *runStoreStub) put(run models.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = &run
}

func (s *runStoreStub) get(id string) models.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.runs[id]
}

func (s *runStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.seq++
	if run.ID == "" {
		run.ID = fmt.Sprintf("run-%d", s.seq)
	}
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *runStoreStub) FindByID(ctx context.Context, id string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *run
	return &copied, nil
}

func (s *runStoreStub) FindCompletedByFingerprint(ctx context.Context, fingerprint string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if run.Fingerprint == fingerprint && run.Status == models.RunStatusCompleted {
			copied := *run
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *runStoreStub) List(ctx context.Context, filter models.RunFilter) ([]models.Run, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Run
	for _, run := range s.runs {
		if filter.DatasetID != "" && run.DatasetID != filter.DatasetID {
			continue
		}
		out = append(out, *run)
	}
	return out, len(out), nil
}

func (s *runStoreStub) Update(ctx context.Context, exec sqlx.ExtContext, id string, params repository.UpdateRunParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.updates = append(s.updates, params)
	if params.Status != nil {
		run.Status = *params.Status
	}
	if params.Summary != nil {
		summary := *params.Summary
		run.Summary = &summary
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		run.ErrorMessage = &msg
	}
	if params.StartedAt != nil {
		run.StartedAt = params.StartedAt
	}
	if params.FinishedAt != nil {
		run.FinishedAt = params.FinishedAt
	}
	return nil
}

func (s *runStoreStub) SaveResults(ctx context.Context, exec sqlx.ExtContext, runID string, assignments []models.RunAssignment, failures []models.RunFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[runID] = assignments
	s.failures[runID] = failures
	return nil
}

func (s *runStoreStub) Assignments(ctx context.Context, runID string) ([]models.RunAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignments[runID], nil
}

func (s *runStoreStub) Failures(ctx context.Context, runID string) ([]models.RunFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[runID], nil
}

func (s *runStoreStub) ListQueued(ctx context.Context, limit int) ([]models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Run
	for _, run := range s.runs {
		if !run.Status.Finished() {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (s *runStoreStub) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.runs, id)
	delete(s.assignments, id)
	delete(s.failures, id)
	return nil
}

type resultCacheStub struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newResultCacheStub() *resultCacheStub {
	return &resultCacheStub{entries: make(map[string][]byte)}
}

func (c *resultCacheStub) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *resultCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	c.sets++
	return nil
}

func (c *resultCacheStub) InvalidateResults(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte)
	return nil
}

type publisherStub struct {
	mu     sync.Mutex
	events []events.RunCompleted
}

func (p *publisherStub) PublishRunCompleted(ctx context.Context, evt events.RunCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *queueStub) Depth() int { return len(q.jobs) }

type exportCleanerStub struct {
	deleted []string
}

func (e *exportCleanerStub) DeleteRunExports(runID string) error {
	e.deleted = append(e.deleted, runID)
	return nil
}

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type timetableFixture struct {
	svc       *TimetableService
	datasets  *datasetStoreStub
	runs      *runStoreStub
	cache     *resultCacheStub
	publisher *publisherStub
	exports   *exportCleanerStub
	mock      sqlmock.Sqlmock
}

func newTimetableFixture(t *testing.T, withCache bool) *timetableFixture {
	t.Helper()
	tx, mock := newTxProviderMock(t)
	f := &timetableFixture{
		datasets:  newDatasetStoreStub(),
		runs:      newRunStoreStub(),
		publisher: &publisherStub{},
		exports:   &exportCleanerStub{},
		mock:      mock,
	}
	var cache resultCache
	if withCache {
		f.cache = newResultCacheStub()
		cache = f.cache
	}
	engine := scheduler.DefaultOptions()
	engine.MaxAttempts = 3
	engine.TimeBudget = 5 * time.Second
	engine.Seed = 11
	f.svc = NewTimetableService(f.datasets, f.runs, tx, cache, f.publisher, NewMetricsService(), f.exports, nil, zap.NewNop(), TimetableConfig{Engine: engine})
	return f
}

func (f *timetableFixture) expectTx(n int) {
	for i := 0; i < n; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
	}
}

func smallDataset() models.Dataset {
	return models.Dataset{
		Teachers: []models.Teacher{{ID: "T1", Name: "Ana"}, {ID: "T2", Name: "Budi"}},
		Groups:   []models.Group{{ID: "G1", Name: "10A", Size: 30}, {ID: "G2", Name: "10B", Size: 28}},
		Rooms:    []models.Room{{ID: "R1", Type: "CLASS"}, {ID: "R2", Type: "CLASS"}},
		Subjects: []models.Subject{
			{ID: "MATH", Name: "Mathematics", Hours: "3", RoomType: "CLASS"},
			{ID: "BIO", Name: "Biology", Hours: "2", RoomType: "CLASS"},
		},
		Registrations: []models.Registration{
			{GroupID: "G1", SubjectID: "MATH", TeacherID: "T1"},
			{GroupID: "G1", SubjectID: "BIO", TeacherID: "T2"},
			{GroupID: "G2", SubjectID: "MATH", TeacherID: "T1"},
		},
	}
}

func inlineRequest() dto.GenerateTimetableRequest {
	data := smallDataset()
	return dto.GenerateTimetableRequest{DatasetName: "term 1", Dataset: &data}
}

func TestTimetableServiceGenerateInlineDataset(t *testing.T) {
	f := newTimetableFixture(t, true)
	f.expectTx(2)

	resp, err := f.svc.Generate(context.Background(), inlineRequest(), "admin-1")
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, resp.Run.Status)
	assert.Equal(t, "ds-1", resp.Run.DatasetID)
	assert.Equal(t, "admin-1", resp.Run.CreatedBy)
	require.NotNil(t, resp.Run.Summary)
	assert.Equal(t, 8, resp.Run.Summary.RequiredHours)
	assert.Equal(t, resp.Run.Summary.PlacedHours, sumDuration(resp.Assignments))
	assert.False(t, resp.Run.Summary.Cached)
	assert.NotEmpty(t, resp.Run.Fingerprint)

	stored := f.runs.get(resp.Run.ID)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Equal(t, 1, f.cache.sets)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "COMPLETED", f.publisher.events[0].Status)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableServiceGenerateServesCachedResult(t *testing.T) {
	f := newTimetableFixture(t, true)
	f.expectTx(4)

	first, err := f.svc.Generate(context.Background(), inlineRequest(), "admin-1")
	require.NoError(t, err)
	second, err := f.svc.Generate(context.Background(), inlineRequest(), "admin-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, first.Run.Fingerprint, second.Run.Fingerprint)
	assert.True(t, second.Run.Summary.Cached)
	assert.Equal(t, first.Assignments, second.Assignments)
	assert.Equal(t, 1, f.cache.sets)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableServiceGenerateReusesCompletedRunWithoutCache(t *testing.T) {
	f := newTimetableFixture(t, false)
	f.expectTx(4)

	first, err := f.svc.Generate(context.Background(), inlineRequest(), "")
	require.NoError(t, err)
	second, err := f.svc.Generate(context.Background(), inlineRequest(), "")
	require.NoError(t, err)

	assert.True(t, second.Run.Summary.Cached)
	assert.Equal(t, first.Run.Summary.PlacedHours, second.Run.Summary.PlacedHours)
	assert.Len(t, second.Assignments, len(first.Assignments))
}

func TestTimetableServiceGenerateSkipCacheSolvesAgain(t *testing.T) {
	f := newTimetableFixture(t, true)
	f.expectTx(4)

	_, err := f.svc.Generate(context.Background(), inlineRequest(), "")
	require.NoError(t, err)
	req := inlineRequest()
	req.Options.SkipCache = true
	second, err := f.svc.Generate(context.Background(), req, "")
	require.NoError(t, err)

	assert.False(t, second.Run.Summary.Cached)
	assert.Equal(t, 1, f.cache.sets)
}

func TestTimetableServiceGenerateStoredDataset(t *testing.T) {
	f := newTimetableFixture(t, true)
	data := smallDataset()
	data.ID = "ds-stored"
	f.datasets.data[data.ID] = data
	f.expectTx(2)

	resp, err := f.svc.Generate(context.Background(), dto.GenerateTimetableRequest{DatasetID: "ds-stored"}, "")
	require.NoError(t, err)
	assert.Equal(t, "ds-stored", resp.Run.DatasetID)
	assert.Equal(t, 0, f.datasets.created)
}

func TestTimetableServiceGenerateRejectsBadRequests(t *testing.T) {
	f := newTimetableFixture(t, true)
	data := smallDataset()

	cases := map[string]struct {
		req  dto.GenerateTimetableRequest
		code string
	}{
		"neither dataset": {req: dto.GenerateTimetableRequest{}, code: appErrors.ErrValidation.Code},
		"both datasets":   {req: dto.GenerateTimetableRequest{DatasetID: "ds-1", Dataset: &data}, code: appErrors.ErrValidation.Code},
		"missing dataset": {req: dto.GenerateTimetableRequest{DatasetID: "nope"}, code: appErrors.ErrNotFound.Code},
		"unknown strategy": {
			req:  dto.GenerateTimetableRequest{Dataset: &data, Options: dto.SolverOptions{Strategies: []string{"TELEPORT"}}},
			code: appErrors.ErrInvalidPolicy.Code,
		},
		"fixed blackout relaxed": {
			req:  dto.GenerateTimetableRequest{Dataset: &data, Options: dto.SolverOptions{Relax: []string{"HOMEROOM"}}},
			code: appErrors.ErrInvalidPolicy.Code,
		},
		"bad scope": {
			req:  dto.GenerateTimetableRequest{Dataset: &data, Options: dto.SolverOptions{SubstituteScope: "NOBODY"}},
			code: appErrors.ErrValidation.Code,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Generate(context.Background(), tc.req, "")
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
		})
	}
	assert.Empty(t, f.runs.runs)
}

func TestTimetableServiceEnqueueAndProcess(t *testing.T) {
	f := newTimetableFixture(t, true)
	queue := &queueStub{}
	f.svc.UseQueue(queue)
	f.expectTx(2)

	ctx := requestid.NewContext(context.Background(), "req-1")
	run, err := f.svc.Enqueue(ctx, inlineRequest(), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, jobs.Job{ID: run.ID, Type: JobTypeSolve, RequestID: "req-1"}, queue.jobs[0])

	worker := NewTimetableWorker(f.svc, 2, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), queue.jobs[0]))

	stored := f.runs.get(run.ID)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.FinishedAt)

	// Redelivery of a finished run is a no-op.
	updates := len(f.runs.updates)
	require.NoError(t, f.svc.Process(context.Background(), run.ID))
	assert.Len(t, f.runs.updates, updates)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableServiceEnqueueFailureMarksRunFailed(t *testing.T) {
	f := newTimetableFixture(t, true)
	f.svc.UseQueue(&queueStub{err: errors.New("queue full")})
	f.expectTx(1)

	_, err := f.svc.Enqueue(context.Background(), inlineRequest(), "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnavailable.Code, appErrors.FromError(err).Code)

	require.Len(t, f.runs.runs, 1)
	for id := range f.runs.runs {
		stored := f.runs.get(id)
		assert.Equal(t, models.RunStatusFailed, stored.Status)
		require.NotNil(t, stored.ErrorMessage)
		assert.Contains(t, *stored.ErrorMessage, "queue full")
	}
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "FAILED", f.publisher.events[0].Status)
}

func TestTimetableServiceEnqueueWithoutQueue(t *testing.T) {
	f := newTimetableFixture(t, true)
	_, err := f.svc.Enqueue(context.Background(), inlineRequest(), "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnavailable.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceProcessMissingDatasetFailsRun(t *testing.T) {
	f := newTimetableFixture(t, true)
	f.runs.put(models.Run{ID: "run-x", DatasetID: "gone", Status: models.RunStatusQueued})

	require.NoError(t, f.svc.Process(context.Background(), "run-x"))

	stored := f.runs.get("run-x")
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "no longer exists")
}

func TestTimetableWorkerRetriesThenFails(t *testing.T) {
	f := newTimetableFixture(t, true)
	worker := NewTimetableWorker(f.svc, 1, zap.NewNop())
	f.runs.put(models.Run{ID: "run-y", DatasetID: "ds-y", Status: models.RunStatusQueued})
	loadErr := errors.New("connection reset")
	broken := &brokenDatasetStore{err: loadErr}
	f.svc.datasets = broken

	err := worker.Handle(context.Background(), jobs.Job{ID: "run-y", Type: JobTypeSolve, Attempt: 0})
	require.ErrorIs(t, err, loadErr)
	assert.Equal(t, models.RunStatusQueued, f.runs.get("run-y").Status)

	err = worker.Handle(context.Background(), jobs.Job{ID: "run-y", Type: JobTypeSolve, Attempt: 1})
	require.ErrorIs(t, err, loadErr)
	stored := f.runs.get("run-y")
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "connection reset")
}

type brokenDatasetStore struct {
	err error
}

func (b *brokenDatasetStore) Create(ctx context.Context, exec sqlx.ExtContext, name string, data *models.Dataset) (*models.DatasetSummary, error) {
	return nil, b.err
}

func (b *brokenDatasetStore) FindByID(ctx context.Context, id string) (*models.DatasetSummary, error) {
	return nil, b.err
}

func (b *brokenDatasetStore) Load(ctx context.Context, id string) (*models.Dataset, error) {
	return nil, b.err
}

func TestTimetableServiceRecoverPendingJobs(t *testing.T) {
	f := newTimetableFixture(t, true)
	queue := &queueStub{}
	f.svc.UseQueue(queue)
	f.runs.put(models.Run{ID: "q", Status: models.RunStatusQueued})
	f.runs.put(models.Run{ID: "r", Status: models.RunStatusRunning})
	f.runs.put(models.Run{ID: "c", Status: models.RunStatusCompleted})

	f.svc.RecoverPendingJobs(context.Background())

	ids := make([]string, 0, len(queue.jobs))
	for _, job := range queue.jobs {
		ids = append(ids, job.ID)
	}
	assert.ElementsMatch(t, []string{"q", "r"}, ids)
}

func TestTimetableServiceViews(t *testing.T) {
	f := newTimetableFixture(t, true)
	f.expectTx(2)
	resp, err := f.svc.Generate(context.Background(), inlineRequest(), "")
	require.NoError(t, err)

	keys, err := f.svc.ViewKeys(context.Background(), resp.Run.ID, "group")
	require.NoError(t, err)
	assert.Equal(t, "group", keys.View)
	assert.Subset(t, []string{"G1", "G2"}, keys.Keys)
	require.NotEmpty(t, keys.Keys)

	view, err := f.svc.View(context.Background(), resp.Run.ID, "GROUP", keys.Keys[0])
	require.NoError(t, err)
	assert.Equal(t, scheduler.DefaultGrid().Periods, view.Timetable.Periods)
	assert.Len(t, view.Timetable.Days, scheduler.DefaultGrid().Days)
	assert.Equal(t, scheduler.BlackoutLunch, view.Timetable.Cells[4][0].Blackout)
	for _, a := range view.Assignments {
		assert.Equal(t, keys.Keys[0], a.GroupID)
	}

	_, err = f.svc.View(context.Background(), resp.Run.ID, "group", "G404")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = f.svc.ViewKeys(context.Background(), resp.Run.ID, "campus")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceViewRequiresCompletedRun(t *testing.T) {
	f := newTimetableFixture(t, true)
	f.runs.put(models.Run{ID: "run-q", Status: models.RunStatusQueued})

	_, err := f.svc.ViewKeys(context.Background(), "run-q", "teacher")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRunNotFinished.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceGetRunAndList(t *testing.T) {
	f := newTimetableFixture(t, true)
	f.runs.put(models.Run{ID: "run-q", DatasetID: "ds-1", Status: models.RunStatusQueued})

	resp, err := f.svc.GetRun(context.Background(), "run-q")
	require.NoError(t, err)
	assert.Nil(t, resp.Assignments)

	_, err = f.svc.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	runs, page, err := f.svc.ListRuns(context.Background(), dto.RunListQuery{DatasetID: "ds-1"})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	assert.Equal(t, 1, page.TotalCount)

	_, _, err = f.svc.ListRuns(context.Background(), dto.RunListQuery{Status: "DONE"})
	require.Error(t, err)
}

func TestTimetableServiceDeleteRun(t *testing.T) {
	f := newTimetableFixture(t, true)
	f.runs.put(models.Run{ID: "run-active", Status: models.RunStatusRunning})
	f.runs.put(models.Run{ID: "run-done", Status: models.RunStatusFailed})

	err := f.svc.DeleteRun(context.Background(), "run-active")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRunNotFinished.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.svc.DeleteRun(context.Background(), "run-done"))
	assert.Equal(t, []string{"run-done"}, f.exports.deleted)
	_, err = f.runs.FindByID(context.Background(), "run-done")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTimetableServicePurgeCache(t *testing.T) {
	f := newTimetableFixture(t, true)
	f.cache.entries[ResultKey("abc")] = []byte(`{}`)

	require.NoError(t, f.svc.PurgeCache(context.Background()))
	assert.Empty(t, f.cache.entries)
}

func TestFingerprintIgnoresDatasetIDAndSearchKnobs(t *testing.T) {
	data := smallDataset()
	opts := scheduler.DefaultOptions()

	base, err := Fingerprint(data, opts)
	require.NoError(t, err)
	assert.Len(t, base, 64)

	data.ID = "other"
	opts.TimeBudget = time.Minute
	opts.MaxAttempts = 9
	same, err := Fingerprint(data, opts)
	require.NoError(t, err)
	assert.Equal(t, base, same)

	opts.Seed = 42
	seeded, err := Fingerprint(data, opts)
	require.NoError(t, err)
	assert.NotEqual(t, base, seeded)

	opts.Seed = 0
	opts.Policy.SubstituteScope = scheduler.SubstituteAnyTeacher
	scoped, err := Fingerprint(data, opts)
	require.NoError(t, err)
	assert.NotEqual(t, base, scoped)

	data.Subjects[0].Hours = "4"
	changed, err := Fingerprint(data, scheduler.DefaultOptions())
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)
}

func TestEngineOptionsOverrides(t *testing.T) {
	f := newTimetableFixture(t, true)

	opts, err := f.svc.engineOptions(models.RunOptions{
		TimeBudgetSeconds: 2,
		Workers:           3,
		Strategies:        []string{"direct", "fill"},
		Relax:             []string{},
	})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, opts.TimeBudget)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, []scheduler.StrategyKind{scheduler.StrategyDirect, scheduler.StrategyFill}, opts.Policy.Strategies)
	assert.Empty(t, opts.Policy.Relaxable.List())

	// Overrides never leak into the configured defaults.
	defaults, err := f.svc.engineOptions(models.RunOptions{})
	require.NoError(t, err)
	assert.Len(t, defaults.Policy.Strategies, len(scheduler.DefaultPolicy().Strategies))
	assert.True(t, defaults.Policy.Relaxable.Has(scheduler.BlackoutLunch))
}

func sumDuration(rows []models.RunAssignment) int {
	total := 0
	for _, r := range rows {
		total += r.Duration
	}
	return total
}
