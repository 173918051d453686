package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeBudget      = 30 * time.Second
	defaultAggressiveAfter = 5 * time.Second
	maxHistory             = 10000
)

// StopReason records why the search loop ended.
type StopReason string

const (
	StopSolved       StopReason = "ZERO_FAILURES"
	StopBudget       StopReason = "TIME_BUDGET"
	StopAttemptLimit StopReason = "ATTEMPT_LIMIT"
	StopCancelled    StopReason = "CANCELLED"
)

// Options configures the search loop.
type Options struct {
	Grid            Grid
	Policy          Policy
	TimeBudget      time.Duration
	AggressiveAfter time.Duration
	// MaxAttempts caps the number of attempts; zero means unlimited.
	MaxAttempts int
	Workers     int
	// Seed makes runs reproducible. Zero picks a seed from the clock.
	Seed int64
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		Grid:            DefaultGrid(),
		Policy:          DefaultPolicy(),
		TimeBudget:      defaultTimeBudget,
		AggressiveAfter: defaultAggressiveAfter,
		Workers:         1,
	}
}

// AttemptStat is one entry of the search history.
type AttemptStat struct {
	Attempt      int           `json:"attempt"`
	Failures     int           `json:"failures"`
	BestFailures int           `json:"bestFailures"`
	Aggressive   bool          `json:"aggressive"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Summary aggregates the best attempt.
type Summary struct {
	TotalTasks    int           `json:"totalTasks"`
	RequiredHours int           `json:"requiredHours"`
	PlacedHours   int           `json:"placedHours"`
	FailedTasks   int           `json:"failedTasks"`
	RoomsUsed     int           `json:"roomsUsed"`
	Substitutions int           `json:"substitutions"`
	ExtraSessions int           `json:"extraSessions"`
	Attempts      int           `json:"attempts"`
	BestAttempt   int           `json:"bestAttempt"`
	Aggressive    bool          `json:"aggressive"`
	Seed          int64         `json:"seed"`
	Elapsed       time.Duration `json:"elapsed"`
	StopReason    StopReason    `json:"stopReason"`
}

// Result is the best attempt seen by the search loop.
type Result struct {
	Assignments []Assignment  `json:"assignments"`
	Failures    []Failure     `json:"failures"`
	Summary     Summary       `json:"summary"`
	History     []AttemptStat `json:"history,omitempty"`
}

// Engine runs the time-boxed search over allocator attempts.
type Engine struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine validates the options and fills defaults.
func NewEngine(opts Options, logger *zap.Logger) (*Engine, error) {
	if opts.Grid.Days == 0 && opts.Grid.Periods == 0 {
		opts.Grid = DefaultGrid()
	}
	if err := opts.Grid.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid: %w", err)
	}
	if len(opts.Policy.Strategies) == 0 {
		opts.Policy = DefaultPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if opts.TimeBudget <= 0 {
		opts.TimeBudget = defaultTimeBudget
	}
	if opts.AggressiveAfter <= 0 {
		opts.AggressiveAfter = defaultAggressiveAfter
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{opts: opts, logger: logger, now: time.Now}, nil
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// searchState is shared by the workers. Only the best snapshot and counters live here.
type searchState struct {
	mu          sync.Mutex
	attempts    int
	best        *Result
	bestAttempt int
	history     []AttemptStat
	aggressive  bool
}

// Solve runs attempts until a zero-failure result is found, the budget expires, the attempt cap is
// hit or ctx is cancelled. The first attempt always runs, so a result is always returned.
func (e *Engine) Solve(ctx context.Context, plan Plan) *Result {
	start := e.now()
	seed := e.opts.Seed
	if seed == 0 {
		seed = start.UnixNano()
	}
	initial := Prioritize(plan.Tasks, e.opts.Policy.Weights)
	state := &searchState{}

	var stop StopReason
	if e.opts.Workers == 1 {
		stop = e.worker(ctx, &plan, initial, seed, start, state)
	} else {
		stop = e.parallel(ctx, &plan, initial, seed, start, state)
	}

	result := state.best
	result.History = state.history
	result.Summary = summarize(plan, result.Assignments, result.Failures)
	result.Summary.Attempts = state.attempts
	result.Summary.BestAttempt = state.bestAttempt
	result.Summary.Aggressive = state.aggressive
	result.Summary.Seed = seed
	result.Summary.Elapsed = e.now().Sub(start)
	result.Summary.StopReason = stop

	e.logger.Info("timetable search finished",
		zap.Int("tasks", len(plan.Tasks)),
		zap.Int("attempts", state.attempts),
		zap.Int("failures", len(result.Failures)),
		zap.Int("placed_hours", result.Summary.PlacedHours),
		zap.String("stop_reason", string(stop)),
		zap.Duration("elapsed", result.Summary.Elapsed),
	)
	return result
}

func (e *Engine) parallel(ctx context.Context, plan *Plan, initial []Task, seed int64, start time.Time, state *searchState) StopReason {
	g, gctx := errgroup.WithContext(ctx)
	reasons := make([]StopReason, e.opts.Workers)
	for w := 0; w < e.opts.Workers; w++ {
		w := w
		order := make([]Task, len(initial))
		copy(order, initial)
		if w > 0 {
			rand.New(rand.NewSource(seed+int64(w)*7919)).Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		g.Go(func() error {
			reasons[w] = e.worker(gctx, plan, order, seed+int64(w)*7919, start, state)
			return nil
		})
	}
	_ = g.Wait()
	return mergeStopReasons(reasons)
}

// worker runs attempts sequentially with its own ledger and random source.
func (e *Engine) worker(ctx context.Context, plan *Plan, order []Task, seed int64, start time.Time, state *searchState) StopReason {
	var prev []Failure
	for local := 0; ; local++ {
		number, reason, done := e.next(ctx, start, state)
		if done {
			return reason
		}

		rng := rand.New(rand.NewSource(seed + int64(local)))
		if local > 0 {
			order = reorder(order, prev, rng)
		}
		aggressive := e.now().Sub(start) > e.opts.AggressiveAfter
		a := newAttempt(e.opts.Grid, plan, e.opts.Policy, rng, aggressive)
		assignments, failures := a.run(order)
		prev = failures

		e.record(state, number, assignments, failures, aggressive, e.now().Sub(start))
	}
}

// next reserves the next attempt number unless a stop condition holds. Conditions are checked only
// here, before an attempt starts.
func (e *Engine) next(ctx context.Context, start time.Time, state *searchState) (int, StopReason, bool) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.best != nil && len(state.best.Failures) == 0 {
		return 0, StopSolved, true
	}
	if state.attempts > 0 {
		if ctx.Err() != nil {
			return 0, StopCancelled, true
		}
		if e.opts.MaxAttempts > 0 && state.attempts >= e.opts.MaxAttempts {
			return 0, StopAttemptLimit, true
		}
		if e.now().Sub(start) >= e.opts.TimeBudget {
			return 0, StopBudget, true
		}
	}
	state.attempts++
	return state.attempts, "", false
}

func (e *Engine) record(state *searchState, number int, assignments []Assignment, failures []Failure, aggressive bool, elapsed time.Duration) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if aggressive {
		state.aggressive = true
	}
	if state.best == nil || len(failures) < len(state.best.Failures) {
		state.best = &Result{Assignments: assignments, Failures: failures}
		state.bestAttempt = number
		e.logger.Debug("timetable attempt improved",
			zap.Int("attempt", number),
			zap.Int("failures", len(failures)),
			zap.Bool("aggressive", aggressive),
		)
	}
	if len(state.history) < maxHistory {
		state.history = append(state.history, AttemptStat{
			Attempt:      number,
			Failures:     len(failures),
			BestFailures: len(state.best.Failures),
			Aggressive:   aggressive,
			Elapsed:      elapsed,
		})
	}
}

func mergeStopReasons(reasons []StopReason) StopReason {
	for _, preferred := range []StopReason{StopSolved, StopCancelled, StopAttemptLimit} {
		for _, r := range reasons {
			if r == preferred {
				return r
			}
		}
	}
	return StopBudget
}

func summarize(plan Plan, assignments []Assignment, failures []Failure) Summary {
	sortAssignments(assignments)
	rooms := make(map[string]struct{})
	s := Summary{
		TotalTasks:    len(plan.Tasks),
		RequiredHours: plan.TotalHours(),
		FailedTasks:   len(failures),
	}
	for _, a := range assignments {
		s.PlacedHours += a.Duration
		if a.RoomID != "" {
			rooms[a.RoomID] = struct{}{}
		}
		if a.IsSubstitute {
			s.Substitutions++
		}
		if a.IsExtra {
			s.ExtraSessions++
		}
	}
	s.RoomsUsed = len(rooms)
	return s
}

func sortAssignments(assignments []Assignment) {
	sort.SliceStable(assignments, func(i, j int) bool {
		a, b := assignments[i], assignments[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartPeriod != b.StartPeriod {
			return a.StartPeriod < b.StartPeriod
		}
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		return a.TaskID < b.TaskID
	})
}
