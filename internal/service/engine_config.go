package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/sma-timetable/internal/scheduler"
	"github.com/noah-isme/sma-timetable/pkg/config"
)

// EngineOptions turns the scheduler settings into engine options. A zero lunch or evening period
// leaves that blackout out of the grid.
func EngineOptions(cfg config.SchedulerConfig) (scheduler.Options, error) {
	opts := scheduler.DefaultOptions()
	if cfg.TimeBudget > 0 {
		opts.TimeBudget = cfg.TimeBudget
	}
	if cfg.AggressiveAfter > 0 {
		opts.AggressiveAfter = cfg.AggressiveAfter
	}
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.Workers > 0 {
		opts.Workers = cfg.Workers
	}

	grid := scheduler.Grid{Days: cfg.Days, Periods: cfg.Periods}
	if grid.Days == 0 && grid.Periods == 0 {
		grid = scheduler.DefaultGrid()
	} else {
		if cfg.LunchPeriod > 0 {
			grid.Blackouts = append(grid.Blackouts, scheduler.Blackout{Class: scheduler.BlackoutLunch, Period: cfg.LunchPeriod})
		}
		for _, slot := range cfg.Homeroom {
			grid.Blackouts = append(grid.Blackouts, scheduler.Blackout{Class: scheduler.BlackoutHomeroom, Day: slot.Day, Period: slot.Period})
		}
		for _, slot := range cfg.Activity {
			grid.Blackouts = append(grid.Blackouts, scheduler.Blackout{Class: scheduler.BlackoutActivity, Day: slot.Day, Period: slot.Period})
		}
		if cfg.EveningPeriod > 0 {
			grid.Blackouts = append(grid.Blackouts, scheduler.Blackout{Class: scheduler.BlackoutEvening, Period: cfg.EveningPeriod})
		}
	}
	if err := grid.Validate(); err != nil {
		return opts, fmt.Errorf("scheduler grid: %w", err)
	}
	opts.Grid = grid

	policy := scheduler.DefaultPolicy()
	if len(cfg.Strategies) > 0 {
		kinds, err := scheduler.ParseStrategies(cfg.Strategies)
		if err != nil {
			return opts, fmt.Errorf("scheduler strategies: %w", err)
		}
		policy.Strategies = kinds
	}
	if cfg.Relax != nil {
		set, err := scheduler.ParseClassSet(cfg.Relax)
		if err != nil {
			return opts, fmt.Errorf("scheduler relax: %w", err)
		}
		policy.Relaxable = set
	}
	if cfg.SubstituteScope != "" {
		policy.SubstituteScope = scheduler.SubstituteScope(strings.ToUpper(strings.TrimSpace(cfg.SubstituteScope)))
	}
	if cfg.WeightTeacher > 0 || cfg.WeightGroup > 0 || cfg.WeightTask > 0 {
		policy.Weights = scheduler.Weights{Teacher: cfg.WeightTeacher, Group: cfg.WeightGroup, Task: cfg.WeightTask}
	}
	if err := policy.Validate(); err != nil {
		return opts, fmt.Errorf("scheduler policy: %w", err)
	}
	opts.Policy = policy
	return opts, nil
}
