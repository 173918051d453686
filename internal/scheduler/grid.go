package scheduler

import (
	"fmt"
	"sort"
	"strings"
)

// BlackoutClass names why a grid coordinate is closed to every resource.
type BlackoutClass string

const (
	BlackoutLunch    BlackoutClass = "LUNCH"
	BlackoutHomeroom BlackoutClass = "HOMEROOM"
	BlackoutActivity BlackoutClass = "ACTIVITY"
	BlackoutEvening  BlackoutClass = "EVENING"
)

// Coord addresses one period of the weekly grid. Day and Period are 1-based.
type Coord struct {
	Day    int
	Period int
}

// Blackout closes a period for every resource. Day 0 applies the blackout to every day.
type Blackout struct {
	Class  BlackoutClass `json:"class"`
	Day    int           `json:"day"`
	Period int           `json:"period"`
}

// Grid describes the weekly day/period layout and its permanent blackouts.
type Grid struct {
	Days      int        `json:"days"`
	Periods   int        `json:"periods"`
	Blackouts []Blackout `json:"blackouts"`
}

// DefaultGrid mirrors the school week the allocator was tuned for: five days of thirteen periods,
// lunch in period 5, Monday homeroom, the Wednesday afternoon activity and an evening extension.
func DefaultGrid() Grid {
	return Grid{
		Days:    5,
		Periods: 13,
		Blackouts: []Blackout{
			{Class: BlackoutLunch, Day: 0, Period: 5},
			{Class: BlackoutHomeroom, Day: 1, Period: 1},
			{Class: BlackoutActivity, Day: 3, Period: 8},
			{Class: BlackoutActivity, Day: 3, Period: 9},
			{Class: BlackoutEvening, Day: 0, Period: 13},
		},
	}
}

// Validate reports structural problems with the grid definition.
func (g Grid) Validate() error {
	if g.Days < 1 || g.Days > 7 {
		return fmt.Errorf("grid days must be between 1 and 7, got %d", g.Days)
	}
	if g.Periods < 1 || g.Periods > 16 {
		return fmt.Errorf("grid periods must be between 1 and 16, got %d", g.Periods)
	}
	for _, b := range g.Blackouts {
		if b.Day < 0 || b.Day > g.Days {
			return fmt.Errorf("blackout %s day %d outside grid", b.Class, b.Day)
		}
		if b.Period < 1 || b.Period > g.Periods {
			return fmt.Errorf("blackout %s period %d outside grid", b.Class, b.Period)
		}
	}
	return nil
}

// Contains reports whether c lies inside the grid.
func (g Grid) Contains(c Coord) bool {
	return c.Day >= 1 && c.Day <= g.Days && c.Period >= 1 && c.Period <= g.Periods
}

// Size returns the number of coordinates in the grid.
func (g Grid) Size() int {
	return g.Days * g.Periods
}

// blackoutIndex expands day-0 blackouts into one entry per day.
func (g Grid) blackoutIndex() map[Coord]BlackoutClass {
	index := make(map[Coord]BlackoutClass)
	for _, b := range g.Blackouts {
		if b.Day == 0 {
			for day := 1; day <= g.Days; day++ {
				index[Coord{Day: day, Period: b.Period}] = b.Class
			}
			continue
		}
		index[Coord{Day: b.Day, Period: b.Period}] = b.Class
	}
	return index
}

// ClassSet is a small set of blackout classes.
type ClassSet map[BlackoutClass]struct{}

// NewClassSet builds a set from the given classes.
func NewClassSet(classes ...BlackoutClass) ClassSet {
	set := make(ClassSet, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	return set
}

// Has reports membership; a nil set contains nothing.
func (s ClassSet) Has(c BlackoutClass) bool {
	if s == nil {
		return false
	}
	_, ok := s[c]
	return ok
}

// List returns the classes sorted by name.
func (s ClassSet) List() []BlackoutClass {
	out := make([]BlackoutClass, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseBlackoutClass normalises a textual class name.
func ParseBlackoutClass(raw string) (BlackoutClass, bool) {
	switch BlackoutClass(strings.ToUpper(strings.TrimSpace(raw))) {
	case BlackoutLunch:
		return BlackoutLunch, true
	case BlackoutHomeroom:
		return BlackoutHomeroom, true
	case BlackoutActivity:
		return BlackoutActivity, true
	case BlackoutEvening:
		return BlackoutEvening, true
	}
	return "", false
}

var dayNames = map[int]string{
	1: "MONDAY",
	2: "TUESDAY",
	3: "WEDNESDAY",
	4: "THURSDAY",
	5: "FRIDAY",
	6: "SATURDAY",
	7: "SUNDAY",
}

// DayName returns the upper-case weekday name for a 1-based day index.
func DayName(day int) string {
	if name, ok := dayNames[day]; ok {
		return name
	}
	return fmt.Sprintf("DAY%d", day)
}
