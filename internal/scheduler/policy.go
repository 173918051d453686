package scheduler

import (
	"fmt"
	"strings"
)

// StrategyKind names one placement strategy.
type StrategyKind string

const (
	StrategyDirect            StrategyKind = "DIRECT"
	StrategyFragment          StrategyKind = "FRAGMENT"
	StrategySubstitute        StrategyKind = "SUBSTITUTE"
	StrategyFill              StrategyKind = "FILL"
	StrategyRelaxed           StrategyKind = "RELAXED"
	StrategySubstituteRelaxed StrategyKind = "SUBSTITUTE_RELAXED"
)

// SubstituteScope controls which teachers may stand in for the nominal one.
type SubstituteScope string

const (
	// SubstituteSameSubject limits substitutes to teachers known to teach the task's subject.
	SubstituteSameSubject SubstituteScope = "SAME_SUBJECT"
	// SubstituteAnyTeacher allows every known teacher.
	SubstituteAnyTeacher SubstituteScope = "ANY"
)

// Weights feed the task priority score.
type Weights struct {
	Teacher int `json:"teacher"`
	Group   int `json:"group"`
	Task    int `json:"task"`
}

// DefaultWeights favours teachers with heavy loads, then busy groups, then long tasks.
func DefaultWeights() Weights {
	return Weights{Teacher: 50, Group: 20, Task: 10}
}

// Policy is the ordered strategy list plus the knobs the strategies read.
type Policy struct {
	Strategies      []StrategyKind  `json:"strategies"`
	Relaxable       ClassSet        `json:"-"`
	SubstituteScope SubstituteScope `json:"substituteScope"`
	Weights         Weights         `json:"weights"`
}

var allStrategies = []StrategyKind{
	StrategyDirect,
	StrategyFragment,
	StrategySubstitute,
	StrategyFill,
	StrategyRelaxed,
	StrategySubstituteRelaxed,
}

var neverRelaxable = NewClassSet(BlackoutHomeroom, BlackoutActivity)

// DefaultPolicy tries every strategy from strictest to most permissive and opens lunch and the
// evening period when relaxing.
func DefaultPolicy() Policy {
	strategies := make([]StrategyKind, len(allStrategies))
	copy(strategies, allStrategies)
	return Policy{
		Strategies:      strategies,
		Relaxable:       NewClassSet(BlackoutLunch, BlackoutEvening),
		SubstituteScope: SubstituteSameSubject,
		Weights:         DefaultWeights(),
	}
}

// Validate rejects unknown strategies, duplicate entries and relaxation of fixed blackouts.
func (p Policy) Validate() error {
	if len(p.Strategies) == 0 {
		return fmt.Errorf("policy must list at least one strategy")
	}
	seen := make(map[StrategyKind]bool, len(p.Strategies))
	for _, s := range p.Strategies {
		if !isKnownStrategy(s) {
			return fmt.Errorf("unknown strategy %q", s)
		}
		if seen[s] {
			return fmt.Errorf("strategy %q listed twice", s)
		}
		seen[s] = true
	}
	for class := range p.Relaxable {
		if neverRelaxable.Has(class) {
			return fmt.Errorf("blackout class %s cannot be relaxed", class)
		}
	}
	switch p.SubstituteScope {
	case "", SubstituteSameSubject, SubstituteAnyTeacher:
	default:
		return fmt.Errorf("unknown substitute scope %q", p.SubstituteScope)
	}
	if p.Weights.Teacher < 0 || p.Weights.Group < 0 || p.Weights.Task < 0 {
		return fmt.Errorf("priority weights must not be negative")
	}
	return nil
}

// Uses reports whether the strategy is part of the policy.
func (p Policy) Uses(kind StrategyKind) bool {
	for _, s := range p.Strategies {
		if s == kind {
			return true
		}
	}
	return false
}

func isKnownStrategy(kind StrategyKind) bool {
	for _, s := range allStrategies {
		if s == kind {
			return true
		}
	}
	return false
}

// ParseStrategies converts textual strategy names, ignoring blanks.
func ParseStrategies(raw []string) ([]StrategyKind, error) {
	out := make([]StrategyKind, 0, len(raw))
	for _, item := range raw {
		name := strings.ToUpper(strings.TrimSpace(item))
		if name == "" {
			continue
		}
		kind := StrategyKind(name)
		if !isKnownStrategy(kind) {
			return nil, fmt.Errorf("unknown strategy %q", item)
		}
		out = append(out, kind)
	}
	return out, nil
}

// ParseClassSet converts textual blackout class names, ignoring blanks.
func ParseClassSet(raw []string) (ClassSet, error) {
	set := make(ClassSet, len(raw))
	for _, item := range raw {
		if strings.TrimSpace(item) == "" {
			continue
		}
		class, ok := ParseBlackoutClass(item)
		if !ok {
			return nil, fmt.Errorf("unknown blackout class %q", item)
		}
		set[class] = struct{}{}
	}
	return set, nil
}
