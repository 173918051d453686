package scheduler

import (
	"math/rand"
	"sort"
	"strings"
)

// FailureReason explains why a task could not be seated.
type FailureReason string

const (
	ReasonTeacherCapacity FailureReason = "TEACHER_CAPACITY_EXHAUSTED"
	ReasonGroupCapacity   FailureReason = "GROUP_CAPACITY_EXHAUSTED"
	ReasonTimeConflict    FailureReason = "TIME_CONFLICT"
	ReasonNoMatchingRoom  FailureReason = "NO_MATCHING_ROOM"
)

// Assignment is one booked session.
type Assignment struct {
	TaskID           string       `json:"taskId"`
	SubjectID        string       `json:"subjectId"`
	SubjectName      string       `json:"subjectName"`
	GroupID          string       `json:"groupId"`
	NominalTeacherID string       `json:"nominalTeacherId"`
	TeacherID        string       `json:"teacherId"`
	RoomID           string       `json:"roomId"`
	Day              int          `json:"day"`
	StartPeriod      int          `json:"startPeriod"`
	Duration         int          `json:"duration"`
	IsSubstitute     bool         `json:"isSubstitute"`
	IsExtra          bool         `json:"isExtra"`
	Strategy         StrategyKind `json:"strategy"`
	Session          int          `json:"session"`
	Sessions         int          `json:"sessions"`
}

// EndPeriod returns the last period the assignment occupies.
func (a Assignment) EndPeriod() int {
	return a.StartPeriod + a.Duration - 1
}

// Covers reports whether the assignment occupies the given coordinate.
func (a Assignment) Covers(day, period int) bool {
	return a.Day == day && period >= a.StartPeriod && period <= a.EndPeriod()
}

// Failure records a task no strategy could seat.
type Failure struct {
	Task             Task          `json:"task"`
	Reason           FailureReason `json:"reason"`
	TeacherFreeSlots int           `json:"teacherFreeSlots"`
	GroupFreeSlots   int           `json:"groupFreeSlots"`
}

// attempt is the state of one allocator pass. Every strategy call receives it; nothing outlives it.
type attempt struct {
	grid        Grid
	plan        *Plan
	policy      Policy
	ledger      *Ledger
	rng         *rand.Rand
	aggressive  bool
	useRooms    bool
	allRooms    []string
	roomsByType map[string][]string
}

func newAttempt(grid Grid, plan *Plan, policy Policy, rng *rand.Rand, aggressive bool) *attempt {
	a := &attempt{
		grid:        grid,
		plan:        plan,
		policy:      policy,
		ledger:      NewLedger(grid),
		rng:         rng,
		aggressive:  aggressive,
		useRooms:    len(plan.Rooms) > 0,
		roomsByType: make(map[string][]string),
	}
	for _, room := range plan.Rooms {
		a.allRooms = append(a.allRooms, room.ID)
		key := normalizeRoomType(room.Type)
		a.roomsByType[key] = append(a.roomsByType[key], room.ID)
	}
	return a
}

// run places every task once, in the given order.
func (a *attempt) run(tasks []Task) ([]Assignment, []Failure) {
	var assignments []Assignment
	var failures []Failure
	for _, task := range tasks {
		task = normalizeTask(task)
		if a.useRooms && len(a.roomsFor(task)) == 0 {
			failures = append(failures, a.failure(task, true))
			continue
		}
		placed := false
		for _, kind := range a.policy.Strategies {
			out, ok := a.tryStrategy(kind, task)
			if !ok {
				continue
			}
			assignments = append(assignments, a.book(task, out)...)
			placed = true
			break
		}
		if !placed {
			failures = append(failures, a.failure(task, false))
		}
	}
	return assignments, failures
}

// book commits an outcome to the ledger and converts it to assignments.
func (a *attempt) book(task Task, out outcome) []Assignment {
	assignments := make([]Assignment, 0, len(out.blocks))
	for i, b := range out.blocks {
		a.hold(b, task.GroupID)
		assignments = append(assignments, Assignment{
			TaskID:           task.ID,
			SubjectID:        task.SubjectID,
			SubjectName:      task.SubjectName,
			GroupID:          task.GroupID,
			NominalTeacherID: task.TeacherID,
			TeacherID:        b.teacherID,
			RoomID:           b.roomID,
			Day:              b.day,
			StartPeriod:      b.start,
			Duration:         b.duration,
			IsSubstitute:     out.substitute,
			IsExtra:          out.extra,
			Strategy:         out.strategy,
			Session:          i + 1,
			Sessions:         len(out.blocks),
		})
	}
	return assignments
}

// failure derives the reason from the remaining free slots of the nominal teacher and the group.
func (a *attempt) failure(task Task, noRoom bool) Failure {
	f := Failure{
		Task:             task,
		TeacherFreeSlots: a.ledger.FreeCount(ResourceTeacher, task.TeacherID),
		GroupFreeSlots:   a.ledger.FreeCount(ResourceGroup, task.GroupID),
	}
	switch {
	case f.TeacherFreeSlots < task.Hours:
		f.Reason = ReasonTeacherCapacity
	case f.GroupFreeSlots < task.Hours:
		f.Reason = ReasonGroupCapacity
	case noRoom:
		f.Reason = ReasonNoMatchingRoom
	default:
		f.Reason = ReasonTimeConflict
	}
	return f
}

func normalizeTask(task Task) Task {
	if task.Hours < 1 {
		task.Hours = 1
	}
	if len(task.Splits) == 0 {
		task.Splits = SessionSplits(task.Hours, nil)
	}
	return task
}

func normalizeRoomType(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// --- Priority ---

// Prioritize orders tasks by descending weighted score of nominal-teacher hours, group hours and
// the task's own hours. Ties keep task id order so the result is deterministic.
func Prioritize(tasks []Task, w Weights) []Task {
	teacherHours := make(map[string]int)
	groupHours := make(map[string]int)
	for _, task := range tasks {
		teacherHours[task.TeacherID] += task.Hours
		groupHours[task.GroupID] += task.Hours
	}
	score := func(t Task) int {
		return teacherHours[t.TeacherID]*w.Teacher + groupHours[t.GroupID]*w.Group + t.Hours*w.Task
	}
	ordered := make([]Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := score(ordered[i]), score(ordered[j])
		if si != sj {
			return si > sj
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

// reorder moves the previous attempt's failed tasks to the front, keeping their relative order,
// and shuffles the rest. Without failures the order is kept.
func reorder(tasks []Task, failures []Failure, rng *rand.Rand) []Task {
	if len(failures) == 0 {
		return append([]Task(nil), tasks...)
	}
	failed := make(map[string]bool, len(failures))
	for _, f := range failures {
		failed[f.Task.ID] = true
	}
	front := make([]Task, 0, len(failures))
	rest := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		if failed[task.ID] {
			front = append(front, task)
		} else {
			rest = append(rest, task)
		}
	}
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	return append(front, rest...)
}
