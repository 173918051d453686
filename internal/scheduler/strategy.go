package scheduler

import (
	"sort"
)

// block is one provisional session placement produced by a strategy.
type block struct {
	teacherID string
	roomID    string
	day       int
	start     int
	duration  int
}

// outcome is a complete provisional placement for one task. The ledger is left untouched; the
// allocator books it.
type outcome struct {
	strategy   StrategyKind
	teacherID  string
	substitute bool
	extra      bool
	blocks     []block
}

// tryStrategy runs a single strategy for the task.
func (a *attempt) tryStrategy(kind StrategyKind, task Task) (outcome, bool) {
	switch kind {
	case StrategyDirect:
		return a.placeWithSplits(kind, task, task.TeacherID, task.Splits[:1], nil)
	case StrategyFragment:
		if len(task.Splits) < 2 {
			return outcome{}, false
		}
		return a.placeWithSplits(kind, task, task.TeacherID, task.Splits[1:], nil)
	case StrategySubstitute:
		return a.substitute(kind, task, nil)
	case StrategyFill:
		return a.fill(task)
	case StrategyRelaxed:
		if len(a.policy.Relaxable) == 0 {
			return outcome{}, false
		}
		out, ok := a.placeWithSplits(kind, task, task.TeacherID, task.Splits, a.policy.Relaxable)
		out.extra = ok
		return out, ok
	case StrategySubstituteRelaxed:
		if len(a.policy.Relaxable) == 0 {
			return outcome{}, false
		}
		out, ok := a.substitute(kind, task, a.policy.Relaxable)
		out.extra = ok
		return out, ok
	}
	return outcome{}, false
}

// placeWithSplits tries each split in order and returns the first that seats every session.
func (a *attempt) placeWithSplits(kind StrategyKind, task Task, teacherID string, splits [][]int, relaxed ClassSet) (outcome, bool) {
	for _, split := range splits {
		if blocks, ok := a.placeSplit(task, teacherID, split, relaxed); ok {
			return outcome{strategy: kind, teacherID: teacherID, blocks: blocks}, true
		}
	}
	return outcome{}, false
}

// substitute retries the split search with every alternative teacher, least booked first.
func (a *attempt) substitute(kind StrategyKind, task Task, relaxed ClassSet) (outcome, bool) {
	for _, teacherID := range a.substitutes(task) {
		out, ok := a.placeWithSplits(kind, task, teacherID, task.Splits, relaxed)
		if ok {
			out.substitute = true
			return out, true
		}
	}
	return outcome{}, false
}

func (a *attempt) substitutes(task Task) []string {
	pool := a.plan.SubjectTeachers[task.SubjectID]
	if a.policy.SubstituteScope == SubstituteAnyTeacher {
		pool = a.plan.Teachers
	}
	candidates := make([]string, 0, len(pool))
	for _, id := range pool {
		if id != task.TeacherID {
			candidates = append(candidates, id)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		li := a.ledger.Booked(ResourceTeacher, candidates[i])
		lj := a.ledger.Booked(ResourceTeacher, candidates[j])
		if li != lj {
			return li < lj
		}
		return candidates[i] < candidates[j]
	})
	return candidates
}

// placeSplit seats every session of one split contiguously or none of them. Sessions are held in
// the ledger while later sessions search so that they cannot overlap, then released again.
func (a *attempt) placeSplit(task Task, teacherID string, split []int, relaxed ClassSet) ([]block, bool) {
	rooms := a.roomsFor(task)
	blocks := make([]block, 0, len(split))
	usedDays := make(map[int]bool, len(split))
	defer func() {
		for _, b := range blocks {
			a.release(b, task.GroupID)
		}
	}()

	for _, duration := range split {
		b, ok := a.findBlock(task.GroupID, teacherID, duration, rooms, usedDays, relaxed)
		if !ok {
			return nil, false
		}
		a.hold(b, task.GroupID)
		blocks = append(blocks, b)
		usedDays[b.day] = true
	}
	placed := make([]block, len(blocks))
	copy(placed, blocks)
	return placed, true
}

// findBlock returns the first (day, start, room) where teacher, group and room are free for the
// whole duration. Days already holding a session of the task are tried last.
func (a *attempt) findBlock(groupID, teacherID string, duration int, rooms []string, usedDays map[int]bool, relaxed ClassSet) (block, bool) {
	days := a.dayOrder(groupID)
	sort.SliceStable(days, func(i, j int) bool {
		return !usedDays[days[i]] && usedDays[days[j]]
	})
	for _, day := range days {
		for _, start := range a.startOrder(duration) {
			if !a.spanFree(ResourceTeacher, teacherID, day, start, duration, relaxed) {
				continue
			}
			if !a.spanFree(ResourceGroup, groupID, day, start, duration, relaxed) {
				continue
			}
			for _, room := range a.roomOrder(rooms) {
				if a.useRooms && !a.spanFree(ResourceRoom, room, day, start, duration, relaxed) {
					continue
				}
				return block{teacherID: teacherID, roomID: room, day: day, start: start, duration: duration}, true
			}
		}
	}
	return block{}, false
}

// fill seats the task one period at a time, anywhere outside blackouts, with the nominal teacher.
func (a *attempt) fill(task Task) (outcome, bool) {
	rooms := a.roomsFor(task)
	blocks := make([]block, 0, task.Hours)
	defer func() {
		for _, b := range blocks {
			a.release(b, task.GroupID)
		}
	}()

	for unit := 0; unit < task.Hours; unit++ {
		b, ok := a.findBlock(task.GroupID, task.TeacherID, 1, rooms, nil, nil)
		if !ok {
			return outcome{}, false
		}
		a.hold(b, task.GroupID)
		blocks = append(blocks, b)
	}
	placed := make([]block, len(blocks))
	copy(placed, blocks)
	return outcome{strategy: StrategyFill, teacherID: task.TeacherID, extra: true, blocks: placed}, true
}

func (a *attempt) spanFree(kind ResourceKind, id string, day, start, duration int, relaxed ClassSet) bool {
	for p := start; p < start+duration; p++ {
		if !a.ledger.IsFreeRelaxed(kind, id, day, p, relaxed) {
			return false
		}
	}
	return true
}

func (a *attempt) hold(b block, groupID string) {
	for p := b.start; p < b.start+b.duration; p++ {
		a.ledger.Occupy(ResourceTeacher, b.teacherID, b.day, p)
		a.ledger.Occupy(ResourceGroup, groupID, b.day, p)
		if a.useRooms {
			a.ledger.Occupy(ResourceRoom, b.roomID, b.day, p)
		}
	}
}

func (a *attempt) release(b block, groupID string) {
	for p := b.start; p < b.start+b.duration; p++ {
		a.ledger.Release(ResourceTeacher, b.teacherID, b.day, p)
		a.ledger.Release(ResourceGroup, groupID, b.day, p)
		if a.useRooms {
			a.ledger.Release(ResourceRoom, b.roomID, b.day, p)
		}
	}
}

// --- Scan order ---

// dayOrder lists days by ascending group load, or shuffled in aggressive mode.
func (a *attempt) dayOrder(groupID string) []int {
	days := make([]int, a.grid.Days)
	for i := range days {
		days[i] = i + 1
	}
	if a.aggressive {
		a.rng.Shuffle(len(days), func(i, j int) { days[i], days[j] = days[j], days[i] })
		return days
	}
	sort.SliceStable(days, func(i, j int) bool {
		return a.ledger.DayLoad(ResourceGroup, groupID, days[i]) < a.ledger.DayLoad(ResourceGroup, groupID, days[j])
	})
	return days
}

func (a *attempt) startOrder(duration int) []int {
	last := a.grid.Periods - duration + 1
	if last < 1 {
		return nil
	}
	starts := make([]int, last)
	for i := range starts {
		starts[i] = i + 1
	}
	if a.aggressive {
		a.rng.Shuffle(len(starts), func(i, j int) { starts[i], starts[j] = starts[j], starts[i] })
	}
	return starts
}

func (a *attempt) roomOrder(rooms []string) []string {
	if !a.aggressive || len(rooms) < 2 {
		return rooms
	}
	shuffled := make([]string, len(rooms))
	copy(shuffled, rooms)
	a.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled
}

// roomsFor returns the rooms that satisfy the task's room type. Without any rooms in the dataset a
// single empty room id stands in and the room dimension is not tracked.
func (a *attempt) roomsFor(task Task) []string {
	if !a.useRooms {
		return []string{""}
	}
	if task.RoomType == "" {
		return a.allRooms
	}
	return a.roomsByType[normalizeRoomType(task.RoomType)]
}
