package scheduler

// ResourceKind identifies one of the three independent occupancy dimensions.
type ResourceKind int

const (
	ResourceTeacher ResourceKind = iota
	ResourceGroup
	ResourceRoom
)

// String returns the upper-case dimension label.
func (k ResourceKind) String() string {
	switch k {
	case ResourceTeacher:
		return "TEACHER"
	case ResourceGroup:
		return "GROUP"
	case ResourceRoom:
		return "ROOM"
	}
	return "UNKNOWN"
}

type slotKey struct {
	ID     string
	Day    int
	Period int
}

type loadKey struct {
	ID  string
	Day int
}

// Ledger tracks which (resource, day, period) triples are taken during one attempt.
// Blackout coordinates are closed to every resource from construction and are never released;
// a relaxed query may open selected blackout classes, in which case the booking is recorded in
// the occupancy sets like any other.
type Ledger struct {
	grid      Grid
	blackouts map[Coord]BlackoutClass
	busy      [3]map[slotKey]struct{}
	booked    [3]map[string]int
	dayLoad   [3]map[loadKey]int
}

// NewLedger returns an empty ledger for the grid with its blackouts pre-blocked.
func NewLedger(grid Grid) *Ledger {
	l := &Ledger{
		grid:      grid,
		blackouts: grid.blackoutIndex(),
	}
	for i := range l.busy {
		l.busy[i] = make(map[slotKey]struct{})
		l.booked[i] = make(map[string]int)
		l.dayLoad[i] = make(map[loadKey]int)
	}
	return l
}

// Grid returns the grid the ledger was built for.
func (l *Ledger) Grid() Grid {
	return l.grid
}

// IsFree reports whether the resource may take the coordinate with every blackout enforced.
func (l *Ledger) IsFree(kind ResourceKind, id string, day, period int) bool {
	return l.isFree(kind, id, Coord{Day: day, Period: period}, nil)
}

// IsFreeRelaxed is IsFree with the given blackout classes treated as open.
func (l *Ledger) IsFreeRelaxed(kind ResourceKind, id string, day, period int, relaxed ClassSet) bool {
	return l.isFree(kind, id, Coord{Day: day, Period: period}, relaxed)
}

func (l *Ledger) isFree(kind ResourceKind, id string, c Coord, relaxed ClassSet) bool {
	if !l.grid.Contains(c) {
		return false
	}
	if class, blocked := l.blackouts[c]; blocked && !relaxed.Has(class) {
		return false
	}
	_, taken := l.busy[kind][slotKey{ID: id, Day: c.Day, Period: c.Period}]
	return !taken
}

// Blackout returns the blackout class covering the coordinate, if any.
func (l *Ledger) Blackout(day, period int) (BlackoutClass, bool) {
	class, ok := l.blackouts[Coord{Day: day, Period: period}]
	return class, ok
}

// Occupy marks the triple as taken. Occupying a taken triple is a no-op.
func (l *Ledger) Occupy(kind ResourceKind, id string, day, period int) {
	key := slotKey{ID: id, Day: day, Period: period}
	if _, taken := l.busy[kind][key]; taken {
		return
	}
	l.busy[kind][key] = struct{}{}
	l.booked[kind][id]++
	l.dayLoad[kind][loadKey{ID: id, Day: day}]++
}

// Release frees a previously occupied triple. Blackouts are not part of the occupancy sets and
// therefore cannot be released.
func (l *Ledger) Release(kind ResourceKind, id string, day, period int) {
	key := slotKey{ID: id, Day: day, Period: period}
	if _, taken := l.busy[kind][key]; !taken {
		return
	}
	delete(l.busy[kind], key)
	l.booked[kind][id]--
	l.dayLoad[kind][loadKey{ID: id, Day: day}]--
}

// Booked returns the number of periods the resource holds.
func (l *Ledger) Booked(kind ResourceKind, id string) int {
	return l.booked[kind][id]
}

// DayLoad returns the number of periods the resource holds on the given day.
func (l *Ledger) DayLoad(kind ResourceKind, id string, day int) int {
	return l.dayLoad[kind][loadKey{ID: id, Day: day}]
}

// FreeCount counts coordinates still open to the resource under strict blackouts.
func (l *Ledger) FreeCount(kind ResourceKind, id string) int {
	free := 0
	for day := 1; day <= l.grid.Days; day++ {
		for period := 1; period <= l.grid.Periods; period++ {
			if l.isFree(kind, id, Coord{Day: day, Period: period}, nil) {
				free++
			}
		}
	}
	return free
}
